package snapshottest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nais/hostops/pkg/snapshot"
)

// Factory creates a fresh, empty repository. Implementations that can stamp
// snapshots with an injected clock should use now.
type Factory func(t *testing.T, now func() time.Time) snapshot.Repository

// Run exercises the [snapshot.Repository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("BackupListRestore", func(t *testing.T) {
		clock := newClock()
		repo := factory(t, clock.Now)
		ctx := context.Background()

		src := stage(t, map[string]string{"postgres.sql.gz": "dump", "redis/dump.rdb": "rdb"})
		s, err := repo.Backup(ctx, src, []string{snapshot.TagDatabase, "2026-10-18"})
		if err != nil {
			t.Fatalf("Backup: %v", err)
		}
		if len(s.ID) == 0 {
			t.Fatalf("Backup returned snapshot without id")
		}

		list, err := repo.List(ctx, snapshot.TagDatabase)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 1 || list[0].ID != s.ID {
			t.Fatalf("List = %v, want exactly %s", list, s.ID)
		}

		target := t.TempDir()
		if err := repo.Restore(ctx, s.ID, target, snapshot.TagDatabase); err != nil {
			t.Fatalf("Restore: %v", err)
		}
		if !contains(t, target, "dump.rdb") || !contains(t, target, "postgres.sql.gz") {
			t.Errorf("restored content is missing files")
		}
	})

	t.Run("ListIsScopedAndNewestFirst", func(t *testing.T) {
		clock := newClock()
		repo := factory(t, clock.Now)
		ctx := context.Background()

		var last string
		for i := 0; i < 3; i++ {
			s, err := repo.Backup(ctx, stage(t, map[string]string{"a": "b"}), []string{snapshot.TagDatabase})
			if err != nil {
				t.Fatalf("Backup: %v", err)
			}
			last = s.ID
			clock.Advance(time.Hour)
		}
		if _, err := repo.Backup(ctx, stage(t, map[string]string{"a": "b"}), []string{snapshot.TagVolumes}); err != nil {
			t.Fatalf("Backup: %v", err)
		}

		list, err := repo.List(ctx, snapshot.TagDatabase)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("List returned %d snapshots, want 3", len(list))
		}
		if list[0].ID != last {
			t.Errorf("List[0] = %s, want newest %s", list[0].ID, last)
		}
	})

	t.Run("ForgetIsScopedToTag", func(t *testing.T) {
		clock := newClock()
		repo := factory(t, clock.Now)
		ctx := context.Background()

		for day := 0; day < 20; day++ {
			for _, tag := range []string{snapshot.TagDatabase, snapshot.TagVolumes} {
				if _, err := repo.Backup(ctx, stage(t, map[string]string{"a": tag}), []string{tag}); err != nil {
					t.Fatalf("Backup: %v", err)
				}
			}
			clock.Advance(24 * time.Hour)
		}

		removed, err := repo.Forget(ctx, snapshot.RetentionPolicy{KeepDaily: 2}, snapshot.TagDatabase)
		if err != nil {
			t.Fatalf("Forget: %v", err)
		}
		if len(removed) != 18 {
			t.Errorf("Forget removed %d snapshots, want 18", len(removed))
		}

		volumes, err := repo.List(ctx, snapshot.TagVolumes)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(volumes) != 20 {
			t.Errorf("Forget on %q removed %q snapshots: %d left, want 20", snapshot.TagDatabase, snapshot.TagVolumes, len(volumes))
		}
	})

	t.Run("RestoreUnknown", func(t *testing.T) {
		repo := factory(t, newClock().Now)
		err := repo.Restore(context.Background(), "nonexistent", t.TempDir(), snapshot.TagDatabase)
		if !errors.Is(err, snapshot.ErrSnapshotNotFound) {
			t.Fatalf("Restore: got %v, want ErrSnapshotNotFound", err)
		}
	})
}

type clock struct {
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 9, 1, 2, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func stage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func contains(t *testing.T, root, name string) bool {
	t.Helper()
	found := false
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.Name() == name {
			found = true
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return found
}
