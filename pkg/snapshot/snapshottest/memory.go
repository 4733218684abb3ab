// Package snapshottest provides an in-memory [snapshot.Repository] and contract tests
// for repository implementations.
package snapshottest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nais/hostops/pkg/snapshot"
)

type stored struct {
	snapshot.Snapshot
	files map[string][]byte
}

// Memory keeps snapshots, including file contents, in memory.
type Memory struct {
	// Now stamps new snapshots. Defaults to time.Now.
	Now func() time.Time

	// Injected failures.
	BackupErr  error
	ListErr    error
	RestoreErr error
	ForgetErr  error

	mu        sync.Mutex
	snapshots []stored
	backups   int
	restores  []string
	forgets   []string
}

var _ snapshot.Repository = &Memory{}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// Add seeds a snapshot directly, bypassing Backup.
func (m *Memory) Add(s snapshot.Snapshot, files map[string][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(s.ShortID) == 0 && len(s.ID) >= 8 {
		s.ShortID = s.ID[:8]
	}
	m.snapshots = append(m.snapshots, stored{Snapshot: s, files: files})
}

func (m *Memory) Backup(ctx context.Context, sourceDir string, tags []string) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.backups++
	if m.BackupErr != nil {
		return nil, m.BackupErr
	}

	files := make(map[string][]byte)
	err := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		files[rel], err = os.ReadFile(path)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sourceDir, err)
	}

	ts := m.now()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d/%s/%v", len(m.snapshots), ts.Format(time.RFC3339Nano), tags)))
	id := hex.EncodeToString(sum[:])
	s := snapshot.Snapshot{
		ID:       id,
		ShortID:  id[:8],
		Time:     ts,
		Tags:     append([]string(nil), tags...),
		Paths:    []string{sourceDir},
		Hostname: "memory",
	}
	m.snapshots = append(m.snapshots, stored{Snapshot: s, files: files})
	return &s, nil
}

func (m *Memory) List(ctx context.Context, tag string) ([]snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	list := make([]snapshot.Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		if len(tag) == 0 || s.HasTag(tag) {
			list = append(list, s.Snapshot)
		}
	}
	snapshot.SortNewestFirst(list)
	return list, nil
}

func (m *Memory) Restore(ctx context.Context, id, targetDir, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.restores = append(m.restores, id)
	if m.RestoreErr != nil {
		return m.RestoreErr
	}
	for _, s := range m.snapshots {
		if s.ID != id || (len(tag) > 0 && !s.HasTag(tag)) {
			continue
		}
		for rel, data := range s.files {
			path := filepath.Join(targetDir, rel)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", snapshot.ErrSnapshotNotFound, id)
}

func (m *Memory) Forget(ctx context.Context, policy snapshot.RetentionPolicy, tag string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.forgets = append(m.forgets, tag)
	if m.ForgetErr != nil {
		return nil, m.ForgetErr
	}

	var scoped []snapshot.Snapshot
	for _, s := range m.snapshots {
		if s.HasTag(tag) {
			scoped = append(scoped, s.Snapshot)
		}
	}
	_, remove := snapshot.PlanRetention(scoped, policy)

	removed := make(map[string]bool, len(remove))
	ids := make([]string, 0, len(remove))
	for _, s := range remove {
		removed[s.ID] = true
		ids = append(ids, s.ID)
	}

	kept := m.snapshots[:0]
	for _, s := range m.snapshots {
		if !removed[s.ID] {
			kept = append(kept, s)
		}
	}
	m.snapshots = kept
	return ids, nil
}

// Backups is the number of Backup calls, failed ones included.
func (m *Memory) Backups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backups
}

// Restores lists the snapshot ids passed to Restore.
func (m *Memory) Restores() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.restores...)
}

// Forgets lists the tags passed to Forget, in call order.
func (m *Memory) Forgets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.forgets...)
}

// Files returns the content stored in snapshot id.
func (m *Memory) Files(id string) map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshots {
		if s.ID == id {
			return s.files
		}
	}
	return nil
}
