package restore_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nais/hostops/pkg/confirm"
	"github.com/nais/hostops/pkg/exitcode"
	"github.com/nais/hostops/pkg/poll"
	"github.com/nais/hostops/pkg/restore"
	"github.com/nais/hostops/pkg/snapshot"
	"github.com/nais/hostops/pkg/snapshot/snapshottest"
)

type fakeDatabase struct {
	running     bool
	notReadyFor int
	replayErr   error

	calls    []string
	replayed string
}

func (f *fakeDatabase) Service() string { return "postgres" }

func (f *fakeDatabase) Running(ctx context.Context) (bool, error) {
	return f.running, nil
}

func (f *fakeDatabase) Start(ctx context.Context) error {
	f.calls = append(f.calls, "start")
	f.running = true
	return nil
}

func (f *fakeDatabase) Ready(ctx context.Context) error {
	f.calls = append(f.calls, "ready")
	if f.notReadyFor != 0 {
		f.notReadyFor--
		return errors.New("the database system is starting up")
	}
	return nil
}

func (f *fakeDatabase) BlockConnections(ctx context.Context, database string) (func(context.Context) error, error) {
	f.calls = append(f.calls, "block")
	return func(context.Context) error {
		f.calls = append(f.calls, "unblock")
		return nil
	}, nil
}

func (f *fakeDatabase) TerminateConnections(ctx context.Context, database string) (int, error) {
	f.calls = append(f.calls, "terminate")
	return 2, nil
}

func (f *fakeDatabase) Replay(ctx context.Context, database string, dump io.Reader) error {
	f.calls = append(f.calls, "replay")
	data, err := io.ReadAll(dump)
	if err != nil {
		return err
	}
	f.replayed = string(data)
	return f.replayErr
}

// destructive lists the calls that change live data or connections.
func (f *fakeDatabase) destructive() []string {
	var out []string
	for _, c := range f.calls {
		if c == "terminate" || c == "replay" || c == "block" {
			out = append(out, c)
		}
	}
	return out
}

type fakeKeyValue struct {
	replaced string
	err      error
}

func (f *fakeKeyValue) Service() string { return "redis" }

func (f *fakeKeyValue) Replace(ctx context.Context, rdb io.Reader) error {
	data, err := io.ReadAll(rdb)
	if err != nil {
		return err
	}
	f.replaced = string(data)
	return f.err
}

type fakeConfirmer struct {
	err      error
	warnings []string
}

func (f *fakeConfirmer) Confirm(ctx context.Context, warning string) error {
	f.warnings = append(f.warnings, warning)
	return f.err
}

func gz(t *testing.T, s string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := gzip.NewWriter(buf)
	_, err := io.WriteString(w, s)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fixture struct {
	repo      *snapshottest.Memory
	db        *fakeDatabase
	kv        *fakeKeyValue
	confirmer *fakeConfirmer
	engine    *restore.Engine
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		repo:      snapshottest.NewMemory(),
		db:        &fakeDatabase{running: true},
		kv:        &fakeKeyValue{},
		confirmer: &fakeConfirmer{},
	}
	f.engine = &restore.Engine{
		Repository:  f.repo,
		Database:    f.db,
		KeyValue:    f.kv,
		Confirmer:   f.confirmer,
		Readiness:   poll.Config{Interval: time.Millisecond, MaxAttempts: 5},
		StagingRoot: t.TempDir(),
	}

	day := func(d int) time.Time { return time.Date(2026, 10, d, 2, 0, 0, 0, time.UTC) }
	f.repo.Add(snapshot.Snapshot{ID: "aaaa0000aaaa0000", Time: day(16), Tags: []string{"database", "2026-10-16"}},
		map[string][]byte{
			"postgres-20261016T020000Z.sql.gz": gz(t, "-- 16th"),
			"redis-20261016T020000Z.rdb":       []byte("REDIS-16"),
		})
	f.repo.Add(snapshot.Snapshot{ID: "bbbb1111bbbb1111", Time: day(18), Tags: []string{"database", "2026-10-18"}},
		map[string][]byte{
			"postgres-20261018T020000Z.sql.gz": gz(t, "-- 18th"),
			"redis-20261018T020000Z.rdb":       []byte("REDIS-18"),
		})
	f.repo.Add(snapshot.Snapshot{ID: "cccc2222cccc2222", Time: day(17), Tags: []string{"database", "2026-10-17"}},
		map[string][]byte{
			"postgres-20261017T020000Z.sql.gz": gz(t, "-- 17th"),
		})
	f.repo.Add(snapshot.Snapshot{ID: "dddd3333dddd3333", Time: day(18).Add(time.Hour), Tags: []string{"volumes", "2026-10-18"}},
		map[string][]byte{"app-shop.tar.gz": gz(t, "tar")})
	return f
}

func TestRestoreLatest(t *testing.T) {
	f := newFixture(t)

	out, err := f.engine.Restore(context.Background(), snapshot.Latest)

	require.NoError(t, err)
	assert.Equal(t, "bbbb1111bbbb1111", out.Snapshot.ID, "latest is the newest database snapshot")
	assert.Equal(t, "-- 18th", f.db.replayed)
	assert.Equal(t, "REDIS-18", f.kv.replaced)
	assert.Equal(t, []string{"postgres", "redis"}, out.Restored)
	assert.Empty(t, out.Skipped)
	assert.Equal(t, 2, out.Terminated)
	assert.Equal(t, []string{"ready", "block", "terminate", "replay", "unblock"}, f.db.calls)
	require.Len(t, f.confirmer.warnings, 1)
	assert.Contains(t, f.confirmer.warnings[0], "every database in the cluster")
	assert.Contains(t, f.confirmer.warnings[0], "redis will be stopped")
}

func TestRestoreByShortID(t *testing.T) {
	f := newFixture(t)

	out, err := f.engine.Restore(context.Background(), "cccc2222")

	require.NoError(t, err)
	assert.Equal(t, "-- 17th", f.db.replayed)
	assert.Empty(t, f.kv.replaced)
	assert.Equal(t, []string{"postgres"}, out.Restored)
	require.Len(t, out.Skipped, 1)
	assert.Equal(t, "no key-value dump in snapshot", out.Skipped[0].Reason)
	assert.Contains(t, out.Summary(), "skipped key-value")
}

func TestRestoreUnknownSnapshotTouchesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Restore(context.Background(), "nonexistent-id")

	assert.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)
	assert.Equal(t, exitcode.SnapshotNotFound, exitcode.ErrorExitCode(err))
	assert.Empty(t, f.db.calls)
	assert.Empty(t, f.kv.replaced)
	assert.Empty(t, f.repo.Restores())
	assert.Empty(t, f.confirmer.warnings)
}

func TestRestoreVolumesSnapshotIsNotSelectable(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Restore(context.Background(), "dddd3333")

	assert.Equal(t, exitcode.SnapshotNotFound, exitcode.ErrorExitCode(err))
	assert.Empty(t, f.db.calls)
}

func TestRestoreWithoutDumpIsNotDestructive(t *testing.T) {
	f := newFixture(t)
	f.repo.Add(snapshot.Snapshot{ID: "eeee4444eeee4444", Time: time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC), Tags: []string{"database"}},
		map[string][]byte{"redis-20261019T020000Z.rdb": []byte("REDIS-19")})

	_, err := f.engine.Restore(context.Background(), snapshot.Latest)

	assert.ErrorIs(t, err, restore.ErrNoDumpFound)
	assert.Equal(t, exitcode.NoDumpFound, exitcode.ErrorExitCode(err))
	assert.Empty(t, f.db.destructive())
	assert.Empty(t, f.kv.replaced)
	assert.Empty(t, f.confirmer.warnings)
	assert.Equal(t, []string{"eeee4444eeee4444"}, f.repo.Restores())
}

func TestRestoreRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	f.confirmer.err = confirm.ErrConfirmationRequired

	_, err := f.engine.Restore(context.Background(), snapshot.Latest)

	assert.Equal(t, exitcode.ConfirmationRequired, exitcode.ErrorExitCode(err))
	assert.Empty(t, f.db.calls)
	assert.Empty(t, f.kv.replaced)
}

func TestRestoreWithoutConfirmerRefuses(t *testing.T) {
	f := newFixture(t)
	f.engine.Confirmer = nil

	_, err := f.engine.Restore(context.Background(), snapshot.Latest)

	assert.ErrorIs(t, err, confirm.ErrConfirmationRequired)
	assert.Empty(t, f.db.calls)
}

func TestRestoreStartsDatabaseAndWaitsForReadiness(t *testing.T) {
	f := newFixture(t)
	f.db.running = false
	f.db.notReadyFor = 2

	_, err := f.engine.Restore(context.Background(), snapshot.Latest)

	require.NoError(t, err)
	assert.Equal(t, []string{"start", "ready", "ready", "ready", "block", "terminate", "replay", "unblock"}, f.db.calls)
}

func TestRestoreDatabaseNeverReady(t *testing.T) {
	f := newFixture(t)
	f.db.notReadyFor = -1

	out, err := f.engine.Restore(context.Background(), snapshot.Latest)

	assert.ErrorIs(t, err, restore.ErrServiceNotReady)
	assert.ErrorIs(t, err, poll.ErrExhausted)
	assert.Equal(t, exitcode.RestoreFailed, exitcode.ErrorExitCode(err))
	assert.Empty(t, f.db.destructive())
	assert.Empty(t, out.Restored)
}

func TestRestoreReplayFailureKeepsKeyValue(t *testing.T) {
	f := newFixture(t)
	f.db.replayErr = errors.New("psql: exit status 3")

	out, err := f.engine.Restore(context.Background(), snapshot.Latest)

	assert.ErrorIs(t, err, restore.ErrReplayFailed)
	assert.Equal(t, exitcode.RestoreFailed, exitcode.ErrorExitCode(err))
	assert.Contains(t, f.db.calls, "unblock")
	assert.Empty(t, f.kv.replaced)
	assert.Empty(t, out.Restored)
}

func TestRestoreWithoutKeyValueStore(t *testing.T) {
	f := newFixture(t)
	f.engine.KeyValue = nil

	out, err := f.engine.Restore(context.Background(), snapshot.Latest)

	require.NoError(t, err)
	assert.Equal(t, []string{"postgres"}, out.Restored)
	assert.Equal(t, "no key-value store configured", out.Skipped[0].Reason)
}

func TestRestoreAmbiguousSelector(t *testing.T) {
	f := newFixture(t)
	f.repo.Add(snapshot.Snapshot{ID: "aaaa9999", Time: time.Date(2026, 10, 1, 2, 0, 0, 0, time.UTC), Tags: []string{"database"}}, nil)

	_, err := f.engine.Restore(context.Background(), "aaaa")

	assert.ErrorIs(t, err, snapshot.ErrAmbiguousSelector)
	assert.Equal(t, exitcode.InvocationFailure, exitcode.ErrorExitCode(err))
	assert.Empty(t, f.db.calls)
}

func TestRestoreSingleDatabase(t *testing.T) {
	f := newFixture(t)
	f.engine.TargetDatabase = "shop"

	out, err := f.engine.Restore(context.Background(), snapshot.Latest)

	require.NoError(t, err)
	assert.Equal(t, "shop", out.Database)
	assert.Contains(t, f.confirmer.warnings[0], `database "shop"`)
}
