// Package restore brings a database snapshot back: it resolves the selector, stages the
// snapshot content, and only after confirmation replaces the live relational and key-value data.
package restore

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nais/hostops/pkg/backup"
	"github.com/nais/hostops/pkg/confirm"
	"github.com/nais/hostops/pkg/exitcode"
	"github.com/nais/hostops/pkg/metrics"
	"github.com/nais/hostops/pkg/poll"
	"github.com/nais/hostops/pkg/snapshot"
	"github.com/nais/hostops/pkg/telemetry"
)

const (
	DefaultReadinessInterval = 2 * time.Second
	DefaultReadinessAttempts = 30
)

var (
	ErrNoDumpFound         = errors.New("no database dump found in snapshot")
	ErrServiceNotReady     = errors.New("database did not become ready")
	ErrReplayFailed        = errors.New("replaying the dump failed")
	ErrKeyValueNotReplaced = errors.New("replacing the key-value data failed")
)

type Database interface {
	Service() string
	Running(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Ready(ctx context.Context) error
	BlockConnections(ctx context.Context, database string) (func(context.Context) error, error)
	TerminateConnections(ctx context.Context, database string) (int, error)
	Replay(ctx context.Context, database string, dump io.Reader) error
}

type KeyValueStore interface {
	Service() string
	Replace(ctx context.Context, rdb io.Reader) error
}

type Confirmer interface {
	Confirm(ctx context.Context, warning string) error
}

type Engine struct {
	Repository snapshot.Repository
	Database   Database
	// Optional. Without it, key-value dumps in the snapshot are reported as skipped.
	KeyValue KeyValueStore
	// Asked once, right before the first destructive step. Nil refuses.
	Confirmer Confirmer

	// Database the dump is replayed through. Empty means the full cluster.
	TargetDatabase string
	Readiness      poll.Config
	StagingRoot    string

	// Now defaults to time.Now.
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) readiness() poll.Config {
	cfg := e.Readiness
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReadinessInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultReadinessAttempts
	}
	return cfg
}

func (e *Engine) confirmer() Confirmer {
	if e.Confirmer == nil {
		return confirm.Refuse{}
	}
	return e.Confirmer
}

// List returns the database snapshots, newest first.
func (e *Engine) List(ctx context.Context) ([]snapshot.Snapshot, error) {
	return e.Repository.List(ctx, snapshot.TagDatabase)
}

// Restore replaces the live data with the content of the snapshot selector resolves to.
// Nothing destructive happens before the snapshot is staged, a dump is found and the
// operator confirmed.
func (e *Engine) Restore(ctx context.Context, selector string) (*Outcome, error) {
	out := &Outcome{
		ID:        uuid.New().String(),
		Selector:  selector,
		Database:  e.TargetDatabase,
		StartedAt: e.now(),
	}
	logger := log.WithFields(log.Fields{
		"kind":   snapshot.TagDatabase,
		"run_id": out.ID,
	})

	ctx, span := telemetry.Tracer().Start(ctx, "Restore "+snapshot.TagDatabase)
	span.SetAttributes(
		attribute.String("selector", selector),
		attribute.String("run_id", out.ID),
	)

	err := e.restore(ctx, logger, selector, out)

	out.Duration = e.now().Sub(out.StartedAt)
	out.Err = err
	telemetry.EndStep(span, err)
	metrics.Restore(err)

	if err != nil {
		logger.Error(out.Summary())
		return out, err
	}
	logger.Info(out.Summary())
	return out, nil
}

func (e *Engine) restore(ctx context.Context, logger *log.Entry, selector string, out *Outcome) error {
	snapshots, err := e.List(ctx)
	if err != nil {
		return exitcode.Errorf(exitcode.RestoreFailed, "list snapshots: %w", err)
	}
	selected, err := snapshot.Resolve(snapshots, selector)
	switch {
	case errors.Is(err, snapshot.ErrSnapshotNotFound):
		return exitcode.ErrorWrap(exitcode.SnapshotNotFound, err)
	case err != nil:
		return exitcode.ErrorWrap(exitcode.InvocationFailure, err)
	}
	out.Snapshot = selected
	logger.Infof("Selected snapshot %s", selected)

	staging, err := os.MkdirTemp(e.StagingRoot, "hostops-restore-")
	if err != nil {
		return exitcode.Errorf(exitcode.InternalError, "create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warnf("Unable to remove staging directory %s: %s", staging, err)
		}
	}()

	err = e.stage(ctx, logger, selected, staging)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.RestoreFailed, err)
	}

	out.DumpFile, err = newest(staging, backup.SQLDumpSuffix)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.RestoreFailed, err)
	}
	if len(out.DumpFile) == 0 {
		return exitcode.Errorf(exitcode.NoDumpFound, "%w: snapshot %s has no *%s file", ErrNoDumpFound, selected.ShortID, backup.SQLDumpSuffix)
	}
	out.KeyValueFile, err = newest(staging, backup.KeyValueDumpSuffix)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.RestoreFailed, err)
	}

	err = e.confirmer().Confirm(ctx, out.Warning(e.Database.Service(), e.keyValueService()))
	if err != nil {
		return exitcode.ErrorWrap(exitcode.ConfirmationRequired, err)
	}

	err = e.replaceDatabase(ctx, logger, out)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.RestoreFailed, err)
	}

	err = e.replaceKeyValue(ctx, logger, out)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.RestoreFailed, err)
	}
	return nil
}

func (e *Engine) keyValueService() string {
	if e.KeyValue == nil {
		return ""
	}
	return e.KeyValue.Service()
}

func (e *Engine) stage(ctx context.Context, logger *log.Entry, selected *snapshot.Snapshot, staging string) error {
	ctx, span := telemetry.StartStep(ctx, "stage", attribute.String("snapshot", selected.ID))
	start := e.now()
	err := e.Repository.Restore(ctx, selected.ID, staging, snapshot.TagDatabase)
	fields := log.Fields{"step": "stage", "duration": e.now().Sub(start)}
	telemetry.EndStep(span, err)
	if err != nil {
		fields["outcome"] = "failed"
		logger.WithFields(fields).Error(err)
		return fmt.Errorf("restore %s to staging: %w", selected.ShortID, err)
	}
	fields["outcome"] = "ok"
	logger.WithFields(fields).Infof("Restored snapshot %s to %s", selected.ShortID, staging)
	return nil
}

// newest finds the most recently modified file whose name ends in suffix, by name on ties.
func newest(root, suffix string) (string, error) {
	var best string
	var bestTime time.Time
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mod := info.ModTime()
		if len(best) == 0 || mod.After(bestTime) || (mod.Equal(bestTime) && filepath.Base(path) > filepath.Base(best)) {
			best = path
			bestTime = mod
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("search staged files: %w", err)
	}
	return best, nil
}

func (e *Engine) ensureReady(ctx context.Context, logger *log.Entry) error {
	name := e.Database.Service()
	running, err := e.Database.Running(ctx)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", name, err)
	}
	if !running {
		logger.Infof("%s is not running; starting it", name)
		if err := e.Database.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}

	cfg := e.readiness()
	cfg.Notify = func(err error, attempt int) {
		logger.Debugf("%s not ready (attempt %d/%d): %s", name, attempt, cfg.MaxAttempts, err)
	}
	attempts, err := poll.Until(ctx, cfg, func(ctx context.Context) (bool, error) {
		if err := e.Database.Ready(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrServiceNotReady, name, err)
	}
	logger.Debugf("%s ready after %d attempts", name, attempts)
	return nil
}

func (e *Engine) replaceDatabase(ctx context.Context, logger *log.Entry, out *Outcome) error {
	name := e.Database.Service()
	ctx, span := telemetry.StartStep(ctx, "replay", attribute.String("service", name))
	start := e.now()
	fields := func(outcome string) log.Fields {
		return log.Fields{"step": "replay", "service": name, "outcome": outcome, "duration": e.now().Sub(start)}
	}

	err := e.ensureReady(ctx, logger)
	if err != nil {
		logger.WithFields(fields("failed")).Error(err)
		telemetry.EndStep(span, err)
		return err
	}

	err = e.replay(ctx, logger, out)
	telemetry.EndStep(span, err)
	if err != nil {
		logger.WithFields(fields("failed")).Error(err)
		return err
	}

	out.restored(name)
	logger.WithFields(fields("ok")).Infof("Replayed %s into %s", filepath.Base(out.DumpFile), name)
	return nil
}

func (e *Engine) replay(ctx context.Context, logger *log.Entry, out *Outcome) error {
	unblock, err := e.Database.BlockConnections(ctx, e.TargetDatabase)
	if err != nil {
		return err
	}
	defer func() {
		if err := unblock(context.WithoutCancel(ctx)); err != nil {
			logger.Errorf("Unable to allow connections again: %s", err)
		}
	}()

	out.Terminated, err = e.Database.TerminateConnections(ctx, e.TargetDatabase)
	if err != nil {
		return err
	}
	logger.Infof("Terminated %d active connections", out.Terminated)

	f, err := os.Open(out.DumpFile)
	if err != nil {
		return err
	}
	defer f.Close()
	dump, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReplayFailed, filepath.Base(out.DumpFile), err)
	}
	defer dump.Close()

	err = e.Database.Replay(ctx, e.TargetDatabase, dump)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReplayFailed, err)
	}
	return nil
}

func (e *Engine) replaceKeyValue(ctx context.Context, logger *log.Entry, out *Outcome) error {
	switch {
	case len(out.KeyValueFile) == 0:
		out.skipped("key-value", "no key-value dump in snapshot")
		logger.Infof("Snapshot holds no key-value dump; leaving the key-value store as is")
		return nil
	case e.KeyValue == nil:
		out.skipped("key-value", "no key-value store configured")
		logger.Warnf("Snapshot holds %s but no key-value store is configured", filepath.Base(out.KeyValueFile))
		return nil
	}

	name := e.KeyValue.Service()
	ctx, span := telemetry.StartStep(ctx, "kv-replace", attribute.String("service", name))
	start := e.now()

	f, err := os.Open(out.KeyValueFile)
	if err == nil {
		err = e.KeyValue.Replace(ctx, f)
		f.Close()
	}
	fields := log.Fields{"step": "kv-replace", "service": name, "duration": e.now().Sub(start)}
	telemetry.EndStep(span, err)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrKeyValueNotReplaced, name, err)
		fields["outcome"] = "failed"
		logger.WithFields(fields).Error(err)
		return err
	}

	out.restored(name)
	fields["outcome"] = "ok"
	logger.WithFields(fields).Infof("Replaced %s data with %s", name, filepath.Base(out.KeyValueFile))
	return nil
}
