// Package backup produces point-in-time snapshots of the stateful services and host
// configuration, uploads them to the snapshot repository and applies retention.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nais/hostops/pkg/exitcode"
	"github.com/nais/hostops/pkg/metrics"
	"github.com/nais/hostops/pkg/poll"
	"github.com/nais/hostops/pkg/runtime"
	"github.com/nais/hostops/pkg/snapshot"
	"github.com/nais/hostops/pkg/telemetry"
)

const (
	DefaultSaveWaitInterval = time.Second
	DefaultSaveWaitAttempts = 30
)

var (
	ErrServiceUnavailable = errors.New("service is not running")
	ErrDumpFailed         = errors.New("dump failed")
	ErrUploadFailed       = errors.New("upload failed")
	ErrRetentionFailed    = errors.New("retention failed")
)

// DefaultVolumePrefixes selects the persistent volumes archived by volume backups.
var DefaultVolumePrefixes = []string{"app-", "data-", "uploads-"}

// DefaultSpecExcludes are kept out of the service specification archive.
var DefaultSpecExcludes = []string{"secrets", "*.secret", ".env", "*.env", "logs", "*.log"}

type Database interface {
	Service() string
	Running(ctx context.Context) (bool, error)
	DumpAll(ctx context.Context, w io.Writer) error
}

type KeyValueStore interface {
	Service() string
	Running(ctx context.Context) (bool, error)
	LastSave(ctx context.Context) (time.Time, error)
	BgSave(ctx context.Context) error
	CopyPersistenceFile(ctx context.Context, w io.Writer) error
}

type Engine struct {
	Repository snapshot.Repository
	Retention  snapshot.RetentionPolicy

	// Database backups.
	Database Database
	KeyValue KeyValueStore
	SaveWait poll.Config

	// Volume backups.
	Volumes          runtime.Volumes
	VolumePrefixes   []string
	CertificateStore string
	SpecRoot         string
	SpecExcludes     []string

	// Parent of the per-run staging directory. Defaults to os.TempDir().
	StagingRoot string

	// Stage and report only; nothing is uploaded or pruned.
	DryRun bool

	// Now defaults to time.Now.
	Now func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) retention() snapshot.RetentionPolicy {
	if e.Retention.Empty() {
		return snapshot.DefaultRetention
	}
	return e.Retention
}

func (e *Engine) saveWait() poll.Config {
	cfg := e.SaveWait
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSaveWaitInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultSaveWaitAttempts
	}
	// A save issued a moment ago cannot have finished yet.
	cfg.Delayed = true
	return cfg
}

// RunDatabases backs up the relational and key-value stores under tag "database".
func (e *Engine) RunDatabases(ctx context.Context) (*Set, error) {
	return e.Run(ctx, KindDatabase)
}

// RunVolumes backs up certificates, service specifications and data volumes under tag "volumes".
func (e *Engine) RunVolumes(ctx context.Context) (*Set, error) {
	return e.Run(ctx, KindVolumes)
}

// Run stages, uploads and prunes one backup set. The staging directory is removed on every path.
// Per-artifact failures are recorded in the set; only dump, upload and retention failures are returned.
func (e *Engine) Run(ctx context.Context, kind Kind) (*Set, error) {
	if !kind.Valid() {
		return nil, exitcode.Errorf(exitcode.InvocationFailure, "unknown backup kind %q", kind)
	}

	started := e.now()
	set := &Set{
		ID:        uuid.New().String(),
		Timestamp: started,
		Tag:       kind,
		DateTag:   snapshot.DateTag(started),
		DryRun:    e.DryRun,
	}
	logger := log.WithFields(log.Fields{
		"kind":   kind,
		"run_id": set.ID,
	})

	ctx, span := telemetry.Tracer().Start(ctx, "Backup "+string(kind))
	span.SetAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("run_id", set.ID),
	)

	err := e.run(ctx, logger, set)

	telemetry.EndStep(span, err)
	metrics.BackupRun(string(kind), set.Size(), err, e.now())

	if err != nil {
		logger.Error(set.Summary() + ": " + err.Error())
		return set, err
	}
	logger.Info(set.Summary())
	return set, nil
}

func (e *Engine) run(ctx context.Context, logger *log.Entry, set *Set) error {
	staging, err := os.MkdirTemp(e.StagingRoot, "hostops-"+string(set.Tag)+"-")
	if err != nil {
		return exitcode.Errorf(exitcode.InternalError, "create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			logger.Warnf("Unable to remove staging directory %s: %s", staging, err)
		} else {
			logger.Debugf("Removed staging directory %s", staging)
		}
	}()
	logger.Debugf("Staging in %s", staging)

	switch set.Tag {
	case KindDatabase:
		err = e.collectDatabases(ctx, logger, staging, set)
	case KindVolumes:
		e.collectVolumes(ctx, logger, staging, set)
	}
	if err != nil {
		return exitcode.ErrorWrap(exitcode.DumpFailed, err)
	}

	if len(set.Artifacts) == 0 {
		logger.Warnf("Nothing was staged; skipping upload and retention")
		return nil
	}

	if e.DryRun {
		for _, a := range set.Artifacts {
			logger.Infof("[dry run] would upload %s (%d bytes)", a.Path, a.Size)
		}
		logger.Infof("[dry run] would tag snapshot %v and apply retention %s to %q", set.Tags(), e.retention(), set.Tag)
		return nil
	}

	err = e.upload(ctx, logger, staging, set)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.UploadFailed, err)
	}

	err = e.prune(ctx, logger, set)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.RetentionFailed, err)
	}
	return nil
}

func (e *Engine) upload(ctx context.Context, logger *log.Entry, staging string, set *Set) error {
	ctx, span := telemetry.StartStep(ctx, "upload", attribute.Int("artifacts", len(set.Artifacts)))
	start := e.now()

	s, err := e.Repository.Backup(ctx, staging, set.Tags())
	fields := log.Fields{"step": "upload", "duration": e.now().Sub(start)}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
		fields["outcome"] = "failed"
		logger.WithFields(fields).Error(err)
		telemetry.EndStep(span, err)
		return err
	}

	set.Snapshot = s
	fields["outcome"] = "ok"
	logger.WithFields(fields).Infof("Uploaded snapshot %s tagged %v", s.ShortID, set.Tags())
	telemetry.EndStep(span, nil)
	return nil
}

// prune runs strictly after a successful upload and only ever against the set's own tag.
func (e *Engine) prune(ctx context.Context, logger *log.Entry, set *Set) error {
	policy := e.retention()
	ctx, span := telemetry.StartStep(ctx, "retention", attribute.String("policy", policy.String()))
	start := e.now()

	removed, err := e.Repository.Forget(ctx, policy, string(set.Tag))
	fields := log.Fields{"step": "retention", "duration": e.now().Sub(start)}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRetentionFailed, err)
		fields["outcome"] = "failed"
		logger.WithFields(fields).Error(err)
		telemetry.EndStep(span, err)
		return err
	}

	set.Removed = removed
	fields["outcome"] = "ok"
	logger.WithFields(fields).Infof("Retention %s on %q removed %d snapshots", policy, set.Tag, len(removed))
	telemetry.EndStep(span, nil)
	return nil
}
