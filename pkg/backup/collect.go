package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nais/hostops/pkg/poll"
	"github.com/nais/hostops/pkg/telemetry"
)

const stampLayout = "20060102T150405Z"

// Artifact file name suffixes. Restores look for the newest file of each.
const (
	SQLDumpSuffix      = ".sql.gz"
	KeyValueDumpSuffix = ".rdb"
)

func stamp(set *Set) string {
	return set.Timestamp.UTC().Format(stampLayout)
}

func (e *Engine) collectDatabases(ctx context.Context, logger *log.Entry, staging string, set *Set) error {
	if e.Database != nil {
		err := e.dumpDatabase(ctx, logger, staging, set)
		if err != nil {
			return err
		}
	}
	if e.KeyValue != nil {
		e.dumpKeyValue(ctx, logger, staging, set)
	}
	return nil
}

// dumpDatabase returns an error only when a running database fails to dump.
func (e *Engine) dumpDatabase(ctx context.Context, logger *log.Entry, staging string, set *Set) error {
	name := e.Database.Service()
	logger = logger.WithField("service", name)

	running, err := e.Database.Running(ctx)
	if err != nil || !running {
		reason := fmt.Errorf("%w: %s", ErrServiceUnavailable, name)
		if err != nil {
			reason = fmt.Errorf("%w: %w", reason, err)
		}
		logger.WithFields(log.Fields{"step": "dump", "outcome": "skipped"}).Warn(reason)
		set.skip(name, ArtifactSQLDump, reason)
		return nil
	}

	ctx, span := telemetry.StartStep(ctx, "dump", attribute.String("service", name))
	path := filepath.Join(staging, fmt.Sprintf("%s-%s%s", name, stamp(set), SQLDumpSuffix))
	start := e.now()

	err = writeCompressed(path, func(w io.Writer) error {
		return e.Database.DumpAll(ctx, w)
	})
	elapsed := e.now().Sub(start)
	telemetry.EndStep(span, err)

	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrDumpFailed, name, err)
		logger.WithFields(log.Fields{"step": "dump", "outcome": "failed", "duration": elapsed}).Error(err)
		set.fail(name, ArtifactSQLDump, elapsed, err)
		return err
	}

	artifact := Artifact{Kind: ArtifactSQLDump, Path: path, Size: fileSize(path)}
	set.add(name, artifact, elapsed)
	logger.WithFields(log.Fields{"step": "dump", "outcome": "ok", "duration": elapsed}).
		Infof("Dumped all databases to %s (%d bytes)", filepath.Base(path), artifact.Size)
	return nil
}

// dumpKeyValue is best effort: every failure is recorded and logged, never returned.
func (e *Engine) dumpKeyValue(ctx context.Context, logger *log.Entry, staging string, set *Set) {
	name := e.KeyValue.Service()
	logger = logger.WithField("service", name)

	running, err := e.KeyValue.Running(ctx)
	if err != nil || !running {
		reason := fmt.Errorf("%w: %s", ErrServiceUnavailable, name)
		logger.WithFields(log.Fields{"step": "kv-save", "outcome": "skipped"}).Info(reason)
		set.skip(name, ArtifactKeyValueDump, reason)
		return
	}

	ctx, span := telemetry.StartStep(ctx, "kv-save", attribute.String("service", name))
	start := e.now()

	err = e.waitForSave(ctx, logger)
	if err != nil {
		elapsed := e.now().Sub(start)
		logger.WithFields(log.Fields{"step": "kv-save", "outcome": "failed", "duration": elapsed}).Warn(err)
		set.fail(name, ArtifactKeyValueDump, elapsed, err)
		telemetry.EndStep(span, err)
		return
	}

	path := filepath.Join(staging, fmt.Sprintf("%s-%s%s", name, stamp(set), KeyValueDumpSuffix))
	err = writeFile(path, func(w io.Writer) error {
		return e.KeyValue.CopyPersistenceFile(ctx, w)
	})
	elapsed := e.now().Sub(start)
	telemetry.EndStep(span, err)

	if err != nil {
		err = fmt.Errorf("copy persistence file: %w", err)
		logger.WithFields(log.Fields{"step": "kv-save", "outcome": "failed", "duration": elapsed}).Warn(err)
		set.fail(name, ArtifactKeyValueDump, elapsed, err)
		return
	}

	artifact := Artifact{Kind: ArtifactKeyValueDump, Path: path, Size: fileSize(path)}
	set.add(name, artifact, elapsed)
	logger.WithFields(log.Fields{"step": "kv-save", "outcome": "ok", "duration": elapsed}).
		Infof("Copied persistence file to %s (%d bytes)", filepath.Base(path), artifact.Size)
}

// waitForSave triggers a background save and waits until the last save time advances.
// Running out of attempts is not an error: the last persisted file is copied regardless.
func (e *Engine) waitForSave(ctx context.Context, logger *log.Entry) error {
	before, err := e.KeyValue.LastSave(ctx)
	if err != nil {
		return err
	}
	err = e.KeyValue.BgSave(ctx)
	if err != nil {
		return err
	}

	cfg := e.saveWait()
	attempts, err := poll.Until(ctx, cfg, func(ctx context.Context) (bool, error) {
		ts, err := e.KeyValue.LastSave(ctx)
		if err != nil {
			return false, err
		}
		return ts.After(before), nil
	})
	switch {
	case err == nil:
		logger.Debugf("Background save completed after %d polls", attempts)
		return nil
	case errors.Is(err, poll.ErrExhausted):
		logger.Warnf("Background save not confirmed after %d polls at %s; copying the last persisted file", attempts, cfg.Interval)
		return nil
	default:
		return err
	}
}

func (e *Engine) collectVolumes(ctx context.Context, logger *log.Entry, staging string, set *Set) {
	e.copyCertificates(ctx, logger, staging, set)
	e.archiveSpecs(ctx, logger, staging, set)
	e.archiveVolumes(ctx, logger, staging, set)
}

func (e *Engine) copyCertificates(ctx context.Context, logger *log.Entry, staging string, set *Set) {
	if len(e.CertificateStore) == 0 {
		return
	}
	name := filepath.Base(e.CertificateStore)
	logger = logger.WithFields(log.Fields{"step": "certificates", "artifact": name})

	if _, err := os.Stat(e.CertificateStore); errors.Is(err, os.ErrNotExist) {
		logger.WithField("outcome", "skipped").Infof("No certificate store at %s", e.CertificateStore)
		set.skip(name, ArtifactCertificates, err)
		return
	}

	start := e.now()
	path := filepath.Join(staging, name)
	err := copyFile(e.CertificateStore, path)
	elapsed := e.now().Sub(start)
	if err != nil {
		logger.WithFields(log.Fields{"outcome": "failed", "duration": elapsed}).Warn(err)
		set.fail(name, ArtifactCertificates, elapsed, err)
		return
	}
	set.add(name, Artifact{Kind: ArtifactCertificates, Path: path, Size: fileSize(path)}, elapsed)
	logger.WithFields(log.Fields{"outcome": "ok", "duration": elapsed}).Infof("Copied %s", e.CertificateStore)
}

func (e *Engine) archiveSpecs(ctx context.Context, logger *log.Entry, staging string, set *Set) {
	if len(e.SpecRoot) == 0 {
		return
	}
	excludes := e.SpecExcludes
	if excludes == nil {
		excludes = DefaultSpecExcludes
	}
	name := filepath.Base(filepath.Clean(e.SpecRoot))
	logger = logger.WithFields(log.Fields{"step": "specs", "artifact": name})

	start := e.now()
	path := filepath.Join(staging, fmt.Sprintf("%s-%s.tar.gz", name, stamp(set)))
	err := archiveTree(ctx, e.SpecRoot, path, excludes)
	elapsed := e.now().Sub(start)
	if err != nil {
		logger.WithFields(log.Fields{"outcome": "failed", "duration": elapsed}).Warn(err)
		set.fail(name, ArtifactSpecs, elapsed, err)
		return
	}
	set.add(name, Artifact{Kind: ArtifactSpecs, Path: path, Size: fileSize(path)}, elapsed)
	logger.WithFields(log.Fields{"outcome": "ok", "duration": elapsed}).
		Infof("Archived %s without %s", e.SpecRoot, strings.Join(excludes, ", "))
}

// archiveVolumes archives every volume with a recognised prefix. A failing volume
// never stops the others.
func (e *Engine) archiveVolumes(ctx context.Context, logger *log.Entry, staging string, set *Set) {
	if e.Volumes == nil {
		return
	}
	prefixes := e.VolumePrefixes
	if prefixes == nil {
		prefixes = DefaultVolumePrefixes
	}

	volumes, err := e.Volumes.ListVolumes(ctx)
	if err != nil {
		err = fmt.Errorf("list volumes: %w", err)
		logger.WithFields(log.Fields{"step": "volumes", "outcome": "failed"}).Warn(err)
		set.fail("volumes", ArtifactVolume, 0, err)
		return
	}

	for _, volume := range volumes {
		if !matchesPrefix(volume, prefixes) {
			continue
		}
		e.archiveVolume(ctx, logger, staging, volume, set)
	}
}

func (e *Engine) archiveVolume(ctx context.Context, logger *log.Entry, staging, volume string, set *Set) {
	logger = logger.WithFields(log.Fields{"step": "volume", "volume": volume})
	ctx, span := telemetry.StartStep(ctx, "volume", attribute.String("volume", volume))

	fileName := volume + ".tar.gz"
	start := e.now()
	err := e.Volumes.ArchiveVolume(ctx, volume, staging, fileName)
	elapsed := e.now().Sub(start)
	telemetry.EndStep(span, err)

	path := filepath.Join(staging, fileName)
	if err != nil {
		os.Remove(path)
		logger.WithFields(log.Fields{"outcome": "failed", "duration": elapsed}).Warnf("Skipping volume: %s", err)
		set.fail(volume, ArtifactVolume, elapsed, err)
		return
	}
	set.add(volume, Artifact{Kind: ArtifactVolume, Path: path, Size: fileSize(path)}, elapsed)
	logger.WithFields(log.Fields{"outcome": "ok", "duration": elapsed}).Infof("Archived volume %s", volume)
}

func matchesPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
