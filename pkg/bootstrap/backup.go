package bootstrap

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/nais/hostops/pkg/backup"
	"github.com/nais/hostops/pkg/config"
	"github.com/nais/hostops/pkg/exitcode"
	"github.com/nais/hostops/pkg/report"
)

// Backup runs the backup-databases and backup-volumes commands.
func Backup(kind backup.Kind, cfg *config.Config) error {
	ctx, cmd, err := Start("backup-"+string(kind), cfg)
	if err != nil {
		return err
	}
	defer cmd.Finish()

	// Upload and prune against the same tag never overlap.
	err = cmd.Lock("backup", string(kind))
	if err != nil {
		return err
	}

	repo, err := cmd.Repository(ctx)
	if err != nil {
		return err
	}

	d, err := cmd.Docker()
	if err != nil {
		return err
	}

	engine := &backup.Engine{
		Repository:  repo,
		Retention:   cmd.Retention(),
		StagingRoot: cfg.StagingRoot,
		DryRun:      cfg.DryRun,
	}

	switch kind {
	case backup.KindDatabase:
		engine.Database = cmd.Postgres(d)
		engine.KeyValue = cmd.Redis(d)
		engine.SaveWait = cmd.SaveWait()
	case backup.KindVolumes:
		engine.Volumes = d
		engine.VolumePrefixes = cfg.Backup.VolumePrefixes
		engine.CertificateStore = cfg.Backup.CertificateStore
		engine.SpecRoot = cfg.StacksRoot
		engine.SpecExcludes = cfg.Backup.SpecExcludes
	default:
		return exitcode.Errorf(exitcode.InvocationFailure, "unknown backup kind %q", kind)
	}

	set, err := engine.Run(ctx, kind)
	if set != nil {
		if reportErr := report.BackupSet(os.Stdout, set); reportErr != nil {
			log.Warnf("Unable to print report: %s", reportErr)
		}
	}
	return Interrupted(ctx, err)
}
