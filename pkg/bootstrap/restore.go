package bootstrap

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nais/hostops/pkg/config"
	"github.com/nais/hostops/pkg/confirm"
	"github.com/nais/hostops/pkg/exitcode"
	"github.com/nais/hostops/pkg/report"
	"github.com/nais/hostops/pkg/restore"
	"github.com/nais/hostops/pkg/snapshot"
)

// ConfirmationPhrase must be typed before a restore replaces live data.
const ConfirmationPhrase = "restore"

// Selection is the snapshot selector and how the destructive steps get confirmed.
type Selection struct {
	Selector  string
	Confirmer restore.Confirmer
}

// Select decides the selector and confirmer. A selector piped in on stdin is automation and
// is not asked for confirmation; on a terminal the operator must type ConfirmationPhrase;
// anything else is refused.
func Select(args []string, stdin io.Reader, interactive bool, out io.Writer) (*Selection, error) {
	if len(args) > 1 {
		return nil, exitcode.Errorf(exitcode.InvocationFailure, "expected at most one snapshot selector")
	}

	if len(args) == 1 {
		sel := &Selection{Selector: args[0], Confirmer: confirm.Refuse{}}
		if interactive {
			sel.Confirmer = &confirm.Typed{In: stdin, Out: out, Phrase: ConfirmationPhrase}
		}
		return sel, nil
	}

	if interactive {
		return &Selection{
			Selector:  snapshot.Latest,
			Confirmer: &confirm.Typed{In: stdin, Out: out, Phrase: ConfirmationPhrase},
		}, nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, exitcode.ErrorWrap(exitcode.InvocationFailure, err)
	}
	selector := strings.TrimSpace(line)
	if len(selector) == 0 {
		return nil, exitcode.Errorf(exitcode.InvocationFailure, "no snapshot selector on standard input")
	}
	return &Selection{Selector: selector, Confirmer: &confirm.Assumed{Out: out}}, nil
}

// Restore runs the restore command.
func Restore(args []string, cfg *config.Config) error {
	ctx, cmd, err := Start("restore", cfg)
	if err != nil {
		return err
	}
	defer cmd.Finish()

	repo, err := cmd.Repository(ctx)
	if err != nil {
		return err
	}

	if cfg.List {
		snapshots, err := repo.List(ctx, snapshot.TagDatabase)
		if err != nil {
			return exitcode.ErrorWrap(exitcode.RestoreFailed, err)
		}
		return report.Snapshots(os.Stdout, snapshots, time.Now())
	}

	sel, err := Select(args, os.Stdin, confirm.Interactive(os.Stdin), os.Stderr)
	if err != nil {
		return err
	}

	// Holding the backup lock keeps retention from pruning the snapshot mid-restore.
	err = cmd.Lock("restore", snapshot.TagDatabase)
	if err != nil {
		return err
	}
	err = cmd.Lock("backup", snapshot.TagDatabase)
	if err != nil {
		return err
	}

	d, err := cmd.Docker()
	if err != nil {
		return err
	}

	engine := &restore.Engine{
		Repository:     repo,
		Database:       cmd.Postgres(d),
		KeyValue:       cmd.Redis(d),
		Confirmer:      sel.Confirmer,
		TargetDatabase: cfg.Database,
		Readiness:      cmd.Readiness(),
		StagingRoot:    cfg.StagingRoot,
	}

	out, err := engine.Restore(ctx, sel.Selector)
	if out != nil {
		if reportErr := report.Restore(os.Stdout, out); reportErr != nil {
			log.Warnf("Unable to print report: %s", reportErr)
		}
	}
	return Interrupted(ctx, err)
}
