package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/nais/hostops/pkg/backup"
	"github.com/nais/hostops/pkg/bootstrap"
	"github.com/nais/hostops/pkg/config"
	"github.com/nais/hostops/pkg/exitcode"
)

var help = `backup-volumes archives certificates, service specifications and data volumes as one snapshot tagged "volumes".
Old snapshots are pruned by the retention policy afterwards.

Usage: backup-volumes [flags]
`

func main() {
	err := run()
	if err == nil {
		return
	}
	code := exitcode.ErrorExitCode(err)
	if code == exitcode.InvocationFailure {
		flag.Usage()
	}
	log.Errorf("fatal: %s", err)
	os.Exit(int(code))
}

func run() error {
	cfg := config.Initialize()
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		flag.PrintDefaults()
	}
	err := config.Load(cfg)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.InvocationFailure, err)
	}
	if flag.NArg() > 0 {
		return exitcode.Errorf(exitcode.InvocationFailure, "unexpected arguments: %v", flag.Args())
	}

	return bootstrap.Backup(backup.KindVolumes, cfg)
}
