package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/nais/hostops/pkg/bootstrap"
	"github.com/nais/hostops/pkg/config"
	"github.com/nais/hostops/pkg/exitcode"
)

var help = `restore replaces the live database and key-value data with the content of a "database" snapshot.
The selector is a snapshot ID, a unique ID prefix, or "latest". Without an argument it is read
from standard input when piped, or defaults to "latest" on a terminal.

On a terminal, the restore asks you to type "restore" before anything is changed.

Usage: restore [flags] [snapshot-id|latest]
       restore --list
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

	return bootstrap.Restore(flag.Args(), cfg)
}
