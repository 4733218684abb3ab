package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/nais/hostops/pkg/bootstrap"
	"github.com/nais/hostops/pkg/config"
	"github.com/nais/hostops/pkg/deployer"
	"github.com/nais/hostops/pkg/exitcode"
	"github.com/nais/hostops/pkg/servicespec"
)

var help = `deploy pulls a new version of an application, starts it and waits for it to become healthy.
If it does not, the previously running instance is restored.

Usage: deploy [flags] <app> [tag]
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

func usage() {
	fmt.Fprint(os.Stderr, help)
	flag.PrintDefaults()
}

func run() error {
	cfg := config.Initialize()
	flag.Usage = usage
	err := config.Load(cfg)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.InvocationFailure, err)
	}

	var tag string
	switch flag.NArg() {
	case 2:
		tag = flag.Arg(1)
	case 1:
	default:
		return exitcode.Errorf(exitcode.InvocationFailure, "expected an application name and an optional tag")
	}
	req := deployer.NewRequest(flag.Arg(0), tag)

	ctx, cmd, err := bootstrap.Start("deploy", cfg)
	if err != nil {
		return err
	}
	defer cmd.Finish()

	err = cmd.Lock("deploy", req.App)
	if err != nil {
		return err
	}

	specs := &servicespec.Lookup{Root: cfg.StacksRoot}
	images := servicespec.ImageResolver{Template: cfg.ImageTemplate}

	if cfg.DryRun {
		return dryRun(specs, images, req)
	}

	d, err := cmd.Docker()
	if err != nil {
		return err
	}

	orchestrator := &deployer.Orchestrator{
		Specs:           specs,
		Images:          images,
		Registry:        d,
		Runtime:         d,
		HealthTimeout:   cfg.Deploy.HealthTimeout,
		RollbackTimeout: cfg.Deploy.RollbackTimeout,
		LogLines:        cfg.Deploy.LogLines,
	}

	out, err := orchestrator.Deploy(ctx, req)

	if summaryErr := deployer.AppendSummaryFile(cfg.Deploy.StepSummary, out); summaryErr != nil {
		log.Warnf("Unable to write step summary: %s", summaryErr)
	}

	return bootstrap.Interrupted(ctx, err)
}

func dryRun(specs *servicespec.Lookup, images servicespec.ImageResolver, req deployer.Request) error {
	spec, err := specs.Find(req.App)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.ConfigNotFound, err)
	}
	ref, err := images.Resolve(spec, req.Tag)
	if err != nil {
		return exitcode.ErrorWrap(exitcode.ConfigNotFound, err)
	}
	log.Infof("Would pull %s", ref)
	log.Infof("Would start service %s from %s with TAG=%s and wait up to its health timeout", spec.Service, spec.File, req.Tag)
	log.Infof("Dry run; no changes made")
	return nil
}
