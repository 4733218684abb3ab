// Package bootstrap wires configuration into the components every hostops command uses,
// and tears them down again when the command finishes.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/nais/hostops/pkg/config"
	"github.com/nais/hostops/pkg/exitcode"
	"github.com/nais/hostops/pkg/lock"
	"github.com/nais/hostops/pkg/logging"
	"github.com/nais/hostops/pkg/metrics"
	"github.com/nais/hostops/pkg/poll"
	"github.com/nais/hostops/pkg/runtime/docker"
	"github.com/nais/hostops/pkg/snapshot"
	"github.com/nais/hostops/pkg/snapshot/restic"
	"github.com/nais/hostops/pkg/stores/postgres"
	"github.com/nais/hostops/pkg/stores/redis"
	"github.com/nais/hostops/pkg/telemetry"
	"github.com/nais/hostops/pkg/version"
)

const finishTimeout = 10 * time.Second

// Command is one invocation of a hostops binary.
type Command struct {
	Name   string
	Config *config.Config

	tracer *trace.TracerProvider
	locks  []*lock.Lock
	closer []func() error
	stop   context.CancelFunc
}

// Start sets up logging and tracing and returns a context cancelled on SIGINT or SIGTERM.
func Start(name string, cfg *config.Config) (context.Context, *Command, error) {
	err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, exitcode.ErrorWrap(exitcode.InvocationFailure, err)
	}

	log.Infof("hostops %s %s", name, version.Version())
	ts, err := version.BuildTime()
	if err == nil && ts.Unix() > 0 {
		log.Infof("This version was built %s", ts.Local())
	}
	config.Print(log.Debugf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	tracer, err := telemetry.New(ctx, "hostops-"+name, cfg.OtelCollectorEndpoint)
	if err != nil {
		log.Warnf("Tracing disabled: %s", err)
	}

	return ctx, &Command{
		Name:   name,
		Config: cfg,
		tracer: tracer,
		stop:   stop,
	}, nil
}

// Lock takes the advisory lock for operation on target until Finish.
func (c *Command) Lock(operation, target string) error {
	l, err := lock.Acquire(c.Config.LockDir, lock.Key(operation, target))
	if errors.Is(err, lock.ErrLocked) {
		return exitcode.ErrorWrap(exitcode.Locked, err)
	}
	if err != nil {
		return exitcode.ErrorWrap(exitcode.InternalError, err)
	}
	c.locks = append(c.locks, l)
	return nil
}

// Finish pushes metrics, flushes traces, closes clients and releases locks, in that order.
// It runs with its own deadline so an interrupted command still reports.
func (c *Command) Finish() {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	err := metrics.Push(ctx, c.Config.PushgatewayURL, "hostops_"+c.Name)
	if err != nil {
		log.Warnf("Unable to push metrics: %s", err)
	}

	err = telemetry.Shutdown(ctx, c.tracer)
	if err != nil {
		log.Warnf("Unable to flush traces: %s", err)
	}

	for i := len(c.closer) - 1; i >= 0; i-- {
		if err := c.closer[i](); err != nil {
			log.Debugf("Close: %s", err)
		}
	}

	for i := len(c.locks) - 1; i >= 0; i-- {
		if err := c.locks[i].Release(); err != nil {
			log.Warnf("Unable to release lock: %s", err)
		}
	}

	if c.stop != nil {
		c.stop()
	}
}

// Docker connects to the container engine.
func (c *Command) Docker() (*docker.Docker, error) {
	d, err := docker.New()
	if err != nil {
		return nil, exitcode.ErrorWrap(exitcode.InternalError, err)
	}
	d.HealthPoll = c.Config.Deploy.HealthInterval
	d.HelperImage = c.Config.Docker.HelperImage
	d.Project = c.Config.Docker.Project
	c.closer = append(c.closer, d.Close)
	return d, nil
}

// Repository returns the snapshot repository, after making sure it exists.
// With restic.init set, a missing repository is created.
func (c *Command) Repository(ctx context.Context) (snapshot.Repository, error) {
	cfg := c.Config.Restic
	if len(cfg.Repository) == 0 {
		return nil, exitcode.Errorf(exitcode.InvocationFailure, "%s is not set", config.ResticRepository)
	}

	repo := &restic.Repository{
		Runner:       &restic.ExecRunner{Binary: cfg.Binary},
		URL:          cfg.Repository,
		Password:     cfg.Password,
		PasswordFile: cfg.PasswordFile,
		Host:         cfg.Host,
	}

	err := repo.Check(ctx)
	switch {
	case err == nil:
		return repo, nil
	case errors.Is(err, restic.ErrRepositoryMissing) && cfg.Init && !c.Config.DryRun:
		log.Infof("Initializing snapshot repository %s", cfg.Repository)
		if err := repo.Init(ctx); err != nil {
			return nil, exitcode.ErrorWrap(exitcode.UploadFailed, err)
		}
		return repo, nil
	case errors.Is(err, restic.ErrRepositoryMissing):
		return nil, exitcode.Errorf(exitcode.InvocationFailure, "%w: set %s to create it", err, config.ResticInit)
	default:
		return nil, exitcode.ErrorWrap(exitcode.UploadFailed, err)
	}
}

func (c *Command) Retention() snapshot.RetentionPolicy {
	return snapshot.RetentionPolicy{
		KeepDaily:   c.Config.Retention.KeepDaily,
		KeepWeekly:  c.Config.Retention.KeepWeekly,
		KeepMonthly: c.Config.Retention.KeepMonthly,
	}
}

func (c *Command) Postgres(services *docker.Docker) *postgres.Store {
	return &postgres.Store{
		Services: services,
		Name:     c.Config.Postgres.Service,
		User:     c.Config.Postgres.User,
		DSN:      c.Config.Postgres.URL,
	}
}

func (c *Command) Redis(services *docker.Docker) *redis.Store {
	client := redis.NewClient(c.Config.Redis.Address, c.Config.Redis.Password)
	c.closer = append(c.closer, client.Close)
	return &redis.Store{
		Services: services,
		Client:   client,
		Name:     c.Config.Redis.Service,
		Volume:   c.Config.Redis.Volume,
		DataDir:  c.Config.Redis.DataDir,
		UID:      c.Config.Redis.UID,
		GID:      c.Config.Redis.GID,
	}
}

func (c *Command) SaveWait() poll.Config {
	return poll.Config{
		Interval:    c.Config.Backup.SaveInterval,
		MaxAttempts: c.Config.Backup.SaveAttempts,
	}
}

func (c *Command) Readiness() poll.Config {
	return poll.Config{
		Interval:    c.Config.Restore.ReadinessInterval,
		MaxAttempts: c.Config.Restore.ReadinessAttempts,
	}
}

// Interrupted marks err as caused by an operator interrupt when ctx was cancelled by a signal.
func Interrupted(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	if exitcode.ErrorExitCode(err) != exitcode.InternalError {
		return err
	}
	return exitcode.ErrorWrap(exitcode.Interrupted, fmt.Errorf("interrupted: %w", err))
}
