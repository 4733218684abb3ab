package deployer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nais/hostops/pkg/exitcode"
	"github.com/nais/hostops/pkg/metrics"
	"github.com/nais/hostops/pkg/runtime"
	"github.com/nais/hostops/pkg/servicespec"
	"github.com/nais/hostops/pkg/telemetry"
)

const (
	DefaultHealthTimeout   = 120 * time.Second
	DefaultRollbackTimeout = 2 * time.Minute
	DefaultLogLines        = 10
)

var (
	ErrPullFailed     = errors.New("pull failed")
	ErrStartFailed    = errors.New("service failed to start")
	ErrTimedOut       = errors.New("service did not become healthy in time")
	ErrRollbackFailed = errors.New("rollback failed")
	ErrNoInstance     = errors.New("unable to determine current instance")
)

type SpecLookup interface {
	Find(app string) (*servicespec.Spec, error)
}

type ImageResolver interface {
	Resolve(spec *servicespec.Spec, tag string) (string, error)
}

// Orchestrator pulls, starts and health-checks a new version of an application,
// then promotes it or rolls back to the instance that was running before.
//
// Two concurrent Deploy calls for the same application are not safe; callers
// hold the "deploy-<app>" lock from package lock while deploying.
type Orchestrator struct {
	Specs    SpecLookup
	Images   ImageResolver
	Registry runtime.Registry
	Runtime  runtime.Runtime

	HealthTimeout   time.Duration
	RollbackTimeout time.Duration
	LogLines        int

	// Now defaults to time.Now.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o *Orchestrator) healthTimeout() time.Duration {
	if o.HealthTimeout <= 0 {
		return DefaultHealthTimeout
	}
	return o.HealthTimeout
}

func (o *Orchestrator) rollbackTimeout() time.Duration {
	if o.RollbackTimeout <= 0 {
		return DefaultRollbackTimeout
	}
	return o.RollbackTimeout
}

func (o *Orchestrator) logLines() int {
	if o.LogLines <= 0 {
		return DefaultLogLines
	}
	return o.LogLines
}

// Deploy runs one deployment attempt and always returns its outcome.
// The returned error is nil only when the new version was promoted; after a rollback
// it is the original start failure, so automated callers register the attempt as failed.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{
		ID:        uuid.New().String(),
		App:       req.App,
		Tag:       req.Tag,
		StartedAt: o.now(),
	}
	out.transition(StateIdle)

	logger := log.WithFields(log.Fields{
		"app":    req.App,
		"tag":    req.Tag,
		"run_id": out.ID,
	})

	ctx, span := telemetry.Tracer().Start(ctx, "Deploy "+req.App)
	span.SetAttributes(
		attribute.String("app", req.App),
		attribute.String("tag", req.Tag),
		attribute.String("run_id", out.ID),
	)
	if span.SpanContext().IsValid() {
		logger = logger.WithField("trace_id", telemetry.TraceID(ctx))
	}

	err := o.deploy(ctx, logger, req, out)

	out.Duration = o.now().Sub(out.StartedAt)
	out.Err = err
	telemetry.EndStep(span, err)
	metrics.Deployment(req.App, out.Result.String(), out.Duration)

	if err == nil {
		logger.Info(out.Summary())
		return out, nil
	}

	logger.Error(out.Summary())

	switch {
	case errors.Is(err, servicespec.ErrConfigNotFound), errors.Is(err, servicespec.ErrInvalidName):
		return out, exitcode.ErrorWrap(exitcode.ConfigNotFound, err)
	case out.Result == RolledBack:
		return out, exitcode.ErrorWrap(exitcode.DeploymentRolledBack, err)
	default:
		return out, exitcode.ErrorWrap(exitcode.DeploymentFailed, err)
	}
}

func (o *Orchestrator) deploy(ctx context.Context, logger *log.Entry, req Request, out *Outcome) error {
	out.Result = Failed

	spec, err := o.Specs.Find(req.App)
	if err != nil {
		out.transition(StateFailed)
		return err
	}

	previous, err := o.Runtime.CurrentInstance(ctx, spec)
	if err != nil {
		out.transition(StateFailed)
		return fmt.Errorf("%w for %s: %w", ErrNoInstance, req.App, err)
	}
	out.PreviousInstance = previous
	if len(previous) > 0 {
		logger.Infof("Currently running instance is %s", shortID(previous))
	} else {
		logger.Infof("No running instance; this is a first deploy")
	}

	out.transition(StatePulling)
	o.pull(ctx, logger, spec, req.Tag, out)

	out.transition(StateStarting)
	failure := o.start(ctx, logger, spec, req.Tag, out)
	if failure == nil {
		out.transition(StateHealthy)
		out.transition(StatePromoted)
		out.Result = Promoted
		o.report(ctx, logger, spec, out)
		return nil
	}

	if len(previous) == 0 {
		logger.Errorf("Start failed and there is no previous instance to roll back to")
		out.transition(StateFailed)
		return failure
	}

	out.transition(StateRollingBack)
	out.RollbackErr = o.rollback(ctx, logger, spec, previous)
	if out.RollbackErr != nil {
		logger.Errorf("Rollback to %s failed: %s", shortID(previous), out.RollbackErr)
		out.transition(StateFailed)
		return failure
	}

	logger.Warnf("Rolled back to previous instance %s", shortID(previous))
	out.transition(StateRolledBack)
	out.Result = RolledBack
	return failure
}

// Pull failures are not fatal; the runtime fails explicitly at start if the artifact is unavailable.
func (o *Orchestrator) pull(ctx context.Context, logger *log.Entry, spec *servicespec.Spec, tag string, out *Outcome) {
	ctx, span := telemetry.StartStep(ctx, "pull")

	ref, err := o.Images.Resolve(spec, tag)
	if err != nil {
		err = fmt.Errorf("%w: resolve image: %w", ErrPullFailed, err)
		logger.Warn(err)
		telemetry.EndStep(span, err)
		return
	}
	out.Image = ref

	start := o.now()
	err = o.Registry.Pull(ctx, ref)
	elapsed := o.now().Sub(start)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrPullFailed, ref, err)
		logger.WithFields(log.Fields{"step": "pull", "outcome": "failed", "duration": elapsed}).Warn(err)
	} else {
		logger.WithFields(log.Fields{"step": "pull", "outcome": "ok", "duration": elapsed}).Infof("Pulled %s", ref)
	}
	telemetry.EndStep(span, err)
}

func (o *Orchestrator) start(ctx context.Context, logger *log.Entry, spec *servicespec.Spec, tag string, out *Outcome) error {
	ctx, span := telemetry.StartStep(ctx, "start", attribute.String("service", spec.Service))

	timeout := o.healthTimeout()
	logger.Infof("Starting %s and waiting up to %s for it to become healthy...", spec.Service, timeout)

	start := o.now()
	health, err := o.Runtime.StartOrUpdate(ctx, spec, tag, timeout)
	elapsed := o.now().Sub(start)

	var failure error
	switch {
	case err != nil && ctx.Err() != nil:
		failure = fmt.Errorf("%w: interrupted: %w", ErrStartFailed, ctx.Err())
		out.transition(StateUnhealthy)
	case err != nil:
		failure = fmt.Errorf("%w: %w", ErrStartFailed, err)
		out.transition(StateUnhealthy)
	case health == runtime.TimedOut, health == runtime.Healthy && elapsed > timeout:
		failure = fmt.Errorf("%w: no healthy report after %s", ErrTimedOut, elapsed.Round(time.Second))
		out.transition(StateTimedOut)
	case health != runtime.Healthy:
		failure = fmt.Errorf("%w: instance reported %s", ErrStartFailed, health)
		out.transition(StateUnhealthy)
	}

	fields := log.Fields{"step": "start", "duration": elapsed}
	if failure != nil {
		fields["outcome"] = "failed"
		logger.WithFields(fields).Error(failure)
	} else {
		fields["outcome"] = "healthy"
		logger.WithFields(fields).Infof("%s is healthy", spec.Service)
	}
	telemetry.EndStep(span, failure)

	return failure
}

// rollback runs detached from ctx, so an operator interrupt still restores the previous instance.
func (o *Orchestrator) rollback(ctx context.Context, logger *log.Entry, spec *servicespec.Spec, previous string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.rollbackTimeout())
	defer cancel()

	ctx, span := telemetry.StartStep(ctx, "rollback", attribute.String("previous_instance", previous))

	var errs []error

	failed, err := o.Runtime.CurrentInstance(ctx, spec)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("find failed instance: %w", err))
	case len(failed) > 0 && failed != previous:
		logger.Infof("Tearing down failed instance %s", shortID(failed))
		if err := o.Runtime.Stop(ctx, failed); err != nil {
			logger.Warnf("Unable to stop failed instance %s: %s", shortID(failed), err)
			errs = append(errs, fmt.Errorf("stop %s: %w", shortID(failed), err))
		}
	}

	logger.Infof("Restarting previous instance %s", shortID(previous))
	err = o.Runtime.Restart(ctx, previous)
	if err != nil {
		errs = append(errs, fmt.Errorf("restart %s: %w", shortID(previous), err))
		err = fmt.Errorf("%w: %w", ErrRollbackFailed, errors.Join(errs...))
		telemetry.EndStep(span, err)
		return err
	}

	// Teardown problems are reported, but the previous instance is running again.
	for _, e := range errs {
		logger.Warn(e)
	}
	telemetry.EndStep(span, nil)
	return nil
}

func (o *Orchestrator) report(ctx context.Context, logger *log.Entry, spec *servicespec.Spec, out *Outcome) {
	status, err := o.Runtime.Status(ctx, spec)
	if err != nil {
		logger.Warnf("Unable to read instance status: %s", err)
	} else {
		out.Status = status
		logger.Infof("Status: %s", status)
	}

	lines, err := o.Runtime.TailLogs(ctx, spec, o.logLines())
	if err != nil {
		logger.Warnf("Unable to read recent logs: %s", err)
		return
	}
	out.Logs = lines
	logger.Infof("Last %d log lines:", len(lines))
	for _, line := range lines {
		logger.Info("  " + line)
	}
}
