package deployer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/nais/hostops/pkg/deployer"
	"github.com/nais/hostops/pkg/exitcode"
	"github.com/nais/hostops/pkg/runtime"
	"github.com/nais/hostops/pkg/servicespec"
)

type fakeLookup struct {
	specs map[string]*servicespec.Spec
}

func (f *fakeLookup) Find(app string) (*servicespec.Spec, error) {
	spec, ok := f.specs[app]
	if !ok {
		return nil, fmt.Errorf("%w: %s", servicespec.ErrConfigNotFound, app)
	}
	return spec, nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func apiSpec(app string) *servicespec.Spec {
	return &servicespec.Spec{
		App:     app,
		Service: app,
		Image:   "ghcr.io/acme/" + app + ":${TAG:-latest}",
		File:    "/srv/stacks/" + app + "/docker-compose.yml",
	}
}

type fixture struct {
	clock    *fakeClock
	registry *runtime.MockRegistry
	runtime  *runtime.MockRuntime
	orch     *deployer.Orchestrator
}

func newFixture(apps ...string) *fixture {
	specs := make(map[string]*servicespec.Spec)
	for _, app := range apps {
		specs[app] = apiSpec(app)
	}
	f := &fixture{
		clock:    &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)},
		registry: &runtime.MockRegistry{},
		runtime:  &runtime.MockRuntime{},
	}
	f.orch = &deployer.Orchestrator{
		Specs:    &fakeLookup{specs: specs},
		Images:   servicespec.ImageResolver{},
		Registry: f.registry,
		Runtime:  f.runtime,
		Now:      f.clock.Now,
	}
	return f
}

func (f *fixture) startTakes(d time.Duration) func(mock.Arguments) {
	return func(mock.Arguments) {
		f.clock.Advance(d)
	}
}

func TestDeployHealthyIsPromoted(t *testing.T) {
	f := newFixture("api")
	ctx := context.Background()

	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("c1", nil).Once()
	f.registry.On("Pull", mock.Anything, "ghcr.io/acme/api:v2").Return(nil).Once()
	f.runtime.On("StartOrUpdate", mock.Anything, mock.Anything, "v2", deployer.DefaultHealthTimeout).
		Run(f.startTakes(5*time.Second)).
		Return(runtime.Healthy, nil).Once()
	f.runtime.On("Status", mock.Anything, mock.Anything).Return("running (healthy)", nil).Once()
	f.runtime.On("TailLogs", mock.Anything, mock.Anything, deployer.DefaultLogLines).Return([]string{"listening on :8080"}, nil).Once()

	out, err := f.orch.Deploy(ctx, deployer.NewRequest("api", "v2"))

	assert.NoError(t, err)
	assert.Equal(t, deployer.Promoted, out.Result)
	assert.Equal(t, "c1", out.PreviousInstance)
	assert.Equal(t, "ghcr.io/acme/api:v2", out.Image)
	assert.Equal(t, 5*time.Second, out.Duration)
	assert.Equal(t, []string{"listening on :8080"}, out.Logs)
	assert.Equal(t, []deployer.State{
		deployer.StateIdle,
		deployer.StatePulling,
		deployer.StateStarting,
		deployer.StateHealthy,
		deployer.StatePromoted,
	}, out.Transitions)
	assert.True(t, out.State().Terminal())
	assert.Equal(t, exitcode.Success, exitcode.ErrorExitCode(err))

	f.runtime.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
	f.runtime.AssertNotCalled(t, "Restart", mock.Anything, mock.Anything)
	f.runtime.AssertExpectations(t)
	f.registry.AssertExpectations(t)
}

func TestDeployTimeoutRollsBackToPreviousInstance(t *testing.T) {
	f := newFixture("api")
	ctx := context.Background()

	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("c1", nil).Once()
	f.registry.On("Pull", mock.Anything, "ghcr.io/acme/api:v3").Return(nil).Once()
	f.runtime.On("StartOrUpdate", mock.Anything, mock.Anything, "v3", deployer.DefaultHealthTimeout).
		Run(f.startTakes(120*time.Second)).
		Return(runtime.TimedOut, nil).Once()
	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("c2", nil).Once()
	f.runtime.On("Stop", mock.Anything, "c2").Return(nil).Once()
	f.runtime.On("Restart", mock.Anything, "c1").Return(nil).Once()

	out, err := f.orch.Deploy(ctx, deployer.NewRequest("api", "v3"))

	assert.Error(t, err)
	assert.ErrorIs(t, err, deployer.ErrTimedOut)
	assert.Equal(t, deployer.RolledBack, out.Result)
	assert.Equal(t, exitcode.DeploymentRolledBack, exitcode.ErrorExitCode(err))
	assert.NotEqual(t, exitcode.Success, exitcode.ErrorExitCode(err))
	assert.NoError(t, out.RollbackErr)
	assert.Equal(t, []deployer.State{
		deployer.StateIdle,
		deployer.StatePulling,
		deployer.StateStarting,
		deployer.StateTimedOut,
		deployer.StateRollingBack,
		deployer.StateRolledBack,
	}, out.Transitions)

	f.runtime.AssertExpectations(t)
}

func TestDeployStartFailureWithPreviousAlwaysRollsBack(t *testing.T) {
	for _, app := range []string{"a", "api", "my-app", "shop2", "x-1-y"} {
		t.Run(app, func(t *testing.T) {
			f := newFixture(app)

			f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("prev", nil).Once()
			f.registry.On("Pull", mock.Anything, mock.Anything).Return(nil)
			f.runtime.On("StartOrUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
				Return(runtime.Unhealthy, nil).Once()
			f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("prev", nil).Once()
			f.runtime.On("Restart", mock.Anything, "prev").Return(nil).Once()

			out, err := f.orch.Deploy(context.Background(), deployer.NewRequest(app, ""))

			assert.ErrorIs(t, err, deployer.ErrStartFailed)
			assert.Equal(t, deployer.RolledBack, out.Result)
			assert.Equal(t, "latest", out.Tag)
			// The failed instance is the previous one; never stop what we restart.
			f.runtime.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
			f.runtime.AssertExpectations(t)
		})
	}
}

func TestDeployFirstDeployFailureIsFailed(t *testing.T) {
	f := newFixture("api")

	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("", nil).Once()
	f.registry.On("Pull", mock.Anything, mock.Anything).Return(nil).Once()
	f.runtime.On("StartOrUpdate", mock.Anything, mock.Anything, "v1", mock.Anything).
		Return(runtime.Unhealthy, errors.New("compose up: exit status 1")).Once()

	out, err := f.orch.Deploy(context.Background(), deployer.NewRequest("api", "v1"))

	assert.ErrorIs(t, err, deployer.ErrStartFailed)
	assert.Equal(t, deployer.Failed, out.Result)
	assert.Equal(t, exitcode.DeploymentFailed, exitcode.ErrorExitCode(err))
	assert.Empty(t, out.PreviousInstance)
	assert.Equal(t, deployer.StateFailed, out.State())

	f.runtime.AssertNotCalled(t, "Restart", mock.Anything, mock.Anything)
	f.runtime.AssertNotCalled(t, "Stop", mock.Anything, mock.Anything)
	f.runtime.AssertExpectations(t)
}

func TestDeployRollbackFailureKeepsOriginalError(t *testing.T) {
	f := newFixture("api")
	startErr := errors.New("port already allocated")

	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("c1", nil).Once()
	f.registry.On("Pull", mock.Anything, mock.Anything).Return(nil).Once()
	f.runtime.On("StartOrUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(runtime.Unhealthy, startErr).Once()
	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("c2", nil).Once()
	f.runtime.On("Stop", mock.Anything, "c2").Return(nil).Once()
	f.runtime.On("Restart", mock.Anything, "c1").Return(errors.New("no such container: c1")).Once()

	out, err := f.orch.Deploy(context.Background(), deployer.NewRequest("api", "v4"))

	assert.ErrorIs(t, err, startErr)
	assert.NotErrorIs(t, err, deployer.ErrRollbackFailed)
	assert.ErrorIs(t, out.RollbackErr, deployer.ErrRollbackFailed)
	assert.Equal(t, deployer.Failed, out.Result)
	assert.Equal(t, exitcode.DeploymentFailed, exitcode.ErrorExitCode(err))
	assert.Contains(t, out.Summary(), "rollback failed")

	f.runtime.AssertExpectations(t)
}

func TestDeployPullFailureIsNotFatal(t *testing.T) {
	f := newFixture("api")

	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("c1", nil).Once()
	f.registry.On("Pull", mock.Anything, mock.Anything).Return(errors.New("registry unavailable")).Once()
	f.runtime.On("StartOrUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(runtime.Healthy, nil).Once()
	f.runtime.On("Status", mock.Anything, mock.Anything).Return("", errors.New("inspect failed")).Once()
	f.runtime.On("TailLogs", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("logs unavailable")).Once()

	out, err := f.orch.Deploy(context.Background(), deployer.NewRequest("api", "v2"))

	assert.NoError(t, err)
	assert.Equal(t, deployer.Promoted, out.Result)
	f.runtime.AssertExpectations(t)
}

func TestDeployUnknownAppTouchesNothing(t *testing.T) {
	f := newFixture("api")

	out, err := f.orch.Deploy(context.Background(), deployer.NewRequest("billing", "v1"))

	assert.ErrorIs(t, err, servicespec.ErrConfigNotFound)
	assert.Equal(t, exitcode.ConfigNotFound, exitcode.ErrorExitCode(err))
	assert.Equal(t, deployer.Failed, out.Result)

	assert.Empty(t, f.runtime.Calls)
	assert.Empty(t, f.registry.Calls)
}

func TestDeployHealthyAfterTimeoutIsNeverPromoted(t *testing.T) {
	f := newFixture("api")
	f.orch.HealthTimeout = 30 * time.Second

	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("", nil).Once()
	f.registry.On("Pull", mock.Anything, mock.Anything).Return(nil).Once()
	f.runtime.On("StartOrUpdate", mock.Anything, mock.Anything, mock.Anything, 30*time.Second).
		Run(f.startTakes(31*time.Second)).
		Return(runtime.Healthy, nil).Once()

	out, err := f.orch.Deploy(context.Background(), deployer.NewRequest("api", "v2"))

	assert.ErrorIs(t, err, deployer.ErrTimedOut)
	assert.NotEqual(t, deployer.Promoted, out.Result)
	assert.Contains(t, out.Transitions, deployer.StateTimedOut)
	f.runtime.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
}

func TestDeployInterruptStillRollsBack(t *testing.T) {
	f := newFixture("api")
	ctx, cancel := context.WithCancel(context.Background())

	liveContext := mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	})

	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("c1", nil).Once()
	f.registry.On("Pull", mock.Anything, mock.Anything).Return(nil).Once()
	f.runtime.On("StartOrUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(runtime.Unhealthy, context.Canceled).Once()
	f.runtime.On("CurrentInstance", liveContext, mock.Anything).Return("c2", nil).Once()
	f.runtime.On("Stop", liveContext, "c2").Return(nil).Once()
	f.runtime.On("Restart", liveContext, "c1").Return(nil).Once()

	out, err := f.orch.Deploy(ctx, deployer.NewRequest("api", "v2"))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, deployer.RolledBack, out.Result)
	f.runtime.AssertExpectations(t)
}

func TestDeployCurrentInstanceUnknown(t *testing.T) {
	f := newFixture("api")

	f.runtime.On("CurrentInstance", mock.Anything, mock.Anything).Return("", errors.New("docker daemon unreachable")).Once()

	out, err := f.orch.Deploy(context.Background(), deployer.NewRequest("api", "v2"))

	assert.ErrorIs(t, err, deployer.ErrNoInstance)
	assert.Equal(t, deployer.Failed, out.Result)
	f.runtime.AssertNotCalled(t, "StartOrUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.registry.Calls)
}
