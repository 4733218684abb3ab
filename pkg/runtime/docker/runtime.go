package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	log "github.com/sirupsen/logrus"

	"github.com/nais/hostops/pkg/poll"
	"github.com/nais/hostops/pkg/runtime"
	"github.com/nais/hostops/pkg/servicespec"
)

var errUnhealthy = errors.New("container reported unhealthy")

func target(spec *servicespec.Spec) composeTarget {
	return composeTarget{
		file:    spec.File,
		dir:     spec.Dir,
		project: spec.Project,
		service: spec.Service,
	}
}

// Pull fetches an image, logging the daemon's progress messages at debug level.
func (d *Docker) Pull(ctx context.Context, imageRef string) error {
	stream, err := d.API.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return err
	}
	defer stream.Close()

	progress := log.StandardLogger().WriterLevel(log.DebugLevel)
	defer progress.Close()

	return jsonmessage.DisplayJSONMessagesStream(stream, progress, 0, false, nil)
}

// CurrentInstance returns the newest running container of the application's service,
// and pins the image it runs so that Restart can bring it back after compose replaced it.
func (d *Docker) CurrentInstance(ctx context.Context, spec *servicespec.Spec) (string, error) {
	list, err := d.containers(ctx, spec.Project, spec.Service, false)
	if err != nil {
		return "", err
	}
	for _, c := range list {
		if c.State != stateRunning {
			continue
		}
		d.pin(ctx, spec, c)
		return c.ID, nil
	}
	return "", nil
}

// pin tags the container's image as <repository>:hostops-rollback-<container>. The image ID
// is used rather than the tag the container was started with, which a pull may have moved.
func (d *Docker) pin(ctx context.Context, spec *servicespec.Spec, c types.Container) {
	repo := imageRepository(spec, c.Image)
	if len(repo) == 0 || len(c.ImageID) == 0 {
		log.Warnf("Unable to pin the image of %s; it cannot be recreated once replaced", shortID(c.ID))
		return
	}

	tag := RollbackTagPrefix + shortID(c.ID)
	err := d.API.ImageTag(ctx, c.ImageID, repo+":"+tag)
	if err != nil {
		log.Warnf("Unable to pin the image of %s: %s", shortID(c.ID), err)
		return
	}
	log.Debugf("Pinned image %s of %s as %s:%s", shortID(strings.TrimPrefix(c.ImageID, "sha256:")), shortID(c.ID), repo, tag)

	d.remember(c.ID, instance{target: target(spec), tag: tag})
	d.prunePins(ctx, repo, tag)
}

// prunePins removes the rollback tags of earlier instances of repo, except keep.
func (d *Docker) prunePins(ctx context.Context, repo, keep string) {
	prefix := repo + ":" + RollbackTagPrefix
	images, err := d.API.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", prefix+"*")),
	})
	if err != nil {
		log.Debugf("List rollback tags of %s: %s", repo, err)
		return
	}
	for _, img := range images {
		for _, ref := range img.RepoTags {
			if ref == repo+":"+keep || !strings.HasPrefix(ref, prefix) {
				continue
			}
			_, err := d.API.ImageRemove(ctx, ref, image.RemoveOptions{})
			if err != nil {
				log.Debugf("Remove rollback tag %s: %s", ref, err)
			}
		}
	}
}

// StartOrUpdate recreates the service with TAG set to versionTag, leaving its dependencies alone,
// and waits for the new container's health check. Containers without a health check count as
// healthy once running.
func (d *Docker) StartOrUpdate(ctx context.Context, spec *servicespec.Spec, versionTag string, waitTimeout time.Duration) (runtime.Health, error) {
	err := d.compose(ctx, target(spec), []string{"TAG=" + versionTag}, "up", "--detach", "--no-deps", spec.Service)
	if err != nil {
		return runtime.Unhealthy, err
	}

	interval := d.healthPoll()
	cfg := poll.Config{
		Interval:    interval,
		MaxAttempts: poll.Attempts(waitTimeout, interval),
		Notify: func(err error, attempt int) {
			log.Debugf("%s not healthy yet (attempt %d): %v", spec.Service, attempt, err)
		},
	}

	_, err = poll.Until(ctx, cfg, func(ctx context.Context) (bool, error) {
		return d.healthy(ctx, spec)
	})
	switch {
	case err == nil:
		return runtime.Healthy, nil
	case errors.Is(err, errUnhealthy):
		return runtime.Unhealthy, nil
	case errors.Is(err, poll.ErrExhausted):
		return runtime.TimedOut, nil
	default:
		return runtime.Unhealthy, err
	}
}

func (d *Docker) healthy(ctx context.Context, spec *servicespec.Spec) (bool, error) {
	list, err := d.containers(ctx, spec.Project, spec.Service, true)
	if err != nil {
		return false, err
	}
	if len(list) == 0 {
		return false, fmt.Errorf("%w %s", ErrNoContainer, spec.Service)
	}

	inspect, err := d.API.ContainerInspect(ctx, list[0].ID)
	if err != nil {
		return false, err
	}
	if inspect.ContainerJSONBase == nil || inspect.State == nil {
		return false, nil
	}
	state := inspect.State
	switch {
	case state.Status == "exited" || state.Status == "dead":
		return false, poll.Abort(fmt.Errorf("%w: container %s with code %d", errUnhealthy, state.Status, state.ExitCode))
	case state.Health == nil:
		return state.Running, nil
	case state.Health.Status == "unhealthy":
		return false, poll.Abort(fmt.Errorf("%w: %s", errUnhealthy, lastProbe(state.Health)))
	default:
		return state.Health.Status == healthStatusHealthy, nil
	}
}

func lastProbe(health *types.Health) string {
	if len(health.Log) == 0 {
		return health.Status
	}
	return strings.TrimSpace(health.Log[len(health.Log)-1].Output)
}

func (d *Docker) Stop(ctx context.Context, instanceID string) error {
	return d.API.ContainerStop(ctx, instanceID, container.StopOptions{Timeout: d.stopTimeout()})
}

// Restart starts a previous instance again. When compose has already removed the container,
// the service is recreated from the image pinned by CurrentInstance.
func (d *Docker) Restart(ctx context.Context, instanceID string) error {
	err := d.API.ContainerRestart(ctx, instanceID, container.StopOptions{Timeout: d.stopTimeout()})
	if err == nil || !errdefs.IsNotFound(err) {
		return err
	}

	inst, ok := d.recall(instanceID)
	if !ok {
		return fmt.Errorf("container %s is gone and its image was not pinned: %w", shortID(instanceID), err)
	}
	log.Infof("Container %s was replaced; recreating %s from %s", shortID(instanceID), inst.target.service, inst.tag)
	return d.compose(ctx, inst.target, []string{"TAG=" + inst.tag}, "up", "--detach", "--no-deps", "--force-recreate", inst.target.service)
}

func (d *Docker) Status(ctx context.Context, spec *servicespec.Spec) (string, error) {
	list, err := d.containers(ctx, spec.Project, spec.Service, true)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", fmt.Errorf("%w %s", ErrNoContainer, spec.Service)
	}
	c := list[0]
	return fmt.Sprintf("%s %s (%s) %s", shortID(c.ID), c.Image, c.State, c.Status), nil
}

// TailLogs returns the last lines of the service's output, stdout and stderr interleaved.
func (d *Docker) TailLogs(ctx context.Context, spec *servicespec.Spec, lines int) ([]string, error) {
	list, err := d.containers(ctx, spec.Project, spec.Service, true)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w %s", ErrNoContainer, spec.Service)
	}

	inspect, err := d.API.ContainerInspect(ctx, list[0].ID)
	if err != nil {
		return nil, err
	}

	stream, err := d.API.ContainerLogs(ctx, list[0].ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	buf := &bytes.Buffer{}
	if inspect.Config != nil && inspect.Config.Tty {
		_, err = io.Copy(buf, stream)
	} else {
		_, err = stdcopy.StdCopy(buf, buf, stream)
	}
	if err != nil {
		return nil, err
	}

	var out []string
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	return out, scanner.Err()
}
