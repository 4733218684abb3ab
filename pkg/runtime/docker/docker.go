// Package docker implements the runtime contracts on top of the Docker Engine API
// and the docker compose command line.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	log "github.com/sirupsen/logrus"

	"github.com/nais/hostops/pkg/runtime"
	"github.com/nais/hostops/pkg/servicespec"
)

const (
	LabelProject = "com.docker.compose.project"
	LabelService = "com.docker.compose.service"

	// RollbackTagPrefix starts the tags pinning the image of a replaced instance.
	RollbackTagPrefix = "hostops-rollback-"

	DefaultHelperImage  = "alpine:3"
	DefaultHealthPoll   = 2 * time.Second
	DefaultStopTimeout  = 10 * time.Second
	stateRunning        = "running"
	healthStatusHealthy = "healthy"
)

var (
	ErrNoContainer = errors.New("no container for service")
	ErrExecFailed  = errors.New("command exited with non-zero status")
)

var DefaultComposeCommand = []string{"docker", "compose"}

// CommandRunner runs one command in dir with extra environment variables and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	output := &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = output
	cmd.Stderr = output

	err := cmd.Run()
	if err != nil {
		return output.Bytes(), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(output.String()))
	}
	return output.Bytes(), nil
}

// instance is what is remembered about a running container so that it can be brought back
// after compose has replaced it. tag is the rollback tag pinning its image.
type instance struct {
	target composeTarget
	tag    string
}

type composeTarget struct {
	file    string
	dir     string
	project string
	service string
}

// Docker talks to the local Docker daemon.
type Docker struct {
	API client.APIClient

	// ComposeCommand defaults to DefaultComposeCommand.
	ComposeCommand []string
	// Runner defaults to running the command on the host.
	Runner CommandRunner

	HealthPoll  time.Duration
	StopTimeout time.Duration
	HelperImage string

	// Project scopes service lookups for Services; empty matches any project.
	Project string

	mu        sync.Mutex
	instances map[string]instance
}

var (
	_ runtime.Runtime  = &Docker{}
	_ runtime.Registry = &Docker{}
	_ runtime.Services = &Docker{}
	_ runtime.Volumes  = &Docker{}
)

// New connects to the daemon configured by the DOCKER_* environment variables.
func New() (*Docker, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Docker{API: api}, nil
}

func (d *Docker) Close() error {
	return d.API.Close()
}

func (d *Docker) runner() CommandRunner {
	if d.Runner == nil {
		return execRunner{}
	}
	return d.Runner
}

func (d *Docker) healthPoll() time.Duration {
	if d.HealthPoll <= 0 {
		return DefaultHealthPoll
	}
	return d.HealthPoll
}

func (d *Docker) stopTimeout() *int {
	timeout := d.StopTimeout
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	seconds := int(timeout.Seconds())
	return &seconds
}

func (d *Docker) helperImage() string {
	if len(d.HelperImage) == 0 {
		return DefaultHelperImage
	}
	return d.HelperImage
}

// compose runs a compose subcommand against one service specification.
func (d *Docker) compose(ctx context.Context, target composeTarget, env []string, args ...string) error {
	command := d.ComposeCommand
	if len(command) == 0 {
		command = DefaultComposeCommand
	}
	full := append([]string{}, command[1:]...)
	full = append(full, "--file", target.file, "--project-directory", target.dir)
	if len(target.project) > 0 {
		full = append(full, "--project-name", target.project)
	}
	full = append(full, args...)

	output, err := d.runner().Run(ctx, target.dir, env, command[0], full...)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if len(line) > 0 {
			log.Debug(line)
		}
	}
	return nil
}

// containers lists containers carrying the compose labels for service, newest first.
func (d *Docker) containers(ctx context.Context, project, service string, all bool) ([]types.Container, error) {
	args := filters.NewArgs(filters.Arg("label", LabelService+"="+service))
	if len(project) > 0 {
		args.Add("label", LabelProject+"="+project)
	}
	list, err := d.API.ContainerList(ctx, container.ListOptions{All: all, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers for %s: %w", service, err)
	}
	sortNewestFirst(list)
	return list, nil
}

func sortNewestFirst(list []types.Container) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Created > list[j].Created
	})
}

// serviceContainer returns the newest container of a long-running service, running or not.
func (d *Docker) serviceContainer(ctx context.Context, service string) (*types.Container, error) {
	list, err := d.containers(ctx, d.Project, service, true)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].State == stateRunning {
			return &list[i], nil
		}
	}
	if len(list) > 0 {
		return &list[0], nil
	}
	return nil, fmt.Errorf("%w %s", ErrNoContainer, service)
}

func (d *Docker) remember(id string, inst instance) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.instances == nil {
		d.instances = make(map[string]instance)
	}
	d.instances[id] = inst
}

func (d *Docker) recall(id string) (instance, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst, ok := d.instances[id]
	return inst, ok
}

// imageRepository is the repository compose resolves the service image in: the one named in
// the compose file, else the one of the running container's image reference.
func imageRepository(spec *servicespec.Spec, ref string) string {
	if repo := servicespec.Repository(spec.Image); len(repo) > 0 {
		return repo
	}
	if strings.HasPrefix(ref, "sha256:") {
		return ""
	}
	return servicespec.Repository(ref)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
