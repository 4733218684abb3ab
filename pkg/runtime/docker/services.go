package docker

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	log "github.com/sirupsen/logrus"
)

const (
	volumeMount = "/volume"
	backupMount = "/backup"
)

func (d *Docker) Running(ctx context.Context, service string) (bool, error) {
	c, err := d.serviceContainer(ctx, service)
	if errors.Is(err, ErrNoContainer) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.State == stateRunning, nil
}

func (d *Docker) StartService(ctx context.Context, service string) error {
	c, err := d.serviceContainer(ctx, service)
	if err != nil {
		return err
	}
	return d.API.ContainerStart(ctx, c.ID, container.StartOptions{})
}

func (d *Docker) StopService(ctx context.Context, service string) error {
	c, err := d.serviceContainer(ctx, service)
	if err != nil {
		return err
	}
	return d.API.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: d.stopTimeout()})
}

// Exec runs cmd in the service's running container, streaming stdin to it and its stdout to stdout.
// Standard error goes to stderr, if given, and into the error message on a non-zero exit.
func (d *Docker) Exec(ctx context.Context, service string, cmd []string, stdin io.Reader, stdout, stderr io.Writer) error {
	c, err := d.serviceContainer(ctx, service)
	if err != nil {
		return err
	}

	created, err := d.API.ContainerExecCreate(ctx, c.ID, types.ExecConfig{
		Cmd:          cmd,
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("exec %s in %s: %w", cmd[0], service, err)
	}

	attached, err := d.API.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return fmt.Errorf("attach to %s in %s: %w", cmd[0], service, err)
	}
	defer attached.Close()

	inputErr := make(chan error, 1)
	go func() {
		if stdin == nil {
			inputErr <- nil
			return
		}
		_, err := io.Copy(attached.Conn, stdin)
		if closeErr := attached.CloseWrite(); err == nil {
			err = closeErr
		}
		inputErr <- err
	}()

	captured := &strings.Builder{}
	errOut := io.Writer(captured)
	if stderr != nil {
		errOut = io.MultiWriter(captured, stderr)
	}
	if stdout == nil {
		stdout = io.Discard
	}
	_, err = stdcopy.StdCopy(stdout, errOut, attached.Reader)
	if err != nil {
		return fmt.Errorf("read output of %s in %s: %w", cmd[0], service, err)
	}
	if err := <-inputErr; err != nil {
		return fmt.Errorf("write input to %s in %s: %w", cmd[0], service, err)
	}

	inspect, err := d.API.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return err
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("%w: %s in %s exited with %d: %s", ErrExecFailed, cmd[0], service, inspect.ExitCode, strings.TrimSpace(captured.String()))
	}
	return nil
}

// CopyFrom extracts one regular file from the service container.
func (d *Docker) CopyFrom(ctx context.Context, service, path string, w io.Writer) error {
	c, err := d.serviceContainer(ctx, service)
	if err != nil {
		return err
	}

	stream, _, err := d.API.CopyFromContainer(ctx, c.ID, path)
	if err != nil {
		return fmt.Errorf("copy %s from %s: %w", path, service, err)
	}
	defer stream.Close()

	return firstFile(tar.NewReader(stream), w)
}

func firstFile(archive *tar.Reader, w io.Writer) error {
	for {
		header, err := archive.Next()
		if err == io.EOF {
			return errors.New("archive contains no regular file")
		}
		if err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		_, err = io.Copy(w, archive)
		return err
	}
}

// VolumeMountpoint resolves a volume's host path. Compose prefixes volume names with the
// project name, so "redis-data" also matches "shop_redis-data".
func (d *Docker) VolumeMountpoint(ctx context.Context, name string) (string, error) {
	vol, err := d.API.VolumeInspect(ctx, name)
	if err == nil {
		return vol.Mountpoint, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", err
	}

	list, err := d.API.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return "", err
	}
	for _, v := range list.Volumes {
		if strings.HasSuffix(v.Name, "_"+name) {
			return v.Mountpoint, nil
		}
	}
	return "", fmt.Errorf("volume %s not found", name)
}

func (d *Docker) ListVolumes(ctx context.Context) ([]string, error) {
	list, err := d.API.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list.Volumes))
	for _, v := range list.Volumes {
		names = append(names, v.Name)
	}
	return names, nil
}

// ArchiveVolume mounts the volume read-only into a helper container that tars it into destDir.
// The helper is removed on every path.
func (d *Docker) ArchiveVolume(ctx context.Context, name, destDir, fileName string) error {
	dest, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}

	config := &container.Config{
		Image: d.helperImage(),
		Cmd:   []string{"tar", "-czf", backupMount + "/" + fileName, "-C", volumeMount, "."},
		Labels: map[string]string{
			"org.nais.hostops.helper": "volume-archive",
		},
	}
	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeVolume, Source: name, Target: volumeMount, ReadOnly: true},
			{Type: mount.TypeBind, Source: dest, Target: backupMount},
		},
	}

	created, err := d.API.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if errdefs.IsNotFound(err) {
		log.Infof("Pulling helper image %s", config.Image)
		if err := d.Pull(ctx, config.Image); err != nil {
			return fmt.Errorf("pull helper image: %w", err)
		}
		created, err = d.API.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	}
	if err != nil {
		return fmt.Errorf("create helper for %s: %w", name, err)
	}
	defer func() {
		err := d.API.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		if err != nil {
			log.Warnf("Unable to remove helper container %s: %s", shortID(created.ID), err)
		}
	}()

	statusCh, errCh := d.API.ContainerWait(ctx, created.ID, container.WaitConditionNextExit)
	err = d.API.ContainerStart(ctx, created.ID, container.StartOptions{})
	if err != nil {
		return fmt.Errorf("start helper for %s: %w", name, err)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("wait for helper archiving %s: %w", name, err)
	case status := <-statusCh:
		if status.Error != nil {
			return fmt.Errorf("helper archiving %s: %s", name, status.Error.Message)
		}
		if status.StatusCode != 0 {
			return fmt.Errorf("helper archiving %s exited with %d", name, status.StatusCode)
		}
		return nil
	}
}
