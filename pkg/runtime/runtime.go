// Package runtime describes the narrow contract hostops needs from the container engine.
package runtime

import (
	"context"
	"io"
	"time"

	"github.com/nais/hostops/pkg/servicespec"
)

type Health int

const (
	Healthy Health = iota
	Unhealthy
	TimedOut
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// Registry pre-fetches artifacts.
type Registry interface {
	Pull(ctx context.Context, imageRef string) error
}

// Runtime runs application instances from their service specification.
type Runtime interface {
	// StartOrUpdate (re)starts the service bound to versionTag without touching its dependencies,
	// and blocks until the instance is healthy, reports unhealthy, or waitTimeout elapses.
	StartOrUpdate(ctx context.Context, spec *servicespec.Spec, versionTag string, waitTimeout time.Duration) (Health, error)
	// CurrentInstance returns the running instance for the app, or an empty string if there is none.
	CurrentInstance(ctx context.Context, spec *servicespec.Spec) (string, error)
	Stop(ctx context.Context, instanceID string) error
	Restart(ctx context.Context, instanceID string) error
	Status(ctx context.Context, spec *servicespec.Spec) (string, error)
	TailLogs(ctx context.Context, spec *servicespec.Spec, lines int) ([]string, error)
}

// Services operates on long-running infrastructure services such as databases, addressed by service name.
type Services interface {
	Running(ctx context.Context, service string) (bool, error)
	StartService(ctx context.Context, service string) error
	StopService(ctx context.Context, service string) error
	// Exec runs cmd inside the service container; a non-zero exit status is an error.
	// Standard error also goes to stderr when it is not nil.
	Exec(ctx context.Context, service string, cmd []string, stdin io.Reader, stdout, stderr io.Writer) error
	// CopyFrom writes the content of a single file inside the service container to w.
	CopyFrom(ctx context.Context, service, path string, w io.Writer) error
	VolumeMountpoint(ctx context.Context, volume string) (string, error)
}

// Volumes archives persistent data volumes.
type Volumes interface {
	ListVolumes(ctx context.Context) ([]string, error)
	// ArchiveVolume writes a gzip-compressed tarball of the volume to destDir/fileName,
	// reading the volume read-only through a throwaway helper container.
	ArchiveVolume(ctx context.Context, volume, destDir, fileName string) error
}
