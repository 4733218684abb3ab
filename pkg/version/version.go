// Package version exposes build information injected with -ldflags.
package version

import (
	"strconv"
	"time"
)

var (
	// Set with -ldflags "-X github.com/nais/hostops/pkg/version.version=..."
	version = "unknown"
	// Unix timestamp of the build.
	buildTime = "0"
)

func Version() string {
	return version
}

func BuildTime() (time.Time, error) {
	ts, err := strconv.ParseInt(buildTime, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts, 0), nil
}
