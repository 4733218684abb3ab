package backup

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nais/hostops/pkg/metrics"
	"github.com/nais/hostops/pkg/snapshot"
)

type Kind string

const (
	KindDatabase Kind = snapshot.TagDatabase
	KindVolumes  Kind = snapshot.TagVolumes
)

func (k Kind) Valid() bool {
	return k == KindDatabase || k == KindVolumes
}

// Artifact kinds.
const (
	ArtifactSQLDump      = "sql-dump"
	ArtifactKeyValueDump = "kv-dump"
	ArtifactCertificates = "certificates"
	ArtifactSpecs        = "service-specs"
	ArtifactVolume       = "volume"
)

type Artifact struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Result is the outcome of collecting one artifact. Failed and skipped artifacts
// are reported but never uploaded.
type Result struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Status   string        `json:"status"`
	Size     int64         `json:"size,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Set is one backup run: the staged artifacts, the per-artifact report and, once
// uploaded, the resulting snapshot and the snapshots retention removed.
type Set struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Tag       Kind               `json:"tag"`
	DateTag   string             `json:"date_tag"`
	Artifacts []Artifact         `json:"artifacts"`
	Results   []Result           `json:"results"`
	Snapshot  *snapshot.Snapshot `json:"snapshot,omitempty"`
	Removed   []string           `json:"removed,omitempty"`
	DryRun    bool               `json:"dry_run,omitempty"`
}

func (s *Set) Tags() []string {
	return []string{string(s.Tag), s.DateTag}
}

func (s *Set) Size() int64 {
	var total int64
	for _, a := range s.Artifacts {
		total += a.Size
	}
	return total
}

func (s *Set) add(name string, artifact Artifact, elapsed time.Duration) {
	s.Artifacts = append(s.Artifacts, artifact)
	s.Results = append(s.Results, Result{
		Name:     name,
		Kind:     artifact.Kind,
		Status:   metrics.StatusOK,
		Size:     artifact.Size,
		Duration: elapsed,
	})
	metrics.BackupArtifact(string(s.Tag), artifact.Kind, metrics.StatusOK)
}

func (s *Set) skip(name, kind string, reason error) {
	s.Results = append(s.Results, Result{
		Name:   name,
		Kind:   kind,
		Status: metrics.StatusSkipped,
		Error:  reason.Error(),
	})
	metrics.BackupArtifact(string(s.Tag), kind, metrics.StatusSkipped)
}

func (s *Set) fail(name, kind string, elapsed time.Duration, err error) {
	s.Results = append(s.Results, Result{
		Name:     name,
		Kind:     kind,
		Status:   metrics.StatusFailed,
		Duration: elapsed,
		Error:    err.Error(),
	})
	metrics.BackupArtifact(string(s.Tag), kind, metrics.StatusFailed)
}

func (s *Set) count(status string) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Summary is the final one-line report of the run.
func (s *Set) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backup %s: %d artifacts (%s)", s.Tag, len(s.Artifacts), humanize.Bytes(uint64(s.Size())))
	if n := s.count(metrics.StatusSkipped); n > 0 {
		fmt.Fprintf(&b, ", %d skipped", n)
	}
	if n := s.count(metrics.StatusFailed); n > 0 {
		fmt.Fprintf(&b, ", %d failed", n)
	}
	switch {
	case s.DryRun:
		b.WriteString(", dry run: nothing uploaded")
	case s.Snapshot != nil:
		fmt.Fprintf(&b, ", snapshot %s", s.Snapshot.ShortID)
		if len(s.Removed) > 0 {
			fmt.Fprintf(&b, ", retention removed %d", len(s.Removed))
		}
	default:
		b.WriteString(", nothing uploaded")
	}
	return b.String()
}
