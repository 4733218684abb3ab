// Package snapshot describes the remote snapshot repository the backup and restore engines
// talk to, together with the repository-independent pieces: selector resolution and retention planning.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Latest selects the newest snapshot carrying the requested tag.
const Latest = "latest"

// Tag namespaces. Retention is applied per namespace and never across them.
const (
	TagDatabase = "database"
	TagVolumes  = "volumes"
)

// DateTagLayout is the layout of the date tag attached to every snapshot.
const DateTagLayout = "2006-01-02"

var (
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrAmbiguousSelector = errors.New("snapshot selector is ambiguous")
)

type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Tags     []string  `json:"tags"`
	Paths    []string  `json:"paths"`
	Hostname string    `json:"hostname"`
}

func (s Snapshot) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (s Snapshot) String() string {
	id := s.ShortID
	if len(id) == 0 {
		id = s.ID
	}
	return fmt.Sprintf("%s (%s) [%s]", id, s.Time.Format(time.RFC3339), strings.Join(s.Tags, ","))
}

type RetentionPolicy struct {
	KeepDaily   int `json:"keep-daily"`
	KeepWeekly  int `json:"keep-weekly"`
	KeepMonthly int `json:"keep-monthly"`
}

var DefaultRetention = RetentionPolicy{KeepDaily: 7, KeepWeekly: 4, KeepMonthly: 6}

func (p RetentionPolicy) Empty() bool {
	return p.KeepDaily <= 0 && p.KeepWeekly <= 0 && p.KeepMonthly <= 0
}

func (p RetentionPolicy) String() string {
	return fmt.Sprintf("daily=%d weekly=%d monthly=%d", p.KeepDaily, p.KeepWeekly, p.KeepMonthly)
}

// Repository is an encrypted, deduplicating, content-addressed snapshot store.
// Implementations must never mutate existing snapshots.
type Repository interface {
	// Backup uploads sourceDir as one snapshot carrying all tags.
	Backup(ctx context.Context, sourceDir string, tags []string) (*Snapshot, error)
	// List returns the snapshots carrying tag, newest first.
	List(ctx context.Context, tag string) ([]Snapshot, error)
	// Restore writes the content of snapshot id into targetDir.
	Restore(ctx context.Context, id, targetDir, tag string) error
	// Forget applies policy to the snapshots carrying tag and returns the ids it removed.
	Forget(ctx context.Context, policy RetentionPolicy, tag string) ([]string, error)
}

// SortNewestFirst orders snapshots by time, newest first, with id as tie breaker.
func SortNewestFirst(snapshots []Snapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		if snapshots[i].Time.Equal(snapshots[j].Time) {
			return snapshots[i].ID > snapshots[j].ID
		}
		return snapshots[i].Time.After(snapshots[j].Time)
	})
}

// Resolve picks exactly one snapshot for selector: "latest" (or empty) for the newest,
// otherwise a full id, a short id or an unambiguous id prefix.
func Resolve(snapshots []Snapshot, selector string) (*Snapshot, error) {
	selector = strings.TrimSpace(selector)

	if len(selector) == 0 || selector == Latest {
		if len(snapshots) == 0 {
			return nil, fmt.Errorf("%w: repository holds no snapshots", ErrSnapshotNotFound)
		}
		newest := snapshots[0]
		for _, s := range snapshots[1:] {
			if s.Time.After(newest.Time) {
				newest = s
			}
		}
		return &newest, nil
	}

	var matches []Snapshot
	for _, s := range snapshots {
		if s.ID == selector || s.ShortID == selector {
			return &s, nil
		}
		if strings.HasPrefix(s.ID, selector) {
			matches = append(matches, s)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %q", ErrSnapshotNotFound, selector)
	case 1:
		return &matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d snapshots", ErrAmbiguousSelector, selector, len(matches))
	}
}

// PlanRetention splits snapshots into those policy keeps and those it removes.
// For each rule the newest snapshot of each distinct day, ISO week or month is kept,
// until the rule's count is used up. A snapshot kept by any rule is kept.
func PlanRetention(snapshots []Snapshot, policy RetentionPolicy) (keep, remove []Snapshot) {
	sorted := make([]Snapshot, len(snapshots))
	copy(sorted, snapshots)
	SortNewestFirst(sorted)

	rules := []struct {
		count  int
		bucket func(time.Time) string
	}{
		{policy.KeepDaily, func(t time.Time) string { return t.Format("2006-01-02") }},
		{policy.KeepWeekly, func(t time.Time) string {
			year, week := t.ISOWeek()
			return fmt.Sprintf("%d-W%02d", year, week)
		}},
		{policy.KeepMonthly, func(t time.Time) string { return t.Format("2006-01") }},
	}

	kept := make([]bool, len(sorted))
	for _, rule := range rules {
		remaining := rule.count
		last := ""
		for i, s := range sorted {
			if remaining <= 0 {
				break
			}
			bucket := rule.bucket(s.Time)
			if bucket == last {
				continue
			}
			last = bucket
			kept[i] = true
			remaining--
		}
	}

	for i, s := range sorted {
		if kept[i] {
			keep = append(keep, s)
		} else {
			remove = append(remove, s)
		}
	}
	return keep, remove
}

// DateTag is the date tag for a run started at t.
func DateTag(t time.Time) string {
	return t.Format(DateTagLayout)
}
