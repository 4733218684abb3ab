// Package report renders operator-facing tables for backup and restore runs.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	"github.com/nais/hostops/pkg/backup"
	"github.com/nais/hostops/pkg/restore"
	"github.com/nais/hostops/pkg/snapshot"
)

const maxColWidth = 60

func newTable() *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = maxColWidth
	table.Wrap = true
	return table
}

// Snapshots lists snapshots in the given order, with their age relative to now.
func Snapshots(w io.Writer, snapshots []snapshot.Snapshot, now time.Time) error {
	if len(snapshots) == 0 {
		_, err := fmt.Fprintln(w, "No snapshots found.")
		return err
	}

	table := newTable()
	table.AddRow("ID", "TIME", "AGE", "HOST", "TAGS")
	for _, s := range snapshots {
		table.AddRow(
			s.ShortID,
			s.Time.Local().Format("2006-01-02 15:04:05"),
			humanize.RelTime(s.Time, now, "ago", "from now"),
			s.Hostname,
			strings.Join(s.Tags, ","),
		)
	}
	_, err := fmt.Fprintln(w, table)
	return err
}

// BackupSet lists every artifact of a run with its status.
func BackupSet(w io.Writer, set *backup.Set) error {
	table := newTable()
	table.RightAlign(3)
	table.AddRow("ARTIFACT", "KIND", "STATUS", "SIZE", "DURATION", "ERROR")
	for _, r := range set.Results {
		size := ""
		if r.Size > 0 {
			size = humanize.IBytes(uint64(r.Size))
		}
		duration := ""
		if r.Duration > 0 {
			duration = r.Duration.Round(time.Millisecond).String()
		}
		table.AddRow(r.Name, r.Kind, r.Status, size, duration, r.Error)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", table, set.Summary())
	return err
}

// Restore lists the restored and skipped components.
func Restore(w io.Writer, out *restore.Outcome) error {
	table := newTable()
	table.AddRow("COMPONENT", "RESULT", "DETAIL")
	for _, c := range out.Restored {
		table.AddRow(c, "restored", "")
	}
	for _, s := range out.Skipped {
		table.AddRow(s.Component, "skipped", s.Reason)
	}
	_, err := fmt.Fprintf(w, "%s\n%s\n", table, out.Summary())
	return err
}
