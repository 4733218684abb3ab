package restore

import (
	"fmt"
	"strings"
	"time"

	"github.com/nais/hostops/pkg/snapshot"
)

type Skipped struct {
	Component string `json:"component"`
	Reason    string `json:"reason"`
}

// Outcome names which components a restore replaced and which it left alone.
type Outcome struct {
	ID           string             `json:"id"`
	Selector     string             `json:"selector"`
	Snapshot     *snapshot.Snapshot `json:"snapshot,omitempty"`
	Database     string             `json:"database,omitempty"`
	DumpFile     string             `json:"dump_file,omitempty"`
	KeyValueFile string             `json:"kv_file,omitempty"`
	Terminated   int                `json:"terminated_connections"`
	Restored     []string           `json:"restored"`
	Skipped      []Skipped          `json:"skipped"`
	StartedAt    time.Time          `json:"started_at"`
	Duration     time.Duration      `json:"duration"`
	Err          error              `json:"-"`
}

func (o *Outcome) restored(component string) {
	o.Restored = append(o.Restored, component)
}

func (o *Outcome) skipped(component, reason string) {
	o.Skipped = append(o.Skipped, Skipped{Component: component, Reason: reason})
}

// Warning describes the destructive steps about to run.
func (o *Outcome) Warning(database, keyValue string) string {
	target := "every database in the cluster"
	if len(o.Database) > 0 {
		target = fmt.Sprintf("database %q", o.Database)
	}
	lines := []string{
		fmt.Sprintf("Restoring snapshot %s will terminate all connections to %s on %s and replace its data.", o.Snapshot, target, database),
	}
	if len(o.KeyValueFile) > 0 && len(keyValue) > 0 {
		lines = append(lines, fmt.Sprintf("%s will be stopped and its data replaced.", keyValue))
	}
	lines = append(lines, "This cannot be undone.")
	return strings.Join(lines, "\n")
}

// Summary is the final one-line report of the restore.
func (o *Outcome) Summary() string {
	var b strings.Builder
	b.WriteString("restore ")
	if o.Snapshot != nil {
		b.WriteString(o.Snapshot.ShortID)
	} else {
		fmt.Fprintf(&b, "%q", o.Selector)
	}
	if len(o.Restored) > 0 {
		fmt.Fprintf(&b, ": restored %s", strings.Join(o.Restored, ", "))
	} else {
		b.WriteString(": nothing restored")
	}
	for _, s := range o.Skipped {
		fmt.Fprintf(&b, "; skipped %s (%s)", s.Component, s.Reason)
	}
	fmt.Fprintf(&b, " in %s", o.Duration.Round(time.Millisecond))
	if o.Err != nil {
		b.WriteString(": " + o.Err.Error())
	}
	return b.String()
}
