package deployer

import (
	"fmt"
	"time"

	"github.com/nais/hostops/pkg/servicespec"
)

type Result int

const (
	Promoted Result = iota
	RolledBack
	Failed
)

func (r Result) String() string {
	switch r {
	case Promoted:
		return "promoted"
	case RolledBack:
		return "rolled back"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type State string

const (
	StateIdle        State = "idle"
	StatePulling     State = "pulling"
	StateStarting    State = "starting"
	StateHealthy     State = "healthy"
	StateUnhealthy   State = "unhealthy"
	StateTimedOut    State = "timed out"
	StateRollingBack State = "rolling back"
	StatePromoted    State = "promoted"
	StateRolledBack  State = "rolled back"
	StateFailed      State = "failed"
)

func (s State) Terminal() bool {
	return s == StatePromoted || s == StateRolledBack || s == StateFailed
}

// Request identifies exactly one target service instance.
type Request struct {
	App string
	Tag string
}

func NewRequest(app, tag string) Request {
	if len(tag) == 0 {
		tag = servicespec.DefaultTag
	}
	return Request{App: app, Tag: tag}
}

// Outcome is produced once per deployment attempt and not modified after Deploy returns.
type Outcome struct {
	ID               string
	App              string
	Tag              string
	Image            string
	StartedAt        time.Time
	Duration         time.Duration
	Result           Result
	PreviousInstance string
	Transitions      []State

	// Instance status and recent log lines, captured on promotion.
	Status string
	Logs   []string

	// Err is the failure that ended the attempt. RollbackErr never replaces it.
	Err         error
	RollbackErr error
}

func (o *Outcome) transition(state State) {
	o.Transitions = append(o.Transitions, state)
}

func (o *Outcome) State() State {
	if len(o.Transitions) == 0 {
		return StateIdle
	}
	return o.Transitions[len(o.Transitions)-1]
}

// Summary is the final one-line report of the attempt.
func (o *Outcome) Summary() string {
	line := fmt.Sprintf("deploy %s:%s %s in %s", o.App, o.Tag, o.Result, o.Duration.Round(time.Millisecond))
	if len(o.PreviousInstance) > 0 {
		line += fmt.Sprintf(" (previous instance %s)", shortID(o.PreviousInstance))
	}
	if o.Err != nil {
		line += ": " + o.Err.Error()
	}
	if o.RollbackErr != nil {
		line += "; " + o.RollbackErr.Error()
	}
	return line
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
