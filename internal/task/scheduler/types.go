package scheduler

import (
	"time"

	"github.com/cockroachdb/errors"

	"taskd/internal/task/engine"
	"taskd/internal/task/trigger"
)

// State is a job's lifecycle state.
type State int

const (
	StateScheduled State = iota + 1
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for _, st := range []State{StateScheduled, StateRunning, StatePaused, StateStopped} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return errors.Newf("unknown job state %q", b)
}

// StopReason records why a job reached StateStopped.
type StopReason string

const (
	ReasonStopped   StopReason = "stopped"
	ReasonBudget    StopReason = "run_budget"
	ReasonExhausted StopReason = "trigger_exhausted"
	ReasonFailures  StopReason = "failure_policy"
	ReasonShutdown  StopReason = "shutdown"
)

// Callback is the zero-argument, no-result function invoked once per fire.
// A panicking callback is reported as a failure of that fire only.
type Callback func()

// Definition describes a job. It is copied on Schedule and never mutated.
type Definition struct {
	// Name is a human label used in logs and events. Defaults to the job id.
	Name string `validate:"max=128"`

	Trigger trigger.Spec `validate:"-"`

	// MaxRuns bounds the number of fires; 0 means unbounded.
	MaxRuns int `validate:"gte=0"`

	// Paused registers the job without arming it; Resume arms it.
	Paused bool

	Callback Callback `validate:"required"`
}

// Failure describes one failed fire, handed to the FailureHandler.
type Failure struct {
	JobID    string
	Name     string
	FireTime time.Time
	RunCount int
	Err      error
}

// FailureHandler receives callback failures. It runs on a pool worker and
// must not block for long.
type FailureHandler func(Failure)

// Config controls scheduler behavior.
type Config struct {
	// Timezone is an IANA name used for calendar triggers (Local if empty).
	Timezone string

	// MaxConsecutiveFailures stops a job after this many failed fires in a
	// row. 0 never stops a job because of failures.
	MaxConsecutiveFailures int
}

// Status is a read-only view of a job.
type Status struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Kind       trigger.Kind `json:"kind"`
	Trigger    string       `json:"trigger"`
	State      State        `json:"state"`
	RunCount   int          `json:"run_count"`
	MaxRuns    int          `json:"max_runs"`
	NextFire   time.Time    `json:"next_fire"` // zero unless Scheduled or Running
	LastFire   time.Time    `json:"last_fire"`
	Failures   int          `json:"failures"`
	LastError  string       `json:"last_error,omitempty"`
	StopReason StopReason   `json:"stop_reason,omitempty"`
}

// Snapshot is a point-in-time view of the scheduler and its pool.
type Snapshot struct {
	Timezone string          `json:"timezone"`
	Closed   bool            `json:"closed"`
	Jobs     []Status        `json:"jobs"`
	Engine   engine.Snapshot `json:"engine"`
}

// JobEvent is published on the event bus for job lifecycle changes.
type JobEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	State    string        `json:"state"`
	RunCount int           `json:"run_count"`
	FireTime time.Time     `json:"fire_time,omitempty"`
	Next     time.Time     `json:"next,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Event types published by the scheduler.
const (
	EventScheduled = "job.scheduled"
	EventFired     = "job.fired"
	EventFailed    = "job.failed"
	EventPaused    = "job.paused"
	EventResumed   = "job.resumed"
	EventStopped   = "job.stopped"
)
