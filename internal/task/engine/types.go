package engine

import (
	"context"
	"time"

	rtsup "taskd/internal/runtime/supervisor"
)

// Config sizes the worker pool that executes due fires.
//
// Zero fields take defaults: 2 workers, a queue of 256 and 200 history items.
type Config struct {
	Workers     int
	QueueSize   int
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Task is one unit of work.
//
// Done, when set, is called exactly once per accepted task: after Run returns
// (or panics), or with Ran=false if the pool stops before the task starts.
// Done runs on the worker goroutine that ran the task.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context) error
	Done func(Result)
}

// Result describes a finished or abandoned task.
type Result struct {
	ID         string
	Name       string
	Ran        bool
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Err        error
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is published as task.started, task.finished and task.failed.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Running  bool `json:"running"`
	Workers  int  `json:"workers"`
	QueueLen int  `json:"queue_len"`
	QueueCap int  `json:"queue_cap"`
	InFlight int  `json:"in_flight"`

	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`

	Supervisor rtsup.Counters `json:"supervisor"`
	History    []HistoryItem  `json:"history,omitempty"`
}
