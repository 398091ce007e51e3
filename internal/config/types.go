package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"taskd/internal/task/trigger"
)

// Config is the taskd configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Engine    EngineConfig    `json:"engine"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     *DebugConfig    `json:"debug,omitempty"`
	Jobs      []JobConfig     `json:"jobs" validate:"dive"`
}

// DebugConfig enables the operator HTTP endpoint (job status, history, pprof).
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EngineConfig sizes the worker pool that runs job callbacks.
//
// Defaults (when zero): workers 2, queue_size 256, history_size 200.
type EngineConfig struct {
	Workers     int `json:"workers,omitempty" validate:"gte=0,lte=1024"`
	QueueSize   int `json:"queue_size,omitempty" validate:"gte=0"`
	HistorySize int `json:"history_size,omitempty" validate:"gte=0"`
}

type SchedulerConfig struct {
	// Timezone for calendar jobs (IANA name, empty means local time).
	Timezone string `json:"timezone,omitempty"`

	// MaxConsecutiveFailures stops a job after N failed fires in a row (0 = never).
	MaxConsecutiveFailures int `json:"max_consecutive_failures,omitempty" validate:"gte=0"`

	// ShutdownTimeout bounds the wait for in-flight callbacks on exit (default 10s).
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

// StorageConfig enables the fire history store. Omit to disable.
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path" validate:"required_unless=Driver none"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	Retain      int    `json:"retain,omitempty" validate:"gte=0"`
}

// JobConfig declares a job bound to a named action. Exactly one of
// Schedule, Cron or Interval must be set.
type JobConfig struct {
	Name     string          `json:"name" validate:"required,max=128"`
	Schedule string          `json:"schedule,omitempty"`
	Cron     string          `json:"cron,omitempty"`
	Interval *IntervalConfig `json:"interval,omitempty"`
	MaxRuns  int             `json:"max_runs,omitempty" validate:"gte=0"`
	Action   string          `json:"action" validate:"required"`
	Message  string          `json:"message,omitempty"`
	Paused   bool            `json:"paused,omitempty"`

	// Unit and Operation are used by the "unit" action.
	Unit      string `json:"unit,omitempty"`
	Operation string `json:"operation,omitempty" validate:"omitempty,oneof=start stop restart"`
}

type IntervalConfig struct {
	Delay string `json:"delay,omitempty"`
	Every string `json:"every"`
}

// Trigger resolves the job's trigger spec. It does not probe calendar
// expressions; the scheduler does that on Schedule.
func (j JobConfig) Trigger() (trigger.Spec, error) {
	path := "jobs[" + j.Name + "]"
	set := 0
	for _, v := range []bool{strings.TrimSpace(j.Schedule) != "", strings.TrimSpace(j.Cron) != "", j.Interval != nil} {
		if v {
			set++
		}
	}
	if set != 1 {
		return nil, errors.Newf("%s: exactly one of schedule, cron, interval is required", path)
	}

	switch {
	case j.Interval != nil:
		every, err := ParseDurationField(path+".interval.every", j.Interval.Every)
		if err != nil {
			return nil, err
		}
		if every <= 0 {
			return nil, errors.Newf("%s.interval.every: must be > 0", path)
		}
		delay, err := ParseDurationField(path+".interval.delay", j.Interval.Delay)
		if err != nil {
			return nil, err
		}
		return trigger.Interval{Delay: delay, Every: every}, nil
	case strings.TrimSpace(j.Cron) != "":
		return trigger.Calendar{Expression: strings.TrimSpace(j.Cron)}, nil
	default:
		spec, err := trigger.Parse(j.Schedule)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.schedule", path)
		}
		return spec, nil
	}
}

// ShutdownTimeout returns the parsed scheduler.shutdown_timeout (default 10s).
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.shutdown_timeout", c.Scheduler.ShutdownTimeout, 10*time.Second)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// JobByName returns the declared job with name.
func (c *Config) JobByName(name string) (JobConfig, bool) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobConfig{}, false
}
