package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration

	// Retain caps how many fire records are kept per job (default 500).
	Retain int
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return 500
	}
	return c.Retain
}

// FireRecord is one completed fire of a job.
type FireRecord struct {
	JobID    string        `json:"job_id"`
	Job      string        `json:"job"`
	Run      int           `json:"run"`
	FireTime time.Time     `json:"fire_time"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
}
