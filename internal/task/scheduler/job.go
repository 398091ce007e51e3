package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Job is a scheduled job. The handle returned by Schedule stays readable
// after the job leaves the registry.
type Job struct {
	id      string
	def     Definition
	created time.Time

	mu       sync.Mutex
	state    State
	runCount int
	failures int
	lastErr  error
	lastFire time.Time
	next     time.Time

	timer clockwork.Timer
	gen   uint64

	// Requests made while Running, applied when the callback returns.
	pausePending bool
	stopPending  StopReason

	reason StopReason
	done   chan struct{}

	warn *rate.Limiter
}

func newJob(id string, def Definition, now time.Time) *Job {
	if def.Name == "" {
		def.Name = id
	}
	return &Job{
		id:      id,
		def:     def,
		created: now,
		done:    make(chan struct{}),
		warn:    rate.NewLimiter(rate.Every(30*time.Second), 3),
	}
}

func (j *Job) ID() string   { return j.id }
func (j *Job) Name() string { return j.def.Name }

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) RunCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runCount
}

// NextFireTime reports the armed fire time; ok is false when the job is
// Paused or Stopped.
func (j *Job) NextFireTime() (t time.Time, ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.next, !j.next.IsZero()
}

// Done is closed once the job is Stopped and no callback is in flight.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.statusLocked()
}

func (j *Job) statusLocked() Status {
	st := Status{
		ID:         j.id,
		Name:       j.def.Name,
		Kind:       j.def.Trigger.Kind(),
		Trigger:    j.def.Trigger.String(),
		State:      j.state,
		RunCount:   j.runCount,
		MaxRuns:    j.def.MaxRuns,
		NextFire:   j.next,
		LastFire:   j.lastFire,
		Failures:   j.failures,
		StopReason: j.reason,
	}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}

func (j *Job) event(fire time.Time) JobEvent {
	return JobEvent{
		ID:       j.id,
		Name:     j.def.Name,
		State:    j.state.String(),
		RunCount: j.runCount,
		FireTime: fire,
		Next:     j.next,
		Reason:   string(j.reason),
	}
}

// disarmLocked cancels the pending timer. Bumping gen invalidates a timer
// callback that already started but has not taken the lock yet.
func (j *Job) disarmLocked() {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	j.gen++
	j.next = time.Time{}
}

// finishLocked moves the job to Stopped. The caller guarantees no callback
// is in flight.
func (j *Job) finishLocked(reason StopReason) {
	j.disarmLocked()
	j.state = StateStopped
	j.reason = reason
	j.pausePending = false
	j.stopPending = ""
	close(j.done)
}

func (j *Job) budgetSpentLocked() bool {
	return j.def.MaxRuns > 0 && j.runCount >= j.def.MaxRuns
}
