package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"taskd/internal/task/engine"
	logx "taskd/pkg/logx"
)

// armLocked sets the job Scheduled with its next fire at next.
func (s *Service) armLocked(j *Job, next time.Time) {
	j.disarmLocked()
	j.state = StateScheduled
	j.next = next
	gen := j.gen

	d := next.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	j.timer = s.clock.AfterFunc(d, func() { s.fire(j, gen) })
}

// fire hands a due job to the executor. A stale gen means the timer was
// canceled after it expired.
func (s *Service) fire(j *Job, gen uint64) {
	j.mu.Lock()
	if j.gen != gen || j.state != StateScheduled {
		j.mu.Unlock()
		return
	}
	j.state = StateRunning
	j.timer = nil
	fireAt := j.next
	j.mu.Unlock()

	var skipped bool
	task := engine.Task{
		Name: "job:" + j.def.Name,
		Run: func(context.Context) error {
			j.mu.Lock()
			skipped = j.stopPending != ""
			j.mu.Unlock()
			if skipped {
				return nil
			}
			j.def.Callback()
			return nil
		},
		Done: func(res engine.Result) {
			if skipped {
				res.Ran = false
			}
			s.complete(j, fireAt, res)
		},
	}
	if err := s.exec.Submit(s.ctx, task); err != nil {
		if s.ctx.Err() == nil {
			s.log.Warn("fire not submitted", logx.String("job", j.def.Name), logx.Err(err))
		}
		s.complete(j, fireAt, engine.Result{Err: err})
	}
}

// complete records a finished fire and decides the job's next state.
// Requests made while Running take effect here.
func (s *Service) complete(j *Job, fireAt time.Time, res engine.Result) {
	now := s.clock.Now()

	j.mu.Lock()
	var cbErr error
	if res.Ran {
		j.runCount++
		j.lastFire = fireAt
		if res.Err != nil {
			cbErr = errors.Mark(errors.Wrapf(res.Err, "job %q", j.def.Name), ErrCallbackFailure)
			j.failures++
			j.lastErr = cbErr
		} else {
			j.failures = 0
		}
	}
	runCount := j.runCount

	var reason StopReason
	paused := false
	switch {
	case j.stopPending != "":
		reason = j.stopPending
	case j.budgetSpentLocked():
		reason = ReasonBudget
	case s.cfg.MaxConsecutiveFailures > 0 && j.failures >= s.cfg.MaxConsecutiveFailures:
		reason = ReasonFailures
	case j.pausePending:
		j.pausePending = false
		j.disarmLocked()
		j.state = StatePaused
		paused = true
	default:
		next, err := s.trig.Next(j.def.Trigger, fireAt, now)
		if err != nil {
			reason = ReasonExhausted
		} else {
			s.armLocked(j, next)
		}
	}
	if reason != "" {
		j.finishLocked(reason)
	}
	ev := j.event(fireAt)
	ev.Duration = res.Duration
	if cbErr != nil {
		ev.Error = cbErr.Error()
	}
	j.mu.Unlock()

	if res.Ran {
		s.publish(EventFired, ev)
		s.log.Debug("job fired",
			logx.String("job", j.def.Name),
			logx.Int("run", runCount),
			logx.Duration("took", res.Duration),
			logx.Time("next", ev.Next),
		)
	}
	if cbErr != nil {
		s.reportFailure(j, fireAt, runCount, cbErr, res.Err)
	}
	switch {
	case reason != "":
		s.unregister(j)
		s.log.Info("job stopped", logx.String("job", j.def.Name), logx.String("reason", string(reason)), logx.Int("runs", runCount))
		s.publish(EventStopped, ev)
	case paused:
		s.log.Info("job paused", logx.String("job", j.def.Name), logx.String("id", j.id))
		s.publish(EventPaused, ev)
	}
}

// reportFailure logs (rate-limited per job), publishes and hands the failure
// to the registered handler. Nothing here propagates back into the scheduler.
func (s *Service) reportFailure(j *Job, fireAt time.Time, runCount int, err, cause error) {
	if j.warn.Allow() {
		fields := []logx.Field{
			logx.String("job", j.def.Name),
			logx.String("id", j.id),
			logx.Int("run", runCount),
			logx.Err(err),
		}
		var pe *engine.PanicError
		if errors.As(cause, &pe) {
			fields = append(fields, logx.Stack(pe.Stack))
		}
		s.log.Warn("job callback failed", fields...)
	}
	s.publish(EventFailed, JobEvent{ID: j.id, Name: j.def.Name, RunCount: runCount, FireTime: fireAt, Error: err.Error()})

	h := s.onFailure
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("failure handler panicked", logx.String("job", j.def.Name), logx.String("panic", fmt.Sprint(r)))
		}
	}()
	h(Failure{JobID: j.id, Name: j.def.Name, FireTime: fireAt, RunCount: runCount, Err: err})
}
