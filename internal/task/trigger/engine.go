package trigger

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrExhausted signals that a trigger produces no further fires.
var ErrExhausted = errors.New("trigger exhausted")

// ErrUnknownKind is returned for Spec implementations this package does not know.
var ErrUnknownKind = errors.New("unknown trigger kind")

// Engine computes fire times. It holds no per-job state and is safe for
// concurrent use.
type Engine struct {
	eval Evaluator
}

// NewEngine returns an Engine that resolves calendar triggers with eval.
// A nil eval uses a CronEvaluator in the local time zone.
func NewEngine(eval Evaluator) *Engine {
	if eval == nil {
		eval = NewCronEvaluator(nil)
	}
	return &Engine{eval: eval}
}

// Validate checks that spec can produce a first fire at now.
// Calendar expressions are probed through the evaluator.
func (e *Engine) Validate(spec Spec, now time.Time) error {
	switch t := spec.(type) {
	case Interval:
		if t.Every <= 0 {
			return errors.New("interval must be > 0")
		}
		if t.Delay < 0 {
			return errors.New("delay must be >= 0")
		}
		return nil
	case Calendar:
		_, err := e.eval.Next(t.Expression, now)
		return err
	default:
		return ErrUnknownKind
	}
}

// First returns the first fire time for a newly admitted job.
func (e *Engine) First(spec Spec, now time.Time) (time.Time, error) {
	return e.Next(spec, time.Time{}, now)
}

// Next returns the fire time following lastFire. A zero lastFire means the
// job has never fired.
//
// Interval triggers advance from lastFire, not from now, so a late fire does
// not push later fires out. A computed time already in the past is clamped to
// now: the fire is due immediately and at most one fire is ever pending.
func (e *Engine) Next(spec Spec, lastFire, now time.Time) (time.Time, error) {
	var next time.Time
	switch t := spec.(type) {
	case Interval:
		if lastFire.IsZero() {
			return now.Add(t.Delay), nil
		}
		next = lastFire.Add(t.Every)
	case Calendar:
		ref := lastFire
		if ref.IsZero() {
			ref = now
		}
		n, err := e.eval.Next(t.Expression, ref)
		if err != nil {
			return time.Time{}, err
		}
		if n.IsZero() {
			return time.Time{}, ErrExhausted
		}
		next = n
	default:
		return time.Time{}, ErrUnknownKind
	}
	if next.Before(now) {
		next = now
	}
	return next, nil
}

// Resume returns the next fire time for a job leaving the paused state.
// Fires missed while paused are not backfilled.
func (e *Engine) Resume(spec Spec, now time.Time) (time.Time, error) {
	switch t := spec.(type) {
	case Interval:
		return now.Add(t.Every), nil
	case Calendar:
		return e.Next(t, now, now)
	default:
		return time.Time{}, ErrUnknownKind
	}
}
