package trigger

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// Evaluator resolves calendar expressions.
//
// Next returns the first valid time strictly after the given instant. A zero
// time with a nil error means the expression has no future occurrence.
// Malformed expressions return an error.
type Evaluator interface {
	Next(expr string, after time.Time) (time.Time, error)
}

// CronEvaluator evaluates crontab-style expressions with robfig/cron.
//
// Both 5-field and 6-field (leading seconds) forms are accepted, plus
// descriptors such as "@hourly" and "@every 5m".
type CronEvaluator struct {
	parser cron.Parser
	loc    *time.Location
}

// NewCronEvaluator returns an evaluator computing times in loc (Local if nil).
func NewCronEvaluator(loc *time.Location) *CronEvaluator {
	if loc == nil {
		loc = time.Local
	}
	return &CronEvaluator{
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    loc,
	}
}

func (e *CronEvaluator) Next(expr string, after time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, errors.New("cron expression required")
	}
	sched, err := e.parser.Parse(expr)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "cron expression %q is invalid", expr)
	}
	return sched.Next(after.In(e.loc)), nil
}

// Location reports the time zone used for evaluation.
func (e *CronEvaluator) Location() *time.Location { return e.loc }
