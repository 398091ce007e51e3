package trigger

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

var t0 = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func TestIntervalFirstUsesDelay(t *testing.T) {
	t.Parallel()
	e := NewEngine(nil)
	got, err := e.First(Interval{Delay: 2 * time.Second, Every: time.Minute}, t0)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if want := t0.Add(2 * time.Second); !got.Equal(want) {
		t.Fatalf("First = %v, want %v", got, want)
	}
}

func TestIntervalNextAnchorsOnLastFire(t *testing.T) {
	t.Parallel()
	e := NewEngine(nil)
	spec := Interval{Every: 500 * time.Millisecond}

	// Callback ran 200ms: next fire is still last+interval.
	last := t0
	got, err := e.Next(spec, last, t0.Add(200*time.Millisecond))
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := t0.Add(500 * time.Millisecond); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}

func TestIntervalNextInPastIsDueNow(t *testing.T) {
	t.Parallel()
	e := NewEngine(nil)
	spec := Interval{Every: 100 * time.Millisecond}
	now := t0.Add(350 * time.Millisecond)
	got, err := e.Next(spec, t0, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("Next = %v, want clamp to now %v", got, now)
	}
}

func TestIntervalResumeStartsFromNow(t *testing.T) {
	t.Parallel()
	e := NewEngine(nil)
	now := t0.Add(time.Hour)
	got, err := e.Resume(Interval{Delay: time.Minute, Every: 10 * time.Second}, now)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if want := now.Add(10 * time.Second); !got.Equal(want) {
		t.Fatalf("Resume = %v, want %v", got, want)
	}
}

func TestCalendarNextStrictlyAfter(t *testing.T) {
	t.Parallel()
	e := NewEngine(NewCronEvaluator(time.UTC))
	spec := Calendar{Expression: "*/5 * * * * *"} // every 5 seconds

	first, err := e.First(spec, t0)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if want := time.Date(2026, 3, 14, 9, 26, 55, 0, time.UTC); !first.Equal(want) {
		t.Fatalf("First = %v, want %v", first, want)
	}

	next, err := e.Next(spec, first, first)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := first.Add(5 * time.Second); !next.Equal(want) {
		t.Fatalf("Next = %v, want %v", next, want)
	}
}

func TestCalendarDescriptor(t *testing.T) {
	t.Parallel()
	e := NewEngine(NewCronEvaluator(time.UTC))
	got, err := e.First(Calendar{Expression: "@hourly"}, t0)
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if want := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("First = %v, want %v", got, want)
	}
}

func TestCalendarMalformed(t *testing.T) {
	t.Parallel()
	e := NewEngine(nil)
	for _, expr := range []string{"", "not a cron", "61 * * * *", "* * * * * * * *"} {
		if err := e.Validate(Calendar{Expression: expr}, t0); err == nil {
			t.Fatalf("Validate(%q): expected error", expr)
		}
	}
}

type exhaustedEvaluator struct{}

func (exhaustedEvaluator) Next(string, time.Time) (time.Time, error) { return time.Time{}, nil }

func TestCalendarExhausted(t *testing.T) {
	t.Parallel()
	e := NewEngine(exhaustedEvaluator{})
	_, err := e.Next(Calendar{Expression: "x"}, t0, t0)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestCronNeverMatchingIsExhausted(t *testing.T) {
	t.Parallel()
	// February 30th never happens; robfig/cron gives up and returns zero time.
	e := NewEngine(NewCronEvaluator(time.UTC))
	_, err := e.First(Calendar{Expression: "0 0 30 2 *"}, t0)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestIntervalValidate(t *testing.T) {
	t.Parallel()
	e := NewEngine(nil)
	bad := []Interval{{Every: 0}, {Every: -time.Second}, {Delay: -time.Second, Every: time.Second}}
	for _, in := range bad {
		if err := e.Validate(in, t0); err == nil {
			t.Fatalf("Validate(%+v): expected error", in)
		}
	}
	if err := e.Validate(Interval{Every: time.Second}, t0); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
