package trigger

import (
	"fmt"
	"time"
)

// Kind describes the trigger style of a Spec.
type Kind int

const (
	KindInterval Kind = iota + 1
	KindCalendar
)

func (k Kind) String() string {
	switch k {
	case KindInterval:
		return "interval"
	case KindCalendar:
		return "calendar"
	default:
		return "unknown"
	}
}

// Spec is a trigger definition. Implemented by Interval and Calendar only.
type Spec interface {
	Kind() Kind
	String() string
}

// Interval fires once after Delay, then every Every (a timer).
type Interval struct {
	Delay time.Duration `validate:"gte=0"`
	Every time.Duration `validate:"gt=0"`
}

func (Interval) Kind() Kind { return KindInterval }

func (i Interval) String() string {
	if i.Delay > 0 {
		return fmt.Sprintf("@every %s (delay %s)", i.Every, i.Delay)
	}
	return fmt.Sprintf("@every %s", i.Every)
}

// Calendar fires according to a cron-style expression (an appointment).
type Calendar struct {
	Expression string `validate:"required"`
}

func (Calendar) Kind() Kind { return KindCalendar }

func (c Calendar) String() string { return c.Expression }
