package trigger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		kind  Kind
		every time.Duration
		expr  string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: KindCalendar, expr: "*/5 * * * *"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: KindCalendar, expr: "0 0 * * *"},
		{name: "descriptor", raw: "@hourly", kind: KindCalendar, expr: "@hourly"},
		{name: "duration", raw: "10m", kind: KindInterval, every: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, every: 45 * time.Second},
		{name: "every prefix", raw: "every: 2h", kind: KindInterval, every: 2 * time.Hour},
		{name: "hhmm", raw: "01:30", kind: KindInterval, every: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got.Kind() != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind(), tt.kind)
			}
			switch s := got.(type) {
			case Interval:
				if s.Every != tt.every {
					t.Fatalf("Every = %v, want %v", s.Every, tt.every)
				}
			case Calendar:
				if s.Expression != tt.expr {
					t.Fatalf("Expression = %q, want %q", s.Expression, tt.expr)
				}
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "-5m", "00:00", "01:75", "cron:", "interval:abc"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q): expected error", raw)
		}
	}
}

func TestParseErrorsCarrySource(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "whenever", "01:75"} {
		_, err := Parse(raw)
		if err == nil {
			t.Fatalf("Parse(%q): expected error", raw)
		}
		file, _, _, ok := errors.GetOneLineSource(err)
		if !ok || filepath.Base(file) != "parse.go" {
			t.Fatalf("Parse(%q) error source = %q (ok %v), want parse.go", raw, file, ok)
		}
	}
}
