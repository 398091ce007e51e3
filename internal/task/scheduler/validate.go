package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"taskd/internal/task/trigger"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks def before a job is created. Every returned error matches
// ErrInvalidConfiguration.
func Validate(def Definition, eng *trigger.Engine, now time.Time) error {
	if err := structValidator.Struct(def); err != nil {
		return invalid(describe("", err))
	}
	if def.Trigger == nil {
		return invalidf("trigger: is required")
	}
	switch t := def.Trigger.(type) {
	case trigger.Interval, trigger.Calendar:
		if err := structValidator.Struct(t); err != nil {
			return invalid(describe("trigger", err))
		}
	default:
		return invalidf("trigger: unsupported kind %T", def.Trigger)
	}
	if eng == nil {
		eng = trigger.NewEngine(nil)
	}
	if err := eng.Validate(def.Trigger, now); err != nil {
		return invalid(errors.Wrapf(err, "trigger %q", def.Trigger.String()))
	}
	return nil
}

// describe turns validator output into "field: reason" messages.
func describe(prefix string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if prefix != "" {
			field = prefix + "." + field
		}
		msgs = append(msgs, field+": "+reason(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
