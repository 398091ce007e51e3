package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	logx "taskd/pkg/logx"
)

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names ("max_runs") rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a parsed config: struct tags, durations, job triggers and
// unique job names. Calendar expressions are probed later by the scheduler.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator.Struct(cfg); err != nil {
		return describe(err)
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return errors.Newf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if _, err := ParseDurationField("scheduler.shutdown_timeout", cfg.Scheduler.ShutdownTimeout); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" && !strings.EqualFold(tz, "local") {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.Wrapf(err, "scheduler.timezone %q", tz)
		}
	}
	if cfg.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		if _, dup := seen[j.Name]; dup {
			return errors.Newf("jobs: duplicate name %q", j.Name)
		}
		seen[j.Name] = struct{}{}
		if _, err := j.Trigger(); err != nil {
			return err
		}
	}
	return nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Config.jobs[0].name"; drop the root type.
		ns := fe.Namespace()
		if i := strings.IndexByte(ns, '.'); i >= 0 {
			ns = ns[i+1:]
		}
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", ns, fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}
