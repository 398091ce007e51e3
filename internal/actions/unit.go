package actions

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

// UnitController starts, stops or restarts systemd units.
type UnitController interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
}

const unitTimeout = 30 * time.Second

// RegisterUnit adds the "unit" action: run Params.Operation (start, stop or
// restart, default restart) on Params.Unit through ctl. A failed operation
// fails the fire.
func RegisterUnit(r *Registry, ctl UnitController) error {
	if ctl == nil {
		return errors.New("unit controller is required")
	}
	return r.Register("unit", func(p Params, log logx.Logger) (scheduler.Callback, error) {
		return buildUnit(p, ctl, log)
	})
}

func unitName(u string) string {
	u = strings.TrimSpace(u)
	if u == "" || strings.Contains(u, ".") {
		return u
	}
	return u + ".service"
}

func buildUnit(p Params, ctl UnitController, log logx.Logger) (scheduler.Callback, error) {
	unit := unitName(p.Unit)
	if unit == "" {
		return nil, errors.New("unit is required")
	}
	op := strings.ToLower(strings.TrimSpace(p.Operation))
	var run func(context.Context, string) error
	switch op {
	case "", "restart":
		op, run = "restart", ctl.Restart
	case "start":
		run = ctl.Start
	case "stop":
		run = ctl.Stop
	default:
		return nil, errors.Newf("unknown unit operation %q", p.Operation)
	}

	log = log.With(logx.String("unit", unit), logx.String("op", op))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), unitTimeout)
		defer cancel()
		start := time.Now()
		if err := run(ctx, unit); err != nil {
			// Surfaces as a failed fire: failure handler, job.failed and the
			// failure policy all apply.
			panic(errors.Wrapf(err, "%s %s", op, unit))
		}
		log.Info("unit operation done", logx.Duration("took", time.Since(start)))
	}, nil
}
