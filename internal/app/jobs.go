package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"taskd/internal/actions"
	"taskd/internal/config"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

// declaredJob links a config-declared job to its scheduler id.
type declaredJob struct {
	id  string
	cfg config.JobConfig
}

// checkJobs rejects configs whose jobs could not be scheduled: unknown
// actions or triggers the scheduler would refuse.
func checkJobs(reg *actions.Registry, cfg *config.Config) error {
	now := time.Now()
	for _, jc := range cfg.Jobs {
		if !reg.Has(jc.Action) {
			return errors.Wrapf(actions.ErrUnknownAction, "jobs[%s].action %q", jc.Name, jc.Action)
		}
		if _, err := reg.Build(jc.Action, jobParams(jc)); err != nil {
			return errors.Wrapf(err, "jobs[%s]", jc.Name)
		}
		spec, err := jc.Trigger()
		if err != nil {
			return err
		}
		def := scheduler.Definition{Name: jc.Name, Trigger: spec, MaxRuns: jc.MaxRuns, Callback: func() {}}
		if err := scheduler.Validate(def, nil, now); err != nil {
			return errors.Wrapf(err, "jobs[%s]", jc.Name)
		}
	}
	return nil
}

func jobParams(jc config.JobConfig) actions.Params {
	return actions.Params{Job: jc.Name, Message: jc.Message, Unit: jc.Unit, Operation: jc.Operation}
}

// scheduleDeclared schedules one config job, registered paused if requested.
func (a *App) scheduleDeclared(jc config.JobConfig) (string, error) {
	spec, err := jc.Trigger()
	if err != nil {
		return "", err
	}
	cb, err := a.actions.Build(jc.Action, jobParams(jc))
	if err != nil {
		return "", err
	}
	j, err := a.sched.Schedule(scheduler.Definition{
		Name:     jc.Name,
		Trigger:  spec,
		MaxRuns:  jc.MaxRuns,
		Paused:   jc.Paused,
		Callback: cb,
	})
	if err != nil {
		return "", err
	}
	return j.ID(), nil
}

// reconcile brings the declared jobs in line with cfg: new jobs are
// scheduled, removed ones stopped, changed ones replaced. Jobs that already
// finished on their own are left alone while their config is unchanged.
func (a *App) reconcile(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := make(map[string]config.JobConfig, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		want[jc.Name] = jc
	}

	for name, dj := range a.declared {
		jc, keep := want[name]
		if keep && jobConfigEqual(jc, dj.cfg) {
			continue
		}
		if err := a.sched.Stop(dj.id); err != nil && !errors.Is(err, scheduler.ErrNotFound) {
			a.log.Warn("stop declared job failed", logx.String("job", name), logx.Err(err))
		}
		delete(a.declared, name)
		if !keep {
			a.log.Info("declared job removed", logx.String("job", name))
		}
	}

	for _, jc := range cfg.Jobs {
		if _, ok := a.declared[jc.Name]; ok {
			continue
		}
		id, err := a.scheduleDeclared(jc)
		if err != nil {
			a.log.Error("schedule declared job failed", logx.String("job", jc.Name), logx.Err(err))
			if id == "" {
				continue
			}
		}
		a.declared[jc.Name] = declaredJob{id: id, cfg: jc}
	}
}

func jobConfigEqual(a, b config.JobConfig) bool {
	if (a.Interval == nil) != (b.Interval == nil) {
		return false
	}
	if a.Interval != nil && *a.Interval != *b.Interval {
		return false
	}
	a.Interval, b.Interval = nil, nil
	return a == b
}

// DeclaredJobID returns the scheduler id of a config-declared job.
func (a *App) DeclaredJobID(name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	dj, ok := a.declared[name]
	return dj.id, ok
}

func (a *App) checkConfig(_ context.Context, cfg *config.Config) error {
	return checkJobs(a.actions, cfg)
}
