package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"taskd/internal/eventbus"
	"taskd/internal/task/engine"
	"taskd/internal/task/trigger"
	logx "taskd/pkg/logx"
)

// Executor runs due fires. *engine.Service implements it.
type Executor interface {
	Submit(ctx context.Context, t engine.Task) error
	Snapshot() engine.Snapshot
}

type Option func(*Service)

// WithClock replaces the wall clock (tests use a fake clock).
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithEvaluator replaces the calendar evaluator.
func WithEvaluator(ev trigger.Evaluator) Option {
	return func(s *Service) {
		if ev != nil {
			s.eval = ev
		}
	}
}

// WithFailureHandler registers a handler for callback failures.
func WithFailureHandler(h FailureHandler) Option {
	return func(s *Service) { s.onFailure = h }
}

// Service owns the job registry.
type Service struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	exec  Executor
	clock clockwork.Clock
	eval  trigger.Evaluator
	trig  *trigger.Engine
	loc   *time.Location

	onFailure FailureHandler

	// ctx bounds blocking submits; canceled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*Job
	// draining holds jobs stopped while their callback was running, until
	// the callback returns.
	draining map[string]*Job
	closed   bool
}

func New(cfg Config, exec Executor, log logx.Logger, bus eventbus.Bus, opts ...Option) (*Service, error) {
	if exec == nil {
		return nil, errors.New("scheduler: executor is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if cfg.MaxConsecutiveFailures < 0 {
		return nil, invalidf("max_consecutive_failures must be >= 0")
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		exec:  exec,
		clock: clockwork.NewRealClock(),
		loc:   loc,
		jobs:  map[string]*Job{},

		draining: map[string]*Job{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.eval == nil {
		s.eval = trigger.NewCronEvaluator(loc)
	}
	s.trig = trigger.NewEngine(s.eval)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, invalid(errors.Wrapf(err, "timezone %q", name))
	}
	return loc, nil
}

// Schedule validates def, registers a Scheduled job and arms its first fire.
// With def.Paused the job is registered Paused and nothing is armed.
func (s *Service) Schedule(def Definition) (*Job, error) {
	now := s.clock.Now()
	if err := Validate(def, s.trig, now); err != nil {
		return nil, err
	}
	first, err := s.trig.First(def.Trigger, now)
	if err != nil {
		return nil, invalid(errors.Wrapf(err, "trigger %q", def.Trigger.String()))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Wrap(err, "job id")
	}
	j := newJob(id.String(), def, now)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.jobs[j.id] = j
	j.mu.Lock()
	if def.Paused {
		j.state = StatePaused
	} else {
		s.armLocked(j, first)
	}
	ev := j.event(time.Time{})
	j.mu.Unlock()
	s.mu.Unlock()

	s.log.Info("job scheduled",
		logx.String("job", j.def.Name),
		logx.String("id", j.id),
		logx.String("trigger", def.Trigger.String()),
		logx.Int("max_runs", def.MaxRuns),
		logx.Bool("paused", def.Paused),
		logx.Time("next", j.Status().NextFire),
	)
	s.publish(EventScheduled, ev)
	return j, nil
}

// Pause suspends a job. Pausing a Paused job is a no-op. A Running job
// pauses once its callback returns.
func (s *Service) Pause(id string) error {
	j, err := s.lookup(id)
	if err != nil {
		return err
	}
	j.mu.Lock()
	switch j.state {
	case StatePaused:
		j.mu.Unlock()
		return nil
	case StateRunning:
		j.pausePending = true
		j.mu.Unlock()
		s.log.Debug("pause deferred until fire completes", logx.String("job", j.def.Name))
		return nil
	case StateStopped:
		j.mu.Unlock()
		return ErrNotFound
	}
	j.disarmLocked()
	j.state = StatePaused
	ev := j.event(time.Time{})
	j.mu.Unlock()

	s.log.Info("job paused", logx.String("job", j.def.Name), logx.String("id", j.id))
	s.publish(EventPaused, ev)
	return nil
}

// Resume re-arms a Paused job from the current time. Fires missed while
// paused are not replayed.
func (s *Service) Resume(id string) error {
	j, err := s.lookup(id)
	if err != nil {
		return err
	}
	j.mu.Lock()
	switch {
	case j.state == StateRunning && j.pausePending:
		j.pausePending = false
		j.mu.Unlock()
		return nil
	case j.state == StateStopped:
		j.mu.Unlock()
		return ErrNotFound
	case j.state != StatePaused:
		j.mu.Unlock()
		return ErrNotPaused
	}

	now := s.clock.Now()
	next, err := s.trig.Resume(j.def.Trigger, now)
	if err != nil {
		j.finishLocked(ReasonExhausted)
		ev := j.event(time.Time{})
		j.mu.Unlock()
		s.unregister(j)
		s.log.Info("job stopped on resume", logx.String("job", j.def.Name), logx.Err(err))
		s.publish(EventStopped, ev)
		return nil
	}
	s.armLocked(j, next)
	ev := j.event(time.Time{})
	j.mu.Unlock()

	s.log.Info("job resumed", logx.String("job", j.def.Name), logx.Time("next", next))
	s.publish(EventResumed, ev)
	return nil
}

// Stop unregisters a job. An in-flight callback finishes, no further fire
// starts. Stop may be called from the job's own callback.
func (s *Service) Stop(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
		s.draining[id] = j
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.requestStop(j, ReasonStopped)
	return nil
}

// requestStop stops j now, or after its in-flight callback returns.
func (s *Service) requestStop(j *Job, reason StopReason) {
	j.mu.Lock()
	switch j.state {
	case StateStopped:
		j.mu.Unlock()
		s.unregister(j)
		return
	case StateRunning:
		j.stopPending = reason
		j.pausePending = false
		j.mu.Unlock()
		return
	}
	j.finishLocked(reason)
	ev := j.event(time.Time{})
	j.mu.Unlock()
	s.unregister(j)

	s.log.Info("job stopped", logx.String("job", j.def.Name), logx.String("reason", string(reason)), logx.Int("runs", ev.RunCount))
	s.publish(EventStopped, ev)
}

// Shutdown stops every job and waits for in-flight callbacks until ctx is
// done. It returns the ids of jobs whose callbacks were still running; those
// are left to finish on their own.
func (s *Service) Shutdown(ctx context.Context) []string {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.closed = true
	active := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		active = append(active, j)
	}
	jobs := append([]*Job(nil), active...)
	for _, j := range s.draining {
		jobs = append(jobs, j)
	}
	s.jobs = map[string]*Job{}
	s.mu.Unlock()

	for _, j := range active {
		s.requestStop(j, ReasonShutdown)
	}
	// Unblock fires waiting for queue space; they complete as not run.
	s.cancel()

	var abandoned []string
	for _, j := range jobs {
		select {
		case <-j.done:
		case <-ctx.Done():
			select {
			case <-j.done:
			default:
				abandoned = append(abandoned, j.id)
			}
		}
	}
	if len(abandoned) > 0 {
		s.log.Warn("shutdown abandoned running jobs", logx.Int("count", len(abandoned)), logx.Any("ids", abandoned))
	} else {
		s.log.Info("scheduler shut down", logx.Int("jobs", len(jobs)))
	}
	return abandoned
}

// Status returns a registered job's status.
func (s *Service) Status(id string) (Status, error) {
	j, err := s.lookup(id)
	if err != nil {
		return Status{}, err
	}
	return j.Status(), nil
}

// Lookup returns the handle of a registered job.
func (s *Service) Lookup(id string) (*Job, bool) {
	j, err := s.lookup(id)
	return j, err == nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	closed := s.closed
	s.mu.Unlock()

	out := Snapshot{
		Timezone: s.loc.String(),
		Closed:   closed,
		Jobs:     make([]Status, 0, len(jobs)),
		Engine:   s.exec.Snapshot(),
	}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, j.Status())
	}
	sort.Slice(out.Jobs, func(i, k int) bool { return out.Jobs[i].ID < out.Jobs[k].ID })
	return out
}

func (s *Service) lookup(id string) (*Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "job %q", id)
	}
	return j, nil
}

// unregister drops a finished job from the registry and the draining set.
func (s *Service) unregister(j *Job) {
	s.mu.Lock()
	if cur, ok := s.jobs[j.id]; ok && cur == j {
		delete(s.jobs, j.id)
	}
	if cur, ok := s.draining[j.id]; ok && cur == j {
		delete(s.draining, j.id)
	}
	s.mu.Unlock()
}

func (s *Service) publish(typ string, ev JobEvent) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ev})
}
