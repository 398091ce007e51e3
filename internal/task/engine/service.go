package engine

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"taskd/internal/eventbus"
	rtsup "taskd/internal/runtime/supervisor"
	logx "taskd/pkg/logx"
)

// Service is a fixed-size worker pool fed by a bounded queue.
//
// Submit blocks while the queue is full, so pool saturation delays work but
// never drops it.
type Service struct {
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	hist *history

	mu   sync.Mutex
	pool *pool

	inFlight  atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
	seq       atomic.Uint64
}

// pool is one Start..Stop lifetime of the workers.
type pool struct {
	queue chan queued
	quit  chan struct{}
	// stopped is non-nil once Stop began and closed when workers exited.
	stopped chan struct{}
	sup     *rtsup.Supervisor
}

type queued struct {
	task Task
	at   time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{cfg: cfg, log: log, bus: bus, hist: newHistory(cfg.HistorySize)}
}

// Start launches the workers. Starting a running pool is a no-op; starting a
// stopping pool waits for the stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if p := s.pool; p != nil {
		stopped := p.stopped
		s.mu.Unlock()
		if stopped == nil {
			return
		}
		select {
		case <-stopped:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.pool != nil {
			s.mu.Unlock()
			return
		}
	}

	p := &pool{
		queue: make(chan queued, s.cfg.QueueSize),
		quit:  make(chan struct{}),
		sup: rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "engine.supervisor"))),
			rtsup.WithCancelOnError(false),
		),
	}
	s.pool = p
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		p.sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error {
			s.work(c, p)
			select {
			case <-p.quit:
				return nil
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop lets workers finish their current task, then completes every queued
// task with Ran=false. It waits until that is done or ctx ends.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	stopped := p.stopped
	if stopped == nil {
		stopped = make(chan struct{})
		p.stopped = stopped
		close(p.quit)
		go s.teardown(p)
	}
	s.mu.Unlock()

	select {
	case <-stopped:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) teardown(p *pool) {
	_ = p.sup.Stop(context.Background())
	for drained := false; !drained; {
		select {
		case q := <-p.queue:
			s.done(q.task, Result{ID: q.task.ID, Name: q.task.Name, Err: ErrStopped})
		default:
			drained = true
		}
	}
	s.mu.Lock()
	if s.pool == p {
		s.pool = nil
	}
	s.mu.Unlock()
	close(p.stopped)
}

// Submit enqueues t, blocking until it is accepted, ctx ends or the pool
// stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if t.Run == nil {
		return errors.Wrap(ErrInvalid, "task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.Wrap(ErrInvalid, "task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = "tsk-" + strconv.FormatInt(now.UnixNano(), 36) + "-" + strconv.FormatUint(s.seq.Add(1), 36)
	}

	s.mu.Lock()
	p := s.pool
	stopping := p != nil && p.stopped != nil
	s.mu.Unlock()
	if p == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	select {
	case p.queue <- queued{task: t, at: now}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrStopping
	}
}

// Running reports whether workers are started and not stopping.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool != nil && s.pool.stopped == nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	p := s.pool
	snap := Snapshot{
		Running: p != nil && p.stopped == nil,
		Workers: s.cfg.Workers,
	}
	if p != nil {
		snap.QueueLen = len(p.queue)
		snap.QueueCap = cap(p.queue)
		snap.Supervisor = p.sup.Counters()
	}
	s.mu.Unlock()

	snap.InFlight = int(s.inFlight.Load())
	snap.Completed = s.completed.Load()
	snap.Failed = s.failed.Load()
	snap.History = s.hist.list()
	return snap
}
