package engine

import (
	"context"
	"runtime/debug"
	"time"

	"taskd/internal/eventbus"
	logx "taskd/pkg/logx"
)

// slowTask is the duration above which a finished task logs at info.
const slowTask = 750 * time.Millisecond

func (s *Service) work(ctx context.Context, p *pool) {
	for {
		// A closed quit wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case q := <-p.queue:
			s.inFlight.Add(1)
			s.execute(ctx, q)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execute(ctx context.Context, q queued) {
	t := q.task
	start := time.Now()
	wait := max(start.Sub(q.at), 0)
	ev := TaskEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: wait}

	s.log.Debug("task.started", logx.String("task", t.Name), logx.Duration("queue_delay", wait))
	s.bus.Publish(eventbus.Event{Type: "task.started", Time: start, Data: ev})

	err := s.call(ctx, t)

	ev.Duration = time.Since(start)
	typ := "task.finished"
	if err != nil {
		s.failed.Add(1)
		ev.Error = err.Error()
		typ = "task.failed"
	} else {
		s.completed.Add(1)
		lvl := s.log.Debug
		if ev.Duration >= slowTask {
			lvl = s.log.Info
		}
		lvl("task.completed", logx.String("task", t.Name), logx.Duration("queue_delay", wait), logx.Duration("dur", ev.Duration))
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	s.hist.add(HistoryItem(ev))

	s.done(t, Result{ID: t.ID, Name: t.Name, Ran: true, Started: start, QueueDelay: wait, Duration: ev.Duration, Err: err})
}

// call runs t, converting a panic into a *PanicError.
func (s *Service) call(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = &PanicError{Value: r, Stack: stack}
			s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(stack))
		}
	}()
	return t.Run(ctx)
}

// done invokes the completion hook. A panicking hook is logged and swallowed.
func (s *Service) done(t Task, res Result) {
	if t.Done == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task.done panic", logx.String("task", t.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	t.Done(res)
}
