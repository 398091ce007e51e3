package app

import (
	"context"
	"time"

	"taskd/internal/eventbus"
	"taskd/internal/storage"
	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

// recordHistory copies job.fired events into the store until ctx is done.
// Events dropped by the bus under load are not recorded.
func recordHistory(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ev, ok := e.Data.(scheduler.JobEvent)
			if !ok || e.Type != scheduler.EventFired {
				continue
			}
			r := storage.FireRecord{
				JobID:    ev.ID,
				Job:      ev.Name,
				Run:      ev.RunCount,
				FireTime: ev.FireTime,
				Duration: ev.Duration,
				OK:       ev.Error == "",
				Error:    ev.Error,
			}
			wctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := store.AppendFire(wctx, r); err != nil {
				log.Warn("record fire failed", logx.String("job", ev.Name), logx.Err(err))
			}
			cancel()
		}
	}
}
