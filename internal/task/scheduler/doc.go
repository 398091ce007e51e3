// Package scheduler runs recurring jobs: fixed-interval timers and
// calendar (cron) appointments.
//
// The scheduler owns the job registry and each job's lifecycle:
//
//	Scheduled -> Running -> Scheduled ... -> Stopped
//	     \          \
//	      +-> Paused <+   (pause while Running applies after the callback returns)
//
// Trigger times come from internal/task/trigger; callbacks execute on the
// worker pool in internal/task/engine. At most one callback invocation is in
// flight per job, and the next fire is armed only after the current one
// completes.
package scheduler
