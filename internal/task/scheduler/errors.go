package scheduler

import "github.com/cockroachdb/errors"

var (
	// ErrInvalidConfiguration is returned by Schedule for a malformed job
	// definition. The job is never created.
	ErrInvalidConfiguration = errors.New("invalid job configuration")

	// ErrNotFound means the job id is not in the registry (unknown or stopped).
	ErrNotFound = errors.New("job not found")

	// ErrNotPaused is returned by Resume for a job that is not paused.
	ErrNotPaused = errors.New("job is not paused")

	// ErrCallbackFailure marks errors raised by a job callback during a fire.
	ErrCallbackFailure = errors.New("job callback failed")

	// ErrClosed is returned by Schedule after Shutdown.
	ErrClosed = errors.New("scheduler is shut down")
)

func invalid(err error) error {
	return errors.Mark(err, ErrInvalidConfiguration)
}

func invalidf(format string, args ...any) error {
	return invalid(errors.Newf(format, args...))
}
