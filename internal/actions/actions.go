// Package actions maps action names used in the config file to job
// callbacks.
package actions

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"taskd/internal/task/scheduler"
	logx "taskd/pkg/logx"
)

var ErrUnknownAction = errors.New("unknown action")

// Params carries the per-job settings an action is built from.
type Params struct {
	Job     string
	Message string

	// Unit and Operation configure the "unit" action.
	Unit      string
	Operation string
}

// Builder creates the callback for one job.
type Builder func(p Params, log logx.Logger) (scheduler.Callback, error)

type Registry struct {
	log logx.Logger

	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry holding the built-in actions:
//
//	log   writes the job's message at info level
//	noop  does nothing
//
// The "unit" action is added separately by RegisterUnit.
func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{log: log, builders: map[string]Builder{}}
	_ = r.Register("log", buildLog)
	_ = r.Register("noop", buildNoop)
	return r
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (r *Registry) Register(name string, b Builder) error {
	name = normalize(name)
	if name == "" || b == nil {
		return errors.New("action name and builder are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.builders[name]; dup {
		return errors.Newf("action %q already registered", name)
	}
	r.builders[name] = b
	return nil
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[normalize(name)]
	return ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for n := range r.builders {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Build returns the callback for action name.
func (r *Registry) Build(name string, p Params) (scheduler.Callback, error) {
	r.mu.RLock()
	b, ok := r.builders[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAction, "%q", name)
	}
	cb, err := b(p, r.log.With(logx.String("action", normalize(name)), logx.String("job", p.Job)))
	if err != nil {
		return nil, errors.Wrapf(err, "action %q", name)
	}
	if cb == nil {
		return nil, errors.Newf("action %q built a nil callback", name)
	}
	return cb, nil
}

func buildLog(p Params, log logx.Logger) (scheduler.Callback, error) {
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		msg = "tick"
	}
	var n atomic.Int64
	return func() {
		log.Info(msg, logx.Int64("tick", n.Add(1)))
	}, nil
}

func buildNoop(Params, logx.Logger) (scheduler.Callback, error) {
	return func() {}, nil
}
