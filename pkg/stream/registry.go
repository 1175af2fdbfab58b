package stream

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks active runs by stream id so clients can cancel them.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*entry
}

type entry struct {
	cancel context.CancelCauseFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*entry)}
}

// Register derives a cancellable context for the run id. An empty id gets
// a fresh uuid. Registering an id that is still active cancels the older
// run with ErrSuperseded. The returned cancel releases the context and
// removes the entry.
func (r *Registry) Register(parent context.Context, id string) (string, context.Context, context.CancelFunc) {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancelCause(parent)
	e := &entry{cancel: cancel}

	r.mu.Lock()
	if r.runs == nil {
		r.runs = make(map[string]*entry)
	}
	prev := r.runs[id]
	r.runs[id] = e
	r.mu.Unlock()
	if prev != nil {
		prev.cancel(ErrSuperseded)
	}

	return id, ctx, func() {
		cancel(context.Canceled)
		r.mu.Lock()
		if r.runs[id] == e {
			delete(r.runs, id)
		}
		r.mu.Unlock()
	}
}

// Cancel aborts the run id with cause ErrCancelled. It reports whether the
// run was active. Cancelling twice is harmless.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.runs[id]
	delete(r.runs, id)
	r.mu.Unlock()
	if ok {
		e.cancel(ErrCancelled)
	}
	return ok
}

// Remove forgets id without cancelling it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

// Active returns the ids of the registered runs, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}
