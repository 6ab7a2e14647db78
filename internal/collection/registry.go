// Package collection owns vector-collection lifecycle: the process-wide
// registry that serializes collection creation and deletion, and the
// resolution of a session id to its target collection name.
//
// The registry is the single shared mutable resource of the ingestion
// path. Its one central guarantee: for any name, arbitrary concurrent
// EnsureReady calls produce exactly one store-side create-collection
// call — losers of the creation race wait on the winner and observe the
// winner's outcome, never an error caused by the race itself.
package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrDeleting indicates the collection is being torn down; new
	// EnsureReady calls are rejected until deletion completes.
	ErrDeleting = errors.New("collection is being deleted")

	// ErrBusy indicates a lifecycle transition could not start because
	// another transition for the same name is in flight.
	ErrBusy = errors.New("collection lifecycle transition in flight")
)

// State is a collection's lifecycle state.
type State int

const (
	// StateAbsent means the registry knows nothing about the name, or a
	// previous creation failed / deletion completed.
	StateAbsent State = iota

	// StateInitializing means a store-side create is in flight.
	StateInitializing

	// StateReady means the backing collection has been durably created.
	StateReady

	// StateDeleting means teardown is in progress.
	StateDeleting
)

// String implements fmt.Stringer for log output.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDeleting:
		return "deleting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Creator is the slice of the vector store the registry needs.
// Following Go best practices: interfaces are defined by the consumer,
// not the provider (similar to io.Reader, http.RoundTripper).
type Creator interface {
	EnsureCollection(ctx context.Context, name string, dim int, model string) error
}

// attempt tracks one in-flight creation so waiters can observe the
// winner's outcome.
type attempt struct {
	done chan struct{}
	err  error
}

// entry is the registry's per-name state cell.
type entry struct {
	state State
	init  *attempt // non-nil while state == StateInitializing
}

// Registry is the single source of truth for collection readiness.
// Safe for concurrent use.
type Registry struct {
	store  Creator
	dim    int
	model  string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a registry creating collections with the given
// embedding dimension and model id. logger may be nil.
func NewRegistry(store Creator, dim int, model string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:   store,
		dim:     dim,
		model:   model,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// EnsureReady guarantees the named collection exists and is queryable.
//
// Ready returns immediately with zero store calls. Absent transitions to
// Initializing (exactly one caller wins), performs the idempotent
// store-side create, and transitions to Ready on success or back to
// Absent on failure so callers can retry. Callers arriving while a
// creation is in flight block until it resolves and return its outcome.
// A Deleting collection rejects with ErrDeleting.
func (r *Registry) EnsureReady(ctx context.Context, name string) error {
	for {
		r.mu.Lock()
		e, ok := r.entries[name]
		if !ok {
			e = &entry{state: StateAbsent}
			r.entries[name] = e
		}

		switch e.state {
		case StateReady:
			r.mu.Unlock()
			return nil

		case StateDeleting:
			r.mu.Unlock()
			return fmt.Errorf("collection %q: %w", name, ErrDeleting)

		case StateInitializing:
			init := e.init
			r.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-init.done:
			}
			// The winner resolved: observe its outcome. A nil error
			// means Ready; an error means creation failed for every
			// waiter of this attempt alike.
			if init.err != nil {
				return init.err
			}
			// Re-check: deletion may have started since.
			continue

		case StateAbsent:
			init := &attempt{done: make(chan struct{})}
			e.state = StateInitializing
			e.init = init
			r.mu.Unlock()

			err := r.store.EnsureCollection(ctx, name, r.dim, r.model)

			r.mu.Lock()
			if err != nil {
				e.state = StateAbsent
				init.err = fmt.Errorf("creating collection %q: %w", name, err)
			} else {
				e.state = StateReady
			}
			e.init = nil
			close(init.done)
			r.mu.Unlock()

			if err != nil {
				r.logger.Warn("collection creation failed", "collection", name, "error", err)
				return init.err
			}
			r.logger.Debug("collection ready", "collection", name)
			return nil

		default:
			r.mu.Unlock()
			return fmt.Errorf("collection %q in unexpected state %v", name, e.state)
		}
	}
}

// MarkDeleting transitions Ready or Absent to Deleting, rejecting new
// EnsureReady calls for the name until FinishDelete. Returns ErrBusy if
// a creation is in flight; callers should let it resolve first.
func (r *Registry) MarkDeleting(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		e = &entry{state: StateAbsent}
		r.entries[name] = e
	}

	switch e.state {
	case StateInitializing:
		return fmt.Errorf("collection %q: %w", name, ErrBusy)
	case StateDeleting:
		return nil // already deleting, idempotent
	default:
		e.state = StateDeleting
		return nil
	}
}

// FinishDelete returns the name to Absent after store-side teardown.
// The name can be reused for a brand-new collection afterwards.
func (r *Registry) FinishDelete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// IsReady is the non-blocking readiness read used for query-side
// default-collection fallback decisions.
func (r *Registry) IsReady(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return ok && e.state == StateReady
}

// StateOf returns the current lifecycle state of a name.
func (r *Registry) StateOf(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return StateAbsent
	}
	return e.state
}

// AdoptReady marks a name Ready without a store call. Used at startup to
// seed the registry from collections that already exist in the store, so
// session collections survive process restarts.
func (r *Registry) AdoptReady(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = &entry{state: StateReady}
}
