package registry

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrAlreadyExists is returned when a job ID is already being worked on.
var ErrAlreadyExists = errors.New("job is already registered")

type entry struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry supervises one background task per job ID, guaranteeing at most
// one concurrent execution per ID. Tasks remove their own entry when they
// finish; ActiveCount additionally prunes finished entries it encounters.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
	logger  *log.Logger
}

func New(logger *log.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Enqueue spawns task as an independent goroutine under a cancelable context.
// It fails with ErrAlreadyExists while a task for the same job ID is in
// flight, and refuses new work after Shutdown.
func (r *Registry) Enqueue(jobID string, task func(ctx context.Context)) error {
	if task == nil {
		return errors.New("task is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	item := &entry{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return errors.New("registry is shut down")
	}
	if _, exists := r.entries[jobID]; exists {
		r.mu.Unlock()
		cancel()
		return ErrAlreadyExists
	}
	r.entries[jobID] = item
	r.mu.Unlock()

	go func() {
		defer func() {
			r.remove(jobID, item)
			close(item.done)
			cancel()
		}()
		task(ctx)
	}()

	return nil
}

// Active reports whether a task for jobID is still in flight, pruning the
// entry if its task already finished.
func (r *Registry) Active(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.entries[jobID]
	if !ok {
		return false
	}
	select {
	case <-item.done:
		delete(r.entries, jobID)
		return false
	default:
		return true
	}
}

// ActiveCount returns the number of tasks still running, pruning any entries
// whose task already finished.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for jobID, item := range r.entries {
		select {
		case <-item.done:
			delete(r.entries, jobID)
		default:
			active++
		}
	}
	return active
}

// Shutdown cancels every active task and waits for acknowledgement until ctx
// expires. Intended only for process termination.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	pending := make([]*entry, 0, len(r.entries))
	for _, item := range r.entries {
		item.cancel()
		pending = append(pending, item)
	}
	r.mu.Unlock()

	for _, item := range pending {
		select {
		case <-item.done:
		case <-ctx.Done():
			if r.logger != nil {
				r.logger.Printf("registry shutdown timed out waiting for tasks")
			}
			return
		}
	}
}

func (r *Registry) remove(jobID string, item *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[jobID]; ok && current == item {
		delete(r.entries, jobID)
	}
}
