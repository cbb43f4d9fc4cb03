// Package cleanup tracks teardown actions for resources created during a run. Each action
// runs at most once, whether it is released by its owner or swept up by RunAll after a
// failure, cancellation or signal.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Func releases one resource. It must treat "already gone" as success.
type Func func(ctx context.Context) error

// Registry holds pending teardown actions
type Registry struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*entry
	order   []uint64
	logger  *zap.Logger
}

type entry struct {
	name string
	fn   Func
	once sync.Once
	err  error
}

// Handle releases a single registered action
type Handle struct {
	registry *Registry
	id       uint64
	entry    *entry
}

// New creates an empty registry
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{pending: make(map[uint64]*entry), logger: logger}
}

// SetLogger replaces the logger, e.g. once configuration has been loaded
func (r *Registry) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

func (r *Registry) log() *zap.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logger
}

// Register adds a teardown action and returns a handle for scoped release
func (r *Registry) Register(name string, fn Func) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	e := &entry{name: name, fn: fn}
	r.pending[id] = e
	r.order = append(r.order, id)
	return &Handle{registry: r, id: id, entry: e}
}

// Len returns the number of actions not yet run
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Release runs the action now and drops it from the registry. Later calls return the
// first result without running the action again.
func (h *Handle) Release(ctx context.Context) error {
	h.registry.forget(h.id)
	return h.entry.run(ctx, h.registry.log())
}

func (e *entry) run(ctx context.Context, logger *zap.Logger) error {
	e.once.Do(func() {
		e.err = e.fn(ctx)
		if e.err != nil {
			logger.Warn("cleanup failed", zap.String("resource", e.name), zap.Error(e.err))
		} else {
			logger.Debug("cleaned up", zap.String("resource", e.name))
		}
	})
	return e.err
}

func (r *Registry) forget(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// RunAll runs every pending action, most recently registered first, and reports all
// failures together.
func (r *Registry) RunAll(ctx context.Context) error {
	r.mu.Lock()
	var entries []*entry
	for i := len(r.order) - 1; i >= 0; i-- {
		if e, ok := r.pending[r.order[i]]; ok {
			entries = append(entries, e)
		}
	}
	r.pending = make(map[uint64]*entry)
	r.order = nil
	logger := r.logger
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.run(ctx, logger); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

// SweepOnDone runs RunAll once ctx is cancelled, using a fresh context bounded by timeout.
// The returned stop function prevents the sweep if called before cancellation.
func (r *Registry) SweepOnDone(ctx context.Context, timeout time.Duration) (stop func()) {
	done := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-done:
				return
			default:
			}
			r.log().Info("run cancelled, releasing remaining resources", zap.Int("pending", r.Len()))
			sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
			defer cancel()
			if err := r.RunAll(sweepCtx); err != nil {
				r.log().Error("cleanup after cancellation incomplete", zap.Error(err))
			}
		case <-done:
		}
	}()
	return func() { stopOnce.Do(func() { close(done) }) }
}
