package execution

import (
	"sort"
	"sync"

	"shardrun/internal/domain"
)

// ActiveSet tracks the workers of a run that have not been released yet
type ActiveSet struct {
	mu      sync.Mutex
	workers map[string]domain.WorkerState
}

// NewActiveSet creates an empty set
func NewActiveSet() *ActiveSet {
	return &ActiveSet{workers: make(map[string]domain.WorkerState)}
}

// Set records the current state of a worker
func (a *ActiveSet) Set(name string, state domain.WorkerState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.workers[name] = state
}

// State returns the last recorded state of a worker
func (a *ActiveSet) State(name string) (domain.WorkerState, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.workers[name]
	return s, ok
}

// Remove drops a worker and returns the names still active
func (a *ActiveSet) Remove(name string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.workers, name)
	return a.namesLocked()
}

// Names returns the active workers, sorted
func (a *ActiveSet) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.namesLocked()
}

func (a *ActiveSet) namesLocked() []string {
	names := make([]string, 0, len(a.workers))
	for name := range a.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of active workers
func (a *ActiveSet) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.workers)
}
