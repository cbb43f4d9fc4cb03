package domain

// WorkerState is a step in the per-shard worker lifecycle
type WorkerState string

const (
	StatePending      WorkerState = "pending"
	StateProvisioning WorkerState = "provisioning"
	StateRunning      WorkerState = "running"
	StateCollecting   WorkerState = "collecting"
	StateRetrying     WorkerState = "retrying"
	StateReleased     WorkerState = "released"
	StateFailed       WorkerState = "failed"
)

var transitions = map[WorkerState][]WorkerState{
	StatePending:      {StateProvisioning, StateFailed},
	StateProvisioning: {StateRunning, StateRetrying, StateFailed},
	StateRunning:      {StateCollecting, StateRetrying, StateFailed},
	StateRetrying:     {StateProvisioning, StateCollecting, StateFailed},
	StateCollecting:   {StateReleased, StateFailed},
	StateReleased:     {},
	StateFailed:       {},
}

// CanTransition reports whether next is a legal successor of s
func (s WorkerState) CanTransition(next WorkerState) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Terminal is true for Released and Failed
func (s WorkerState) Terminal() bool {
	return len(transitions[s]) == 0
}

// WorkerSpec describes the pod a shard runs in
type WorkerSpec struct {
	Name         string
	Namespace    string
	Image        string
	SidecarImage string
	VolumeName   string
	CacheHostDir string
	Cores        int
	MemoryGB     int
	Taints       []string
	Env          map[string]string
	Labels       map[string]string

	// Placeholder pods only hold capacity and run the image's own entrypoint
	Placeholder bool
}

// WorkerHandle is the orchestrator's view of a provisioned worker
type WorkerHandle struct {
	Spec  WorkerSpec
	State WorkerState
}
