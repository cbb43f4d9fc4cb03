package domain

import (
	"fmt"
	"time"
)

// ShardSpec identifies one shard of a run. Seed is the only value the orchestrator and the
// worker have to agree on to compute the same allocation.
type ShardSpec struct {
	Index int   `json:"index"`
	Count int   `json:"count"`
	Seed  int64 `json:"seed"`
}

// Validate checks the index bounds
func (s ShardSpec) Validate() error {
	if s.Count < 1 || s.Index < 0 || s.Index >= s.Count {
		return fmt.Errorf("%w: requested shard %d of %d", ErrInvalidShardIndex, s.Index, s.Count)
	}
	return nil
}

func (s ShardSpec) String() string {
	return fmt.Sprintf("%d/%d", s.Index+1, s.Count)
}

// ExitStatus is the structured completion status reported by a worker command.
// Known is false when the worker closed the stream without reporting a status.
type ExitStatus struct {
	Code  int  `json:"code"`
	Known bool `json:"known"`
}

// Succeeded is true only for a verified zero exit code
func (e ExitStatus) Succeeded() bool {
	return e.Known && e.Code == 0
}

func (e ExitStatus) String() string {
	if !e.Known {
		return "unknown"
	}
	return fmt.Sprintf("%d", e.Code)
}

// UnknownExitCode is reported in ShardResult.ExitCode when no status was received
const UnknownExitCode = -1

// RecoveredExitCode is the exit code of a shard that only completed the recovery pass
const RecoveredExitCode = 255

// ShardResult is the final, immutable outcome of one shard
type ShardResult struct {
	Index        int           `json:"index"`
	Worker       string        `json:"worker"`
	ExitCode     int           `json:"exit_code"`
	Status       ExitStatus    `json:"status"`
	LogFile      string        `json:"log_file"`
	ArtifactDirs []string      `json:"artifact_dirs"`
	Tests        int           `json:"tests"`
	Attempts     int           `json:"attempts"`
	Recovered    bool          `json:"recovered,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// NewShardResult derives ExitCode from the status
func NewShardResult(index int, worker string, status ExitStatus) ShardResult {
	code := status.Code
	if !status.Known {
		code = UnknownExitCode
	}
	return ShardResult{Index: index, Worker: worker, ExitCode: code, Status: status}
}
