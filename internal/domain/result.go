package domain

import (
	"sort"
	"time"
)

// RunResult aggregates every shard of one orchestrator invocation
type RunResult struct {
	Shards    []ShardResult `json:"shards"`
	Artifacts []string      `json:"artifacts"`
	Duration  time.Duration `json:"duration"`
}

// Failed returns shards with a known non-zero exit code
func (r *RunResult) Failed() []ShardResult {
	var out []ShardResult
	for _, s := range r.Shards {
		if s.Status.Known && s.Status.Code != 0 {
			out = append(out, s)
		}
	}
	return out
}

// Unknown returns shards whose outcome was never reported
func (r *RunResult) Unknown() []ShardResult {
	var out []ShardResult
	for _, s := range r.Shards {
		if !s.Status.Known {
			out = append(out, s)
		}
	}
	return out
}

// ExitCodes maps shard index to exit code
func (r *RunResult) ExitCodes() map[int]int {
	codes := make(map[int]int, len(r.Shards))
	for _, s := range r.Shards {
		codes[s.Index] = s.ExitCode
	}
	return codes
}

// SortShards orders shards by index
func (r *RunResult) SortShards() {
	sort.Slice(r.Shards, func(i, j int) bool { return r.Shards[i].Index < r.Shards[j].Index })
}

// RunResultsMeta contains metadata about a run
type RunResultsMeta struct {
	Task            string  `json:"task"`
	RunID           string  `json:"run_id"`
	TotalShards     int     `json:"total_shards"`
	PassedShards    int     `json:"passed_shards"`
	FailedShards    int     `json:"failed_shards"`
	UnknownShards   int     `json:"unknown_shards"`
	TotalTests      int     `json:"total_tests"`
	FailedTestCases int     `json:"failed_test_cases"`
	Duration        string  `json:"duration"`
	DurationSeconds float64 `json:"duration_seconds"`
	Timestamp       string  `json:"timestamp"`
}

// RunResultsOutput is the complete persisted structure for a run
type RunResultsOutput struct {
	Meta    RunResultsMeta `json:"meta"`
	Shards  []ShardResult  `json:"shards"`
	Details []TestFailure  `json:"details"`
}
