// Package aggregate merges per-shard outcomes into one run result. It makes no pass/fail
// decision; that is left to the caller's policy.
package aggregate

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"shardrun/internal/domain"
	"shardrun/internal/parser"
)

// Aggregate orders shards by index and concatenates their artifact folders
func Aggregate(results []domain.ShardResult) *domain.RunResult {
	run := &domain.RunResult{
		Shards:    append([]domain.ShardResult(nil), results...),
		Artifacts: []string{},
	}
	run.SortShards()
	for _, s := range run.Shards {
		run.Artifacts = append(run.Artifacts, s.ArtifactDirs...)
	}
	return run
}

// Summary describes a run for the JSON output and the console
type Summary struct {
	Task     string
	RunID    string
	Run      *domain.RunResult
	Failures []domain.TestFailure
	Tests    int
}

// Summarize counts shard outcomes and test failures
func Summarize(s Summary, now time.Time) domain.RunResultsOutput {
	meta := domain.RunResultsMeta{
		Task:            s.Task,
		RunID:           s.RunID,
		TotalShards:     len(s.Run.Shards),
		UnknownShards:   len(s.Run.Unknown()),
		FailedShards:    len(s.Run.Failed()),
		TotalTests:      s.Tests,
		FailedTestCases: len(s.Failures),
		Duration:        s.Run.Duration.String(),
		DurationSeconds: s.Run.Duration.Seconds(),
		Timestamp:       now.Format(time.RFC3339),
	}
	meta.PassedShards = meta.TotalShards - meta.FailedShards - meta.UnknownShards

	failures := s.Failures
	if failures == nil {
		failures = []domain.TestFailure{}
	}
	return domain.RunResultsOutput{Meta: meta, Shards: s.Run.Shards, Details: failures}
}

// CollectFailures reads the result documents of every shard's artifact folders. Unreadable
// documents are logged and skipped. Returns the failures and the number of test cases seen.
func CollectFailures(run *domain.RunResult, document string, logger *zap.Logger) ([]domain.TestFailure, int) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var failures []domain.TestFailure
	tests := 0
	for _, shard := range run.Shards {
		for _, dir := range shard.ArtifactDirs {
			path := filepath.Join(dir, document)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			report, err := parser.ParseJUnitFile(path)
			if err != nil {
				logger.Warn("skipping unreadable result document", zap.String("path", path), zap.Error(err))
				continue
			}
			tests += len(report.Cases())
			failures = append(failures, report.Failures(shard.Index)...)
		}
	}
	sort.SliceStable(failures, func(i, j int) bool { return failures[i].Shard < failures[j].Shard })
	return failures, tests
}
