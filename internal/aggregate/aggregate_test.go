package aggregate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardrun/internal/domain"
)

func shard(index, code int, known bool, dirs ...string) domain.ShardResult {
	r := domain.NewShardResult(index, "w", domain.ExitStatus{Code: code, Known: known})
	r.ArtifactDirs = dirs
	return r
}

func TestAggregateOrdersShards(t *testing.T) {
	run := Aggregate([]domain.ShardResult{
		shard(2, 0, true, "c"),
		shard(0, 1, true, "a1", "a2"),
		shard(1, 0, false),
	})

	require.Len(t, run.Shards, 3)
	assert.Equal(t, 0, run.Shards[0].Index)
	assert.Equal(t, 2, run.Shards[2].Index)
	assert.Equal(t, []string{"a1", "a2", "c"}, run.Artifacts)
	assert.Equal(t, map[int]int{0: 1, 1: domain.UnknownExitCode, 2: 0}, run.ExitCodes())
	assert.Len(t, run.Failed(), 1)
	assert.Len(t, run.Unknown(), 1)
}

func TestAggregateEmpty(t *testing.T) {
	run := Aggregate(nil)
	assert.Empty(t, run.Shards)
	assert.NotNil(t, run.Artifacts)
}

func TestSummarize(t *testing.T) {
	run := Aggregate([]domain.ShardResult{shard(0, 0, true), shard(1, 3, true), shard(2, 0, false)})
	run.Duration = 90 * time.Second

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := Summarize(Summary{
		Task:     "integrationTest",
		RunID:    "abc",
		Run:      run,
		Failures: []domain.TestFailure{{TestName: "testX", Shard: 1}},
		Tests:    40,
	}, now)

	assert.Equal(t, 3, out.Meta.TotalShards)
	assert.Equal(t, 1, out.Meta.PassedShards)
	assert.Equal(t, 1, out.Meta.FailedShards)
	assert.Equal(t, 1, out.Meta.UnknownShards)
	assert.Equal(t, 40, out.Meta.TotalTests)
	assert.Equal(t, 1, out.Meta.FailedTestCases)
	assert.Equal(t, "1m30s", out.Meta.Duration)
	assert.Equal(t, "2026-01-02T03:04:05Z", out.Meta.Timestamp)
}

func TestCollectFailures(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "w-1", "suite")
	bad := filepath.Join(root, "w-0", "suite")
	require.NoError(t, os.MkdirAll(good, 0755))
	require.NoError(t, os.MkdirAll(bad, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(good, "results.xml"), []byte(
		`<testsuite name="s"><testcase name="ok"/><testcase name="broken"><failure message="nope"/></testcase></testsuite>`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(bad, "results.xml"), []byte("garbage"), 0644))

	run := Aggregate([]domain.ShardResult{
		shard(1, 1, true, good),
		shard(0, 0, true, bad, filepath.Join(root, "missing")),
	})

	failures, tests := CollectFailures(run, "results.xml", nil)
	assert.Equal(t, 2, tests)
	require.Len(t, failures, 1)
	assert.Equal(t, "broken", failures[0].TestName)
	assert.Equal(t, 1, failures[0].Shard)
	assert.Equal(t, "nope", failures[0].Message)
}
