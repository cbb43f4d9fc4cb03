package execution

import (
	"sort"
	"strconv"
	"strings"

	"shardrun/internal/domain"
)

// Environment variables every worker receives
const (
	EnvShardIndex   = "SHARDRUN_SHARD_INDEX"
	EnvShardCount   = "SHARDRUN_SHARD_COUNT"
	EnvSeed         = "SHARDRUN_SEED"
	EnvResultsDir   = "SHARDRUN_RESULTS_DIR"
	EnvLedger       = "SHARDRUN_LEDGER"
	EnvRunID        = "SHARDRUN_RUN_ID"
	EnvTask         = "SHARDRUN_TASK"
	EnvDistribution = "SHARDRUN_DISTRIBUTION"
	EnvLogLevel     = "SHARDRUN_LOG_LEVEL"
	EnvFilter       = "SHARDRUN_FILTER"
)

// ExpandCommand fills the shard placeholders of a command template, then any extra
// replacements. Longer placeholders are replaced first.
func ExpandCommand(template string, spec domain.ShardSpec, runID string, extra map[string]string) string {
	replacements := map[string]string{
		"{shardIndex}": strconv.Itoa(spec.Index),
		"{shardCount}": strconv.Itoa(spec.Count),
		"{seed}":       strconv.FormatInt(spec.Seed, 10),
		"{runId}":      runID,
	}
	for k, v := range extra {
		replacements[k] = v
	}

	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, replacements[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
