// Package allocation maps a discovered test list onto shards.
//
// Allocate is pure: the orchestrator calls it to decide what each worker owns and the
// worker calls it again to filter its local run. Both sides agree only through the seed.
package allocation

import (
	"fmt"
	"math/rand"

	"shardrun/internal/domain"
)

// Allocate returns the tests owned by shardIndex out of shardCount.
//
// The input is shuffled with seed (math/rand sources are stable across Go releases) and
// cut into contiguous slices. The first len(allTests)%shardCount shards get one extra test,
// so shard sizes never differ by more than one. Shards beyond the number of tests are empty.
func Allocate(allTests []string, shardIndex, shardCount int, seed int64) ([]string, error) {
	spec := domain.ShardSpec{Index: shardIndex, Count: shardCount, Seed: seed}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	shuffled := shuffle(allTests, seed)
	start, end := bounds(len(shuffled), shardIndex, shardCount)
	out := make([]string, end-start)
	copy(out, shuffled[start:end])
	return out, nil
}

// AllocateSpec is Allocate for a ShardSpec
func AllocateSpec(allTests []string, spec domain.ShardSpec) ([]string, error) {
	return Allocate(allTests, spec.Index, spec.Count, spec.Seed)
}

func shuffle(tests []string, seed int64) []string {
	out := make([]string, len(tests))
	copy(out, tests)
	rnd := rand.New(rand.NewSource(seed))
	rnd.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// bounds returns the [start, end) range of shard i
func bounds(total, i, count int) (int, int) {
	base := total / count
	extra := total % count
	start := i*base + min(i, extra)
	size := base
	if i < extra {
		size++
	}
	return start, start + size
}

// ShardSizes returns the size every shard will have, in shard order
func ShardSizes(total, shardCount int) ([]int, error) {
	if shardCount < 1 {
		return nil, fmt.Errorf("%w: shard count must be at least 1", domain.ErrInvalidShardIndex)
	}
	sizes := make([]int, shardCount)
	for i := range sizes {
		start, end := bounds(total, i, shardCount)
		sizes[i] = end - start
	}
	return sizes, nil
}
