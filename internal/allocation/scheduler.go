package allocation

// Scheduler distributes tests across shards
type Scheduler interface {
	Schedule(tests []string, shardCount int) [][]string
}

// SeededScheduler distributes tests with Allocate for every shard index
type SeededScheduler struct {
	seed int64
}

// NewSeededScheduler creates a new SeededScheduler
func NewSeededScheduler(seed int64) *SeededScheduler {
	return &SeededScheduler{seed: seed}
}

// Schedule returns one allocation per shard. A shard count below 1 is treated as 1.
func (s *SeededScheduler) Schedule(tests []string, shardCount int) [][]string {
	if shardCount <= 0 {
		shardCount = 1
	}

	distribution := make([][]string, shardCount)
	shuffled := shuffle(tests, s.seed)
	for i := range distribution {
		start, end := bounds(len(shuffled), i, shardCount)
		distribution[i] = make([]string, end-start)
		copy(distribution[i], shuffled[start:end])
	}

	return distribution
}
