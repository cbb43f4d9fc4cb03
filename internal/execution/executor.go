package execution

import (
	"context"
	"time"

	"shardrun/internal/domain"
)

// Executor executes tests and returns results
type Executor interface {
	Execute(ctx context.Context, tests []string) ([]domain.TestResult, time.Duration, error)
}
