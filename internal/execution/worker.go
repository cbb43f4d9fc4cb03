package execution

import (
	"context"
	"sync"
	"time"

	"shardrun/internal/config"
	"shardrun/internal/domain"
	"shardrun/internal/parser"
)

// TestRunner runs one test identifier
type TestRunner interface {
	Run(ctx context.Context, testID string, workerID int) domain.TestResult
}

// WorkerPool runs the tests of a shard on local processes inside the worker
type WorkerPool struct {
	config   *config.Config
	runner   TestRunner
	progress Progress
	parser   *parser.OutputParser
	onResult func(domain.TestResult)
}

// NewWorkerPool creates a new WorkerPool
func NewWorkerPool(cfg *config.Config, runner TestRunner, outputParser *parser.OutputParser) *WorkerPool {
	return &WorkerPool{
		config: cfg,
		runner: runner,
		parser: outputParser,
	}
}

// SetProgress sets the progress bar for the worker pool
func (wp *WorkerPool) SetProgress(progress Progress) {
	wp.progress = progress
}

// OnResult registers a callback invoked for every finished test, one at a time
func (wp *WorkerPool) OnResult(fn func(domain.TestResult)) {
	wp.onResult = fn
}

// Execute runs all tests in parallel. Cancelling ctx stops queued tests from starting.
func (wp *WorkerPool) Execute(ctx context.Context, tests []string) ([]domain.TestResult, time.Duration, error) {
	if len(tests) == 0 {
		return nil, 0, nil
	}

	testQueue := make(chan string, len(tests))
	results := make(chan domain.TestResult, len(tests))
	for _, test := range tests {
		testQueue <- test
	}
	close(testQueue)

	var mu sync.Mutex
	var passedCases, failedCases int
	startTime := time.Now()
	workerCount := wp.config.Processors
	if workerCount <= 0 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	for i := 1; i <= workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for testID := range testQueue {
				if ctx.Err() != nil {
					return
				}
				result := wp.runner.Run(ctx, testID, workerID)
				results <- result
				mu.Lock()
				if wp.parser != nil {
					p, f := wp.parser.ParseTestCounts(result)
					passedCases += p
					failedCases += f
				} else if result.Success {
					passedCases++
				} else {
					failedCases++
				}
				if wp.onResult != nil {
					wp.onResult(result)
				}
				if wp.progress != nil {
					wp.progress.Update(passedCases, failedCases)
				}
				mu.Unlock()
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var allResults []domain.TestResult
	for result := range results {
		allResults = append(allResults, result)
	}
	if wp.progress != nil {
		wp.progress.Finish()
	}
	return allResults, time.Since(startTime), ctx.Err()
}
