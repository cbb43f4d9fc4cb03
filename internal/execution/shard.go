package execution

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shardrun/internal/allocation"
	"shardrun/internal/config"
	"shardrun/internal/domain"
	"shardrun/internal/ledger"
	"shardrun/internal/parser"
)

// ShardReport is the outcome of running a shard inside its worker
type ShardReport struct {
	Spec      domain.ShardSpec
	Allocated int
	Skipped   int
	Results   []domain.TestResult
	Failures  []domain.TestFailure
	Document  string
	Duration  time.Duration
}

// Failed returns the number of tests that did not pass
func (r *ShardReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Success {
			n++
		}
	}
	return n
}

// ShardRunner recomputes a shard's allocation inside the worker and runs it, skipping
// tests the ledger already records as passed.
type ShardRunner struct {
	config *config.Config
	pool   Executor
	ledger *ledger.Ledger
	parser parser.Parser
	logger *zap.Logger
}

// NewShardRunner creates a ShardRunner. Passing tests are appended to the ledger as soon
// as they finish.
func NewShardRunner(cfg *config.Config, pool *WorkerPool, ldg *ledger.Ledger, logger *zap.Logger) *ShardRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ShardRunner{config: cfg, pool: pool, ledger: ldg, parser: parser.NewOutputParser(), logger: logger}
	pool.OnResult(s.record)
	return s
}

// SetParser replaces the parser that turns failed results into failure records
func (s *ShardRunner) SetParser(p parser.Parser) {
	s.parser = p
}

func (s *ShardRunner) record(result domain.TestResult) {
	if !result.Success {
		s.logger.Warn("test failed", zap.String("test", result.TestID), zap.Duration("duration", result.Duration))
		return
	}
	if err := s.ledger.Append(result.TestID); err != nil {
		s.logger.Error("failed to record passed test", zap.String("test", result.TestID), zap.Error(err))
	}
}

// Run executes the shard and writes its result document below resultsDir
func (s *ShardRunner) Run(ctx context.Context, spec domain.ShardSpec, allTests []string, resultsDir string) (*ShardReport, error) {
	allocated, err := allocation.AllocateSpec(allTests, spec)
	if err != nil {
		return nil, err
	}
	remaining, err := s.ledger.Exclude(allocated)
	if err != nil {
		return nil, err
	}

	report := &ShardReport{Spec: spec, Allocated: len(allocated), Skipped: len(allocated) - len(remaining)}
	s.logger.Info("running shard",
		zap.Stringer("shard", spec),
		zap.Int("allocated", report.Allocated),
		zap.Int("already_passed", report.Skipped),
	)

	results, duration, execErr := s.pool.Execute(ctx, remaining)
	report.Results = results
	report.Duration = duration

	failures := make(map[string]domain.TestFailure)
	for _, res := range results {
		for _, f := range s.parser.ParseFailure(res) {
			f.Shard = spec.Index
			failures[res.TestID] = f
			report.Failures = append(report.Failures, f)
		}
	}

	name := fmt.Sprintf("shard-%d", spec.Index)
	document := filepath.Join(resultsDir, name+"-"+uuid.NewString()[:8], s.config.ResultDocument)
	if err := parser.WriteJUnitFile(document, parser.BuildJUnit(name, results, failures, duration)); err != nil {
		return report, fmt.Errorf("failed to write result document: %w", err)
	}
	report.Document = document

	s.logger.Info("shard finished",
		zap.Int("ran", len(results)),
		zap.Int("failed", report.Failed()),
		zap.String("document", document),
	)
	return report, execErr
}
