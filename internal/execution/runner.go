package execution

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"shardrun/internal/config"
	"shardrun/internal/domain"
	"shardrun/internal/parser"
)

// Runner executes a single test identifier inside a worker
type Runner struct {
	config *config.Config
}

// NewRunner creates a new Runner
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{config: cfg}
}

// Command expands the test command template for one identifier. {test} is the full
// identifier, {file} and {method} its two halves, {worker} the local worker slot.
func (r *Runner) Command(testID string, workerID int) string {
	file, method := parser.SplitTestID(testID)
	return strings.NewReplacer(
		"{test}", shellQuote(testID),
		"{file}", shellQuote(file),
		"{method}", shellQuote(method),
		"{worker}", fmt.Sprintf("%d", workerID),
	).Replace(r.config.TestCommand)
}

// Run executes the test command for a single identifier
func (r *Runner) Run(ctx context.Context, testID string, workerID int) domain.TestResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, "bash", "-c", r.Command(testID, workerID))

	// Set environment variables
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, fmt.Sprintf("SHARDRUN_WORKER_ID=%d", workerID))

	// Set working directory
	cmd.Dir = r.config.ProjectPath

	output, err := cmd.CombinedOutput()

	return domain.TestResult{
		TestID:   testID,
		Success:  err == nil,
		Output:   string(output),
		Error:    err,
		Duration: time.Since(start),
	}
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
