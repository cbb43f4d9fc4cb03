package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shardrun/internal/allocation"
	"shardrun/internal/config"
	"shardrun/internal/discovery"
	"shardrun/internal/domain"
	"shardrun/internal/execution"
	"shardrun/internal/ledger"
	"shardrun/internal/logger"
	"shardrun/internal/parser"
	"shardrun/internal/ui"
)

const envShardIndex = execution.EnvShardIndex

// ShardCommand runs inside a worker pod
type ShardCommand struct {
	app *App
}

// Execute runs the command
func (sc *ShardCommand) Execute(cmd *cobra.Command, args []string) error {
	cfg := sc.app.Config
	log := sc.app.Logger
	if level := os.Getenv(execution.EnvLogLevel); level != "" && cfg.Flags.LogLevel == "" {
		cfg.Log.Level = level
		log = logger.New(&cfg.Log)
	}
	applyWorkerEnv(cfg, os.Getenv)

	spec, err := shardSpecFromEnv(cfg, os.Getenv)
	if err != nil {
		return err
	}

	tests, err := discovery.NewDiscoverer(cfg, log).Discover()
	if err != nil {
		return err
	}

	ledgerPath := envOr(os.Getenv, execution.EnvLedger, cfg.GetLedgerPath())
	ldg, err := ledger.Open(ledgerPath)
	if err != nil {
		return err
	}

	workerPool := execution.NewWorkerPool(cfg, execution.NewRunner(cfg), parser.NewOutputParser())
	runner := execution.NewShardRunner(cfg, workerPool, ldg, log)

	allocated, err := allocation.AllocateSpec(tests, spec)
	if err != nil {
		return err
	}
	if len(allocated) > 0 {
		workerPool.SetProgress(ui.NewProgressBar(len(allocated), "Running tests"))
	}

	resultsDir := envOr(os.Getenv, execution.EnvResultsDir, cfg.GetRemoteResultsDir())
	report, err := runner.Run(cmd.Context(), spec, tests, resultsDir)
	if err != nil {
		return err
	}

	sc.app.printf("shard %s: %d allocated, %d already passed, %d ran, %d failed in %s\n",
		spec, report.Allocated, report.Skipped, len(report.Results), report.Failed(), report.Duration.Round(1e6))
	for _, f := range report.Failures {
		color.New(color.FgRed).Fprintf(sc.app.Out, "✗ %s\n", domain.MethodID(f.FilePath, f.TestName))
	}
	if report.Failed() > 0 {
		log.Warn("shard has failing tests", zap.Int("failed", report.Failed()))
		return &ExitError{Code: 1, Message: fmt.Sprintf("%d test(s) failed", report.Failed())}
	}
	return nil
}

// applyWorkerEnv takes run settings the orchestrator passes to workers, unless a flag
// already set them
func applyWorkerEnv(cfg *config.Config, getenv func(string) string) {
	if v := getenv(execution.EnvTask); v != "" && cfg.Flags.Task == "" {
		cfg.Task = v
	}
	if v := getenv(execution.EnvDistribution); v != "" && cfg.Flags.Distribution == "" {
		cfg.Distribution = v
	}
	if v := getenv(execution.EnvFilter); v != "" && cfg.Flags.NameFilter == "" {
		cfg.Flags.NameFilter = v
	}
}

// shardSpecFromEnv resolves the shard this worker runs. Flags win over the environment;
// the seed falls back to the one derived from revision and task.
func shardSpecFromEnv(cfg *config.Config, getenv func(string) string) (domain.ShardSpec, error) {
	spec := domain.ShardSpec{Index: cfg.Flags.ShardIndex, Count: cfg.Flags.Shards}

	if spec.Index < 0 {
		v, err := envInt(getenv, execution.EnvShardIndex)
		if err != nil {
			return spec, err
		}
		spec.Index = v
	}
	if spec.Count <= 0 {
		v, err := envInt(getenv, execution.EnvShardCount)
		if err != nil {
			return spec, err
		}
		spec.Count = v
	}
	switch raw := getenv(execution.EnvSeed); {
	case cfg.Flags.Seed != nil:
		spec.Seed = *cfg.Flags.Seed
	case raw != "":
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return spec, fmt.Errorf("%w: %s=%q", domain.ErrInvalidArgument, execution.EnvSeed, raw)
		}
		spec.Seed = seed
	default:
		spec.Seed = allocation.Seed(cfg.Revision, cfg.Task)
	}
	return spec, spec.Validate()
}

func envInt(getenv func(string) string, key string) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s is not set", domain.ErrInvalidArgument, key)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", domain.ErrInvalidArgument, key, raw)
	}
	return v, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
