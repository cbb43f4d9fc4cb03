package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shardrun/internal/aggregate"
	"shardrun/internal/allocation"
	"shardrun/internal/cluster"
	"shardrun/internal/config"
	"shardrun/internal/database"
	"shardrun/internal/discovery"
	"shardrun/internal/domain"
	"shardrun/internal/execution"
	"shardrun/internal/pool"
	"shardrun/internal/publish"
	"shardrun/internal/storage"
	"shardrun/internal/ui"
)

// RunCommand handles the run command
type RunCommand struct {
	app *App
}

// Execute runs the command
func (rc *RunCommand) Execute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := rc.app.Config
	log := rc.app.Logger

	tests, err := discovery.NewDiscoverer(cfg, log).Discover()
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		color.Yellow("No tests to execute")
		return nil
	}

	runID := allocation.StableRunID(cfg.Revision, cfg.Task)
	seed := runSeed(cfg)
	counts, err := allocation.ShardSizes(len(tests), cfg.Shards)
	if err != nil {
		return err
	}
	log.Info("starting run",
		zap.String("run_id", runID),
		zap.Int("tests", len(tests)),
		zap.Int("shards", cfg.Shards),
		zap.Int64("seed", seed),
		zap.Ints("shard_sizes", counts),
	)

	client, err := cluster.NewClient(cfg, log)
	if err != nil {
		return err
	}

	var capacity *pool.Pool
	prefix := ""
	if cfg.Pool.Enabled {
		capacity = pool.NewPool(cfg, client, log)
		prefix = allocation.PoolPrefix(poolTag(cfg.Pool.Tag, cfg.Image), cfg.Pool.Group)
	}
	if err := rc.prepare(ctx, capacity, prefix); err != nil {
		return err
	}

	orchestrator := execution.NewOrchestrator(cfg, client, log)
	orchestrator.SetRegistry(rc.app.Registry)
	if capacity != nil {
		orchestrator.SetPool(capacity)
	}
	if cfg.Database.Enabled {
		dm := database.NewDatabaseManager(cfg, log)
		defer dm.Close()
		orchestrator.SetAuxProvisioner(dm)
	}
	if !cfg.PrintOutput {
		orchestrator.SetProgress(ui.NewProgressBar(cfg.Shards, "Running shards"))
	}

	run, runErr := orchestrator.Run(ctx, execution.RunRequest{
		RunID:      runID,
		Seed:       seed,
		Shards:     cfg.Shards,
		Command:    cfg.Command,
		PoolPrefix: prefix,
		TestCounts: counts,
	})
	if run == nil {
		return runErr
	}
	if runErr != nil {
		log.Error("run aborted", zap.Error(runErr))
	}

	failures, executed := aggregate.CollectFailures(run, cfg.ResultDocument, log)
	output := aggregate.Summarize(aggregate.Summary{
		Task:     cfg.Task,
		RunID:    runID,
		Run:      run,
		Failures: failures,
		Tests:    executed,
	}, time.Now())

	st := storage.NewJSONStorage(cfg)
	if err := st.Save(&output); err != nil {
		return fmt.Errorf("failed to save run results: %w", err)
	}

	// Reporting goes on after a cancelled run
	rctx := context.WithoutCancel(ctx)
	rc.archive(rctx, runID, run)
	rc.publish(rctx, output.Meta)

	formatter := ui.NewFormatter(rc.app.Out)
	formatter.PrintSummary(&output)

	if runErr != nil {
		return runErr
	}
	if cfg.Flags.OpenReport && len(output.Details) > 0 {
		if err := ui.NewReportViewer(st, rc.app.Out).View(&output); err != nil {
			return err
		}
	}
	return runPolicy(run, cfg.UnknownAsFailure)
}

// runPolicy turns shard outcomes into the process exit code
func runPolicy(run *domain.RunResult, unknownAsFailure bool) error {
	failed := len(run.Failed())
	unknown := len(run.Unknown())
	if failed > 0 {
		return &ExitError{Code: 1, Message: fmt.Sprintf("%d shard(s) failed", failed)}
	}
	if unknown > 0 && unknownAsFailure {
		return &ExitError{Code: 1, Message: fmt.Sprintf("%d shard(s) finished without an exit code", unknown)}
	}
	return nil
}

// prepare books capacity while the worker image is built
func (rc *RunCommand) prepare(ctx context.Context, capacity *pool.Pool, prefix string) error {
	cfg := rc.app.Config
	g, gctx := errgroup.WithContext(ctx)
	if capacity != nil {
		g.Go(func() error {
			names, err := capacity.PreAllocate(gctx, pool.RequestFromConfig(cfg, prefix))
			if err != nil {
				return fmt.Errorf("failed to book capacity: %w", err)
			}
			rc.app.Logger.Info("booked capacity", zap.String("prefix", prefix), zap.Int("workers", len(names)))
			return nil
		})
	}
	if cfg.BuildCommand != "" {
		g.Go(func() error {
			return rc.build(gctx, cfg.BuildCommand)
		})
	}
	if err := g.Wait(); err != nil {
		if capacity != nil {
			if _, rerr := capacity.Release(context.WithoutCancel(ctx), prefix); rerr != nil {
				rc.app.Logger.Warn("failed to release capacity", zap.Error(rerr))
			}
		}
		return err
	}
	return nil
}

func (rc *RunCommand) build(ctx context.Context, command string) error {
	rc.app.Logger.Info("building worker image", zap.String("command", command))
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = rc.app.Config.ProjectPath
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build command failed: %w", err)
	}
	return nil
}

func (rc *RunCommand) archive(ctx context.Context, runID string, run *domain.RunResult) {
	cfg := rc.app.Config
	if cfg.S3.Bucket == "" {
		return
	}
	archiver, err := storage.NewS3Archiver(ctx, cfg.S3, rc.app.Logger)
	if err != nil {
		rc.app.Logger.Warn("artifact upload skipped", zap.Error(err))
		return
	}
	if _, err := archiver.Upload(ctx, runID, cfg.GetResultsDir(), run.Artifacts); err != nil {
		rc.app.Logger.Warn("artifact upload failed", zap.Error(err))
	}
	if _, err := archiver.Upload(ctx, runID, cfg.GetOutputDir(), []string{cfg.GetLogDir()}); err != nil {
		rc.app.Logger.Warn("log upload failed", zap.Error(err))
	}
	if err := archiver.UploadFile(ctx, runID, cfg.GetOutputPath()); err != nil {
		rc.app.Logger.Warn("result upload failed", zap.Error(err))
	}
}

func (rc *RunCommand) publish(ctx context.Context, meta domain.RunResultsMeta) {
	cfg := rc.app.Config
	if cfg.Redis.Addr == "" {
		return
	}
	publisher, err := publish.NewRedisPublisher(ctx, cfg.Redis, rc.app.Logger)
	if err != nil {
		rc.app.Logger.Warn("run summary not published", zap.Error(err))
		return
	}
	defer publisher.Close()
	if err := publisher.Publish(ctx, meta); err != nil {
		rc.app.Logger.Warn("run summary not published", zap.Error(err))
	}
}

// runSeed is the explicit --seed, or the seed derived from revision and task
func runSeed(cfg *config.Config) int64 {
	if cfg.Flags.Seed != nil {
		return *cfg.Flags.Seed
	}
	return allocation.Seed(cfg.Revision, cfg.Task)
}

// poolTag defaults the pool tag to the tag of the worker image
func poolTag(tag, image string) string {
	if tag != "" {
		return tag
	}
	if i := strings.LastIndex(image, ":"); i >= 0 && !strings.Contains(image[i:], "/") {
		return image[i+1:]
	}
	return image
}
