package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shardrun/internal/cleanup"
	"shardrun/internal/cli/commands"
	"shardrun/internal/config"
	"shardrun/internal/logger"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer logger.Sync()

	rootCmd := &cobra.Command{
		Use:   "shardrun",
		Short: "Distributed test sharding on Kubernetes",
		Long: `Split a test suite into deterministic shards, run every shard in its own worker pod and
merge the results into one reproducible run report.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Resources still registered when a signal arrives are released by the sweep
	registry := cleanup.New(nil)
	stopSweep := registry.SweepOnDone(ctx, 2*config.DefaultDeleteTimeout)

	cmds := commands.NewCommands(registry)
	cmds.Register(rootCmd)

	err := rootCmd.ExecuteContext(ctx)
	if ctx.Err() != nil {
		// the sweep already started; make sure it finished before exiting
		sweepCtx, sweepCancel := context.WithTimeout(context.Background(), 2*config.DefaultDeleteTimeout)
		if cerr := registry.RunAll(sweepCtx); cerr != nil {
			logger.Error("cleanup incomplete", zap.Error(cerr))
		}
		sweepCancel()
	}
	stopSweep()

	if err == nil {
		return 0
	}
	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "%s\n", exitErr.Message)
		return exitErr.Code
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
