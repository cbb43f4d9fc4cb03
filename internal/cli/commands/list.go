package commands

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"shardrun/internal/allocation"
	"shardrun/internal/discovery"
	"shardrun/internal/domain"
	"shardrun/internal/storage"
	"shardrun/internal/ui"
)

// ListCommand handles the list command
type ListCommand struct {
	app *App
}

// Execute runs the command. With --shards the allocation is printed as the workers will
// compute it; --shard narrows it to one shard.
func (lc *ListCommand) Execute(cmd *cobra.Command, args []string) error {
	cfg := lc.app.Config
	tests, err := discovery.NewDiscoverer(cfg, lc.app.Logger).Discover()
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		color.Yellow("No tests found")
		return nil
	}

	formatter := ui.NewFormatter(lc.app.Out)
	seed := runSeed(cfg)

	if cfg.Flags.ShardIndex >= 0 {
		shard, err := allocation.AllocateSpec(tests, domain.ShardSpec{Index: cfg.Flags.ShardIndex, Count: cfg.Shards, Seed: seed})
		if err != nil {
			return err
		}
		formatter.PrintTestList(shard, lc.failedLastRun())
		return nil
	}
	if cmd.Flags().Changed("shards") {
		formatter.PrintAllocation(allocation.NewSeededScheduler(seed).Schedule(tests, cfg.Shards), seed, cfg.Flags.ShowTests)
		return nil
	}

	formatter.PrintTestList(tests, lc.failedLastRun())
	return nil
}

func (lc *ListCommand) failedLastRun() map[string]struct{} {
	last, err := storage.NewJSONStorage(lc.app.Config).Load()
	if err != nil {
		return nil
	}
	return ui.FailedSet(last)
}
