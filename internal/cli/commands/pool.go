package commands

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shardrun/internal/allocation"
	"shardrun/internal/cluster"
	"shardrun/internal/pool"
)

// PoolCommand books and releases worker capacity outside of a run, e.g. from an earlier
// CI stage
type PoolCommand struct {
	app *App
}

func (pc *PoolCommand) open() (*pool.Pool, string, error) {
	cfg := pc.app.Config
	client, err := cluster.NewClient(cfg, pc.app.Logger)
	if err != nil {
		return nil, "", err
	}
	prefix := allocation.PoolPrefix(poolTag(cfg.Pool.Tag, cfg.Image), cfg.Pool.Group)
	return pool.NewPool(cfg, client, pc.app.Logger), prefix, nil
}

// PreAllocate runs the preallocate command
func (pc *PoolCommand) PreAllocate(cmd *cobra.Command, args []string) error {
	p, prefix, err := pc.open()
	if err != nil {
		return err
	}
	names, err := p.PreAllocate(cmd.Context(), pool.RequestFromConfig(pc.app.Config, prefix))
	if err != nil {
		return err
	}
	pc.app.Logger.Info("capacity booked", zap.String("prefix", prefix), zap.Strings("workers", names))
	pc.app.printf("%s: %d worker(s) booked\n", prefix, len(names))
	return nil
}

// Release runs the deallocate command
func (pc *PoolCommand) Release(cmd *cobra.Command, args []string) error {
	p, prefix, err := pc.open()
	if err != nil {
		return err
	}
	names, err := p.Release(cmd.Context(), prefix)
	if err != nil {
		return err
	}
	pc.app.printf("%s: %d worker(s) released\n", prefix, len(names))
	return nil
}
