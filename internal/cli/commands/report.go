package commands

import (
	"github.com/spf13/cobra"

	"shardrun/internal/publish"
	"shardrun/internal/storage"
	"shardrun/internal/ui"
)

// ReportCommand handles the report command
type ReportCommand struct {
	app *App
}

// Execute runs the command
func (rc *ReportCommand) Execute(cmd *cobra.Command, args []string) error {
	cfg := rc.app.Config
	if cfg.Flags.History > 0 {
		return rc.history(cmd, cfg.Flags.History)
	}

	st := storage.NewJSONStorage(cfg)
	results, err := st.Load()
	if err != nil {
		return err
	}
	if cfg.Flags.Summary {
		ui.NewFormatter(rc.app.Out).PrintSummary(results)
		return nil
	}
	return ui.NewReportViewer(st, rc.app.Out).View(results)
}

func (rc *ReportCommand) history(cmd *cobra.Command, n int) error {
	publisher, err := publish.NewRedisPublisher(cmd.Context(), rc.app.Config.Redis, rc.app.Logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	metas, err := publisher.Recent(cmd.Context(), n)
	if err != nil {
		return err
	}
	for _, m := range metas {
		rc.app.printf("%s  %-12s %s  shards %d passed %d failed %d unknown %d  tests %d  %.0fs\n",
			m.Timestamp, m.Task, m.RunID, m.TotalShards, m.PassedShards, m.FailedShards, m.UnknownShards, m.TotalTests, m.DurationSeconds)
	}
	return nil
}
