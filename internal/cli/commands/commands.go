package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shardrun/internal/cleanup"
	"shardrun/internal/cli"
	"shardrun/internal/config"
	"shardrun/internal/logger"
)

// ExitError carries a process exit code out of a command
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// App holds what every command needs once flags are parsed
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *cleanup.Registry
	Out      io.Writer
}

// Commands holds all CLI commands
type Commands struct {
	app   *App
	flags *cli.Flags

	Run    *RunCommand
	List   *ListCommand
	Shard  *ShardCommand
	Pool   *PoolCommand
	Report *ReportCommand
}

// NewCommands creates all commands. The registry is shared with the signal handler so an
// interrupted run still releases its cluster resources.
func NewCommands(registry *cleanup.Registry) *Commands {
	app := &App{Config: config.New(), Logger: zap.NewNop(), Registry: registry, Out: os.Stdout}
	return &Commands{
		app:    app,
		flags:  &cli.Flags{},
		Run:    &RunCommand{app: app},
		List:   &ListCommand{app: app},
		Shard:  &ShardCommand{app: app},
		Pool:   &PoolCommand{app: app},
		Report: &ReportCommand{app: app},
	}
}

// load builds the configuration from the parsed flags and initialises logging
func (c *Commands) load(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.flags.ToConfigFlags(cmd.Flags().Changed))
	if err != nil {
		return err
	}
	logger.Init(&cfg.Log)
	c.app.Config = cfg
	c.app.Logger = logger.L()
	c.app.Registry.SetLogger(c.app.Logger)
	return nil
}

// Register registers all commands with cobra
func (c *Commands) Register(rootCmd *cobra.Command) {
	flags := c.flags
	rootCmd.PersistentPreRunE = c.load
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.ConfigFile, "config", "", "Path to the YAML configuration file (default ./"+config.DefaultConfigFile+")")
	pf.StringVar(&flags.Task, "task", "", "Logical task name used for the run id and worker names")
	pf.StringVar(&flags.Revision, "revision", "", "Source revision the run id is derived from")
	pf.StringVar(&flags.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&flags.TestPath, "test-path", "t", "", "Path to the folder where test detection should start")
	pf.StringVar(&flags.TestListFile, "test-list", "", "File with one test identifier per line, instead of scanning")
	pf.StringVarP(&flags.NameFilter, "filter", "f", "", "Filter tests by name pattern (supports wildcards, e.g., '*UserTest.php' or '*Payment*')")
	pf.StringVar(&flags.Distribution, "distribution", "", "Distribute tests by 'method' or 'class'")
	pf.IntVarP(&flags.Shards, "shards", "s", 0, "Number of shards")
	pf.Int64Var(&flags.Seed, "seed", 0, "Shuffle seed (default derived from revision and task)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the test suite sharded across cluster workers",
		Long:  "Discover tests, run every shard in its own worker pod, collect the results and print a summary",
		RunE:  c.Run.Execute,
	}
	runCmd.Flags().IntVar(&flags.MaxParallel, "max-parallel", 0, "Maximum number of shards running at once (0 = all)")
	runCmd.Flags().IntVarP(&flags.Retries, "retries", "r", 0, "Attempts per shard")
	runCmd.Flags().StringVar(&flags.Image, "image", "", "Worker image")
	runCmd.Flags().StringVar(&flags.Command, "command", "", "Command executed in every worker ({shardIndex}, {shardCount}, {seed}, {runId} are expanded)")
	runCmd.Flags().StringVar(&flags.BuildCommand, "build-command", "", "Local command building the worker image, run while capacity is booked")
	runCmd.Flags().StringVarP(&flags.Namespace, "namespace", "n", "", "Kubernetes namespace")
	runCmd.Flags().BoolVar(&flags.PrintOutput, "print-output", false, "Mirror worker output to the console")
	runCmd.Flags().BoolVar(&flags.UnknownAsFailure, "unknown-as-failure", true, "Fail the run when a shard never reported an exit code")
	runCmd.Flags().BoolVar(&flags.OpenReport, "open-report", false, "Open the report viewer when the run finishes with failures")
	runCmd.Flags().BoolVar(&flags.NoPool, "no-pool", false, "Do not book capacity before the run")
	runCmd.Flags().StringVar(&flags.Tag, "tag", "", "Capacity pool tag (usually the image tag)")
	runCmd.Flags().StringVar(&flags.Group, "group", "", "Capacity pool group")
	rootCmd.AddCommand(runCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered tests",
		Long:  "Scan and list tests without executing them, optionally as they are allocated to shards",
		RunE:  c.List.Execute,
	}
	listCmd.Flags().IntVar(&flags.ShardIndex, "shard", -1, "Only list the tests of this shard (0-based)")
	listCmd.Flags().BoolVar(&flags.ShowTests, "show-tests", false, "Print the tests of every shard when --shards is given")
	rootCmd.AddCommand(listCmd)

	shardCmd := &cobra.Command{
		Use:   "shard",
		Short: "Run one shard inside a worker",
		Long:  "Recompute this worker's allocation, skip tests the ledger records as passed and run the rest",
		RunE:  c.Shard.Execute,
	}
	shardCmd.Flags().IntVar(&flags.ShardIndex, "shard", -1, "Shard index (default $"+envShardIndex+")")
	shardCmd.Flags().IntVarP(&flags.Processors, "processors", "p", 0, "Number of local test processes")
	shardCmd.Flags().StringVar(&flags.TestCommand, "test-command", "", "Command running one test ({test}, {file}, {method}, {worker} are expanded)")
	rootCmd.AddCommand(shardCmd)

	for _, pc := range []struct {
		use, short string
		run        func(*cobra.Command, []string) error
	}{
		{"preallocate", "Book worker capacity ahead of a run", c.Pool.PreAllocate},
		{"deallocate", "Release booked worker capacity", c.Pool.Release},
	} {
		poolCmd := &cobra.Command{Use: pc.use, Short: pc.short, RunE: pc.run}
		poolCmd.Flags().StringVar(&flags.Tag, "tag", "", "Capacity pool tag (usually the image tag)")
		poolCmd.Flags().StringVar(&flags.Group, "group", "", "Capacity pool group")
		poolCmd.Flags().IntVar(&flags.PoolCount, "count", 0, "Number of workers to book (default: shards)")
		poolCmd.Flags().StringVarP(&flags.Namespace, "namespace", "n", "", "Kubernetes namespace")
		rootCmd.AddCommand(poolCmd)
	}

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "View the failures of the last run interactively",
		Long:  "Display test failures from the last run in an interactive viewer",
		RunE:  c.Report.Execute,
	}
	reportCmd.Flags().BoolVar(&flags.Summary, "summary", false, "Print the summary instead of opening the viewer")
	reportCmd.Flags().IntVar(&flags.History, "history", 0, "Print the last N published runs from Redis")
	rootCmd.AddCommand(reportCmd)
}

// Flags returns the parsed CLI flags
func (c *Commands) Flags() *cli.Flags {
	return c.flags
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Out, format, args...)
}
