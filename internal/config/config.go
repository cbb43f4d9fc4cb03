package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"shardrun/internal/domain"
	"shardrun/internal/logger"
)

// Config holds all configuration for the application
type Config struct {
	// Project settings
	ProjectPath  string   `yaml:"project_path"`
	TestPath     string   `yaml:"test_path"`
	TestListFile string   `yaml:"test_list_file"`
	TestSuffixes []string `yaml:"test_suffixes"`
	Distribution string   `yaml:"distribution"`

	// Output settings
	OutputJSONFile string `yaml:"output_json_file"`
	OutputJSONDir  string `yaml:"output_json_dir"`

	// Run identity
	Task     string `yaml:"task"`
	Revision string `yaml:"revision"`

	// Orchestration settings
	Shards            int           `yaml:"shards"`
	MaxParallel       int           `yaml:"max_parallel"`
	Retries           int           `yaml:"retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	Image             string        `yaml:"image"`
	SidecarImage      string        `yaml:"sidecar_image"`
	Command           string        `yaml:"command"`
	BuildCommand      string        `yaml:"build_command"`
	CoresPerWorker    int           `yaml:"cores_per_worker"`
	MemoryGBPerWorker int           `yaml:"memory_gb_per_worker"`
	Taints            []string      `yaml:"taints"`
	PrintOutput       bool          `yaml:"print_output"`
	UnknownAsFailure  bool          `yaml:"unknown_as_failure"`
	WorkerLogLevel    string        `yaml:"worker_log_level"`

	// In-worker settings
	Processors     int    `yaml:"processors"`
	TestCommand    string `yaml:"test_command"`
	RemoteRunDir   string `yaml:"remote_run_dir"`
	ResultDocument string `yaml:"result_document"`

	// Paths to ignore when scanning
	PathsToIgnore []string `yaml:"paths_to_ignore"`

	Pool     PoolConfig     `yaml:"pool"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Database DatabaseConfig `yaml:"database"`
	S3       S3Config       `yaml:"s3"`
	Redis    RedisConfig    `yaml:"redis"`
	Log      logger.Config  `yaml:"log"`

	// Command flags
	Flags Flags `yaml:"-"`
}

// PoolConfig describes the capacity pool booked ahead of a run
type PoolConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tag     string `yaml:"tag"`
	Group   string `yaml:"group"`
	Count   int    `yaml:"count"`
	Image   string `yaml:"image"`
}

// ClusterConfig holds Kubernetes connection and worker settings
type ClusterConfig struct {
	Kubeconfig    string        `yaml:"kubeconfig"`
	Namespace     string        `yaml:"namespace"`
	PullSecret    string        `yaml:"pull_secret"`
	StorageClass  string        `yaml:"storage_class"`
	VolumeSize    string        `yaml:"volume_size"`
	CacheHostDir  string        `yaml:"cache_host_dir"`
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
	DeleteTimeout time.Duration `yaml:"delete_timeout"`
	ExecTimeout   time.Duration `yaml:"exec_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval"`

	// RecoveryTimeout bounds the wait for the worker of the last recovery pass
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// DatabaseConfig enables per-shard MySQL schemas
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Placeholder string `yaml:"placeholder"`

	// SetupCommand runs locally against every new schema, e.g. migrations
	SetupCommand string `yaml:"setup_command"`
}

// S3Config enables artifact upload after a run
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// RedisConfig enables publishing run summaries
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// Flags holds command-line flags
type Flags struct {
	ConfigFile       string
	TestPath         string
	TestListFile     string
	NameFilter       string
	Distribution     string
	Task             string
	Revision         string
	Shards           int
	MaxParallel      int
	Retries          int
	Image            string
	Command          string
	BuildCommand     string
	Namespace        string
	PrintOutput      bool
	UnknownAsFailure *bool
	OpenReport       bool
	NoPool           bool
	Tag              string
	Group            string
	PoolCount        int
	ShardIndex       int
	Seed             *int64
	Processors       int
	TestCommand      string
	LogLevel         string
	ShowTests        bool
	Summary          bool
	History          int
}

// New creates a new Config with defaults
func New() *Config {
	cfg := &Config{
		ProjectPath:       DefaultProjectPath,
		TestPath:          DefaultTestPath,
		Distribution:      DefaultDistribution,
		OutputJSONFile:    DefaultOutputJSONFile,
		OutputJSONDir:     DefaultOutputJSONDir,
		Task:              DefaultTask,
		Shards:            DefaultShards,
		Retries:           DefaultRetries,
		RetryDelay:        DefaultRetryDelay,
		Command:           DefaultCommand,
		CoresPerWorker:    DefaultCores,
		MemoryGBPerWorker: DefaultMemoryGB,
		UnknownAsFailure:  true,
		Processors:        DefaultProcessors,
		TestCommand:       DefaultTestCommand,
		RemoteRunDir:      DefaultRemoteRunDir,
		ResultDocument:    DefaultResultDocument,
		Pool: PoolConfig{
			Image: DefaultPlaceholderImage,
		},
		Cluster: ClusterConfig{
			Namespace:       DefaultNamespace,
			PullSecret:      DefaultPullSecret,
			VolumeSize:      DefaultVolumeSize,
			ReadyTimeout:    DefaultReadyTimeout,
			DeleteTimeout:   DefaultDeleteTimeout,
			ExecTimeout:     DefaultExecTimeout,
			RecoveryTimeout: DefaultRecoveryTimeout,
			PollInterval:    DefaultPollInterval,
		},
		Database: DatabaseConfig{
			Host:        "127.0.0.1",
			Port:        3306,
			Username:    "root",
			Placeholder: DefaultDatabasePlaceholder,
		},
		Redis: RedisConfig{Key: DefaultRedisKey},
		Log:   logger.Config{Level: "info", Format: "console", Output: "stderr"},
		Flags: Flags{Processors: DefaultProcessors},
	}
	// Copy default lists so callers can mutate them
	cfg.PathsToIgnore = append([]string(nil), DefaultPathsToIgnore...)
	cfg.TestSuffixes = append([]string(nil), DefaultTestSuffixes...)
	return cfg
}

// Load builds the configuration from defaults, the YAML file, the environment and flags,
// in increasing order of precedence.
func Load(flags Flags) (*Config, error) {
	cfg := New()

	envFile := filepath.Join(cfg.ProjectPath, DefaultEnvFile)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	path := flags.ConfigFile
	if path == "" {
		path = DefaultConfigFile
	}
	if err := cfg.mergeFile(path, flags.ConfigFile != ""); err != nil {
		return nil, err
	}

	cfg.applyEnv()
	cfg.applyFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.Cluster.Kubeconfig, "KUBECONFIG")
	setString(&c.Cluster.Namespace, "SHARDRUN_NAMESPACE")
	setString(&c.Revision, "SHARDRUN_REVISION")
	setString(&c.Image, "SHARDRUN_IMAGE")
	setString(&c.WorkerLogLevel, "SHARDRUN_LOG_LEVEL")

	setString(&c.Database.Host, "DB_HOST")
	setString(&c.Database.Username, "DB_USERNAME")
	setString(&c.Database.Password, "DB_PASSWORD")
	if port, err := strconv.Atoi(os.Getenv("DB_PORT")); err == nil && port > 0 {
		c.Database.Port = port
	}

	setString(&c.S3.Bucket, "SHARDRUN_S3_BUCKET")
	setString(&c.S3.Region, "AWS_REGION")
	setString(&c.S3.Endpoint, "SHARDRUN_S3_ENDPOINT")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
}

func (c *Config) applyFlags(flags Flags) {
	c.Flags = flags

	if flags.TestListFile != "" {
		c.TestListFile = flags.TestListFile
	}
	if flags.Distribution != "" {
		c.Distribution = flags.Distribution
	}
	if flags.Task != "" {
		c.Task = flags.Task
	}
	if flags.Revision != "" {
		c.Revision = flags.Revision
	}
	if flags.Shards > 0 {
		c.Shards = flags.Shards
	}
	if flags.MaxParallel > 0 {
		c.MaxParallel = flags.MaxParallel
	}
	if flags.Retries > 0 {
		c.Retries = flags.Retries
	}
	if flags.Image != "" {
		c.Image = flags.Image
	}
	if flags.Command != "" {
		c.Command = flags.Command
	}
	if flags.BuildCommand != "" {
		c.BuildCommand = flags.BuildCommand
	}
	if flags.Namespace != "" {
		c.Cluster.Namespace = flags.Namespace
	}
	if flags.PrintOutput {
		c.PrintOutput = true
	}
	if flags.UnknownAsFailure != nil {
		c.UnknownAsFailure = *flags.UnknownAsFailure
	}
	if flags.Tag != "" {
		c.Pool.Tag = flags.Tag
	}
	if flags.Group != "" {
		c.Pool.Group = flags.Group
	}
	if flags.PoolCount > 0 {
		c.Pool.Count = flags.PoolCount
	}
	if flags.NoPool {
		c.Pool.Enabled = false
	}
	if flags.Processors > 0 {
		c.Processors = flags.Processors
	}
	if flags.TestCommand != "" {
		c.TestCommand = flags.TestCommand
	}
	if flags.LogLevel != "" {
		c.Log.Level = flags.LogLevel
	}
}

// Validate rejects settings no command can work with
func (c *Config) Validate() error {
	if _, err := domain.ParseDistributionMode(c.Distribution); err != nil {
		return err
	}
	if c.Shards < 1 {
		return fmt.Errorf("%w: shards must be at least 1, got %d", domain.ErrInvalidArgument, c.Shards)
	}
	if c.Retries < 1 {
		return fmt.Errorf("%w: retries must be at least 1, got %d", domain.ErrInvalidArgument, c.Retries)
	}
	if c.SidecarImage != "" && (c.CoresPerWorker < 2 || c.MemoryGBPerWorker < 2) {
		return fmt.Errorf("%w: a sidecar needs at least 2 cores and 2 GiB per worker", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(c.Task) == "" {
		return fmt.Errorf("%w: task name is empty", domain.ErrInvalidArgument)
	}
	return nil
}

// DistributionMode returns the parsed distribution mode
func (c *Config) DistributionMode() domain.DistributionMode {
	mode, err := domain.ParseDistributionMode(c.Distribution)
	if err != nil {
		return domain.DistributeByMethod
	}
	return mode
}

// GetTestPath returns the test path, using flag if provided
func (c *Config) GetTestPath() string {
	if c.Flags.TestPath != "" {
		// If TestPath is provided, make it relative to PROJECT_PATH if it's not absolute
		if filepath.IsAbs(c.Flags.TestPath) {
			return c.Flags.TestPath
		}
		return filepath.Join(c.ProjectPath, c.Flags.TestPath)
	}

	// Default: combine project path and test path
	return filepath.Join(c.ProjectPath, c.TestPath)
}

// GetOutputPath returns the full path to the run results JSON file. Resolves to an absolute
// path so run and report always read/write the same file regardless of cwd.
func (c *Config) GetOutputPath() string {
	p := filepath.Join(c.GetOutputDir(), c.OutputJSONFile)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// GetOutputDir returns the directory holding every run output
func (c *Config) GetOutputDir() string {
	return filepath.Join(c.ProjectPath, c.OutputJSONDir)
}

// GetLogDir returns the directory of container logs for the configured task
func (c *Config) GetLogDir() string {
	return filepath.Join(c.GetOutputDir(), DefaultLogDir, c.Task)
}

// GetResultsDir returns the directory downloaded artifacts are stored under
func (c *Config) GetResultsDir() string {
	return filepath.Join(c.GetOutputDir(), DefaultResultsDir)
}

// GetRemoteResultsDir returns the results directory inside a worker
func (c *Config) GetRemoteResultsDir() string {
	return c.RemoteRunDir + "/test-reports"
}

// GetLedgerPath returns the execution ledger location inside a worker
func (c *Config) GetLedgerPath() string {
	return c.RemoteRunDir + "/executed-tests.txt"
}

// GetPoolCount returns the number of placeholder pods to book, defaulting to the shard count
func (c *Config) GetPoolCount() int {
	if c.Pool.Count > 0 {
		return c.Pool.Count
	}
	return c.Shards
}

// GetDatabaseName returns the schema name for a worker. MySQL identifiers are limited to
// 64 characters, so long worker names keep their distinguishing tail.
func (c *Config) GetDatabaseName(workerName string) string {
	name := strings.ReplaceAll(workerName, "-", "_") + "_db"
	if len(name) > 64 {
		name = name[len(name)-64:]
	}
	return strings.TrimLeft(name, "_")
}
