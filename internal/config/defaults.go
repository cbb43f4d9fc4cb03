package config

import "time"

const (
	// DefaultConfigFile is read from the working directory when present
	DefaultConfigFile = "shardrun.yaml"
	// DefaultEnvFile holds cluster, database and storage secrets
	DefaultEnvFile = ".env"
	// DefaultProjectPath is the default project path
	DefaultProjectPath = "."
	// DefaultTestPath is the default test path
	DefaultTestPath = "."
	// DefaultOutputJSONFile is the default output JSON file name
	DefaultOutputJSONFile = "run-results.json"
	// DefaultOutputJSONDir is the default output directory
	DefaultOutputJSONDir = "build/shardrun"
	// DefaultLogDir holds per-shard container logs, relative to the output directory
	DefaultLogDir = "container-logs"
	// DefaultResultsDir holds downloaded worker artifacts, relative to the output directory
	DefaultResultsDir = "test-results-xml"
	// DefaultTask is the logical task name used for run ids and worker names
	DefaultTask = "test"
	// DefaultShards is the default number of shards
	DefaultShards = 4
	// DefaultRetries is the number of attempts per shard
	DefaultRetries = 3
	// DefaultProcessors is the default number of local runner processes inside a worker
	DefaultProcessors = 4
	// DefaultCores is the CPU request of a worker
	DefaultCores = 4
	// DefaultMemoryGB is the memory request of a worker
	DefaultMemoryGB = 8
	// DefaultDistribution splits by test method
	DefaultDistribution = "method"
	// DefaultRemoteRunDir is the scratch volume mount point inside a worker
	DefaultRemoteRunDir = "/test-runs"
	// DefaultResultDocument marks a folder as an artifact unit
	DefaultResultDocument = "results.xml"
	// DefaultCommand is executed in every worker; it recomputes the shard from env
	DefaultCommand = "shardrun shard"
	// DefaultTestCommand runs one test identifier inside a worker
	DefaultTestCommand = "vendor/bin/phpunit --filter {method} {file}"
	// DefaultNamespace is the Kubernetes namespace for workers
	DefaultNamespace = "default"
	// DefaultPullSecret is the image pull secret attached to workers
	DefaultPullSecret = "regcred"
	// DefaultVolumeSize is the scratch volume size
	DefaultVolumeSize = "10Gi"
	// DefaultPlaceholderImage is used by capacity pool pods
	DefaultPlaceholderImage = "registry.k8s.io/pause:3.10"
	// DefaultRedisKey is the list receiving run summaries
	DefaultRedisKey = "shardrun:runs"
	// DefaultDatabasePlaceholder is replaced with the per-shard schema name
	DefaultDatabasePlaceholder = "{database}"

	DefaultReadyTimeout    = 60 * time.Minute
	DefaultRecoveryTimeout = 10 * time.Minute
	DefaultDeleteTimeout   = 5 * time.Minute
	DefaultExecTimeout     = 4 * time.Hour
	DefaultPollInterval    = 2 * time.Second
	DefaultRetryDelay      = 5 * time.Second
)

// DefaultPathsToIgnore are the default directories to ignore when scanning for tests
var DefaultPathsToIgnore = []string{
	"vendor",
	"node_modules",
	"build",
	"target",
	"storage",
	"testdata",
}

// DefaultTestSuffixes select test files during a directory scan
var DefaultTestSuffixes = []string{
	"Test.php",
	"Test.java",
	"Test.kt",
	"_test.go",
}
