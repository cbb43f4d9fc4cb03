// Package cluster talks to Kubernetes on behalf of the orchestrator and the capacity pool.
// Every delete tolerates resources that are already gone, and every wait is bounded.
package cluster

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"shardrun/internal/config"
	"shardrun/internal/domain"
)

const (
	// LabelApp marks every pod created by shardrun
	LabelApp = "app.kubernetes.io/managed-by"
	// LabelRunID groups the workers of one stable run id
	LabelRunID = "shardrun.io/run-id"
	// LabelPool groups the placeholder pods of one capacity pool
	LabelPool = "shardrun.io/pool"
	// LabelInvocation identifies the process that created a pod
	LabelInvocation = "shardrun.io/invocation"
	// LabelShard holds the shard index of a worker
	LabelShard = "shardrun.io/shard"

	managedBy = "shardrun"

	// WorkerContainer is the container tests are executed in
	WorkerContainer = "worker"
)

// Options tunes a Client
type Options struct {
	Namespace     string
	PullSecret    string
	StorageClass  string
	VolumeSize    string
	RunDir        string
	ReadyTimeout  time.Duration
	DeleteTimeout time.Duration
	PollInterval  time.Duration
}

// Client implements the cluster operations used by the orchestrator
type Client struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	opts       Options
	logger     *zap.Logger
}

// New wraps an existing clientset. restConfig may be nil when exec is not needed.
func New(clientset kubernetes.Interface, restConfig *rest.Config, opts Options, logger *zap.Logger) *Client {
	if opts.Namespace == "" {
		opts.Namespace = config.DefaultNamespace
	}
	if opts.VolumeSize == "" {
		opts.VolumeSize = config.DefaultVolumeSize
	}
	if opts.RunDir == "" {
		opts.RunDir = config.DefaultRemoteRunDir
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = config.DefaultReadyTimeout
	}
	if opts.DeleteTimeout <= 0 {
		opts.DeleteTimeout = config.DefaultDeleteTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{clientset: clientset, restConfig: restConfig, opts: opts, logger: logger}
}

// NewClient connects using the kubeconfig from the configuration, falling back to the
// in-cluster service account.
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if cfg.Cluster.Kubeconfig != "" {
		rules.ExplicitPath = cfg.Cluster.Kubeconfig
	}
	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, &clientcmd.ConfigOverrides{}).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return New(clientset, restConfig, Options{
		Namespace:     cfg.Cluster.Namespace,
		PullSecret:    cfg.Cluster.PullSecret,
		StorageClass:  cfg.Cluster.StorageClass,
		VolumeSize:    cfg.Cluster.VolumeSize,
		RunDir:        cfg.RemoteRunDir,
		ReadyTimeout:  cfg.Cluster.ReadyTimeout,
		DeleteTimeout: cfg.Cluster.DeleteTimeout,
		PollInterval:  cfg.Cluster.PollInterval,
	}, logger), nil
}

// Namespace returns the namespace all resources are created in
func (c *Client) Namespace() string {
	return c.opts.Namespace
}

// awaitAbsence polls get until it reports NotFound
func (c *Client) awaitAbsence(ctx context.Context, kind, name string, get func(ctx context.Context) error) error {
	err := wait.PollUntilContextTimeout(ctx, c.opts.PollInterval, c.opts.DeleteTimeout, true, func(ctx context.Context) (bool, error) {
		err := get(ctx)
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			c.logger.Debug("polling deleted resource", zap.String("kind", kind), zap.String("name", name), zap.Error(err))
		}
		return false, nil
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if wait.Interrupted(err) {
		return fmt.Errorf("%w: %s %s still present after %s", domain.ErrDeleteTimeout, kind, name, c.opts.DeleteTimeout)
	}
	return err
}

func ignoreNotFound(err error) error {
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// IsNotFound reports whether err means the resource does not exist
func IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

// IsAlreadyExists reports whether err means the resource was created before
func IsAlreadyExists(err error) bool {
	return apierrors.IsAlreadyExists(err)
}
