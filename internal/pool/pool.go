// Package pool books cluster capacity ahead of a run with placeholder pods, so node
// autoscaling overlaps with the image build. Pools are found again by label only, which
// lets preallocate and deallocate run in different processes.
package pool

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"shardrun/internal/cluster"
	"shardrun/internal/config"
	"shardrun/internal/domain"
)

// Backend is the subset of the cluster client the pool needs
type Backend interface {
	CreateWorker(ctx context.Context, spec domain.WorkerSpec) error
	DeleteWorkers(ctx context.Context, selector map[string]string) ([]string, error)
}

// Request describes a capacity reservation
type Request struct {
	Count    int
	Cores    int
	MemoryGB int
	Prefix   string
	Taints   []string
}

// Pool creates and releases placeholder pods
type Pool struct {
	backend Backend
	image   string
	logger  *zap.Logger
}

// NewPool creates a Pool using the placeholder image from the configuration
func NewPool(cfg *config.Config, backend Backend, logger *zap.Logger) *Pool {
	image := cfg.Pool.Image
	if image == "" {
		image = config.DefaultPlaceholderImage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{backend: backend, image: image, logger: logger}
}

// RequestFromConfig builds the reservation for the configured tag and group
func RequestFromConfig(cfg *config.Config, prefix string) Request {
	return Request{
		Count:    cfg.GetPoolCount(),
		Cores:    cfg.CoresPerWorker,
		MemoryGB: cfg.MemoryGBPerWorker,
		Prefix:   prefix,
		Taints:   cfg.Taints,
	}
}

// PodName returns the name of the i-th placeholder of a pool
func PodName(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}

// PreAllocate creates Count placeholder pods named <prefix>-<i>. Pods left from an
// earlier reservation with the same prefix are kept. Failures are returned as is.
func (p *Pool) PreAllocate(ctx context.Context, req Request) ([]string, error) {
	if req.Prefix == "" {
		return nil, fmt.Errorf("%w: pool prefix is empty", domain.ErrInvalidArgument)
	}
	if req.Count < 0 {
		return nil, fmt.Errorf("%w: pool size %d", domain.ErrInvalidArgument, req.Count)
	}

	p.logger.Info("preallocating capacity", zap.String("prefix", req.Prefix), zap.Int("count", req.Count))

	names := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		name := PodName(req.Prefix, i)
		err := p.backend.CreateWorker(ctx, domain.WorkerSpec{
			Name:        name,
			Image:       p.image,
			Cores:       req.Cores,
			MemoryGB:    req.MemoryGB,
			Taints:      req.Taints,
			Labels:      map[string]string{cluster.LabelPool: req.Prefix},
			Placeholder: true,
		})
		if err != nil && !cluster.IsAlreadyExists(err) {
			return names, fmt.Errorf("failed to preallocate %s: %w", name, err)
		}
		names = append(names, name)
	}
	return names, nil
}

// Release deletes every pod of the pool. Releasing an empty or unknown pool succeeds.
func (p *Pool) Release(ctx context.Context, prefix string) ([]string, error) {
	if prefix == "" {
		return nil, fmt.Errorf("%w: pool prefix is empty", domain.ErrInvalidArgument)
	}
	deleted, err := p.backend.DeleteWorkers(ctx, map[string]string{cluster.LabelPool: prefix})
	if err != nil {
		return deleted, fmt.Errorf("failed to release pool %s: %w", prefix, err)
	}
	p.logger.Info("released capacity", zap.String("prefix", prefix), zap.Int("pods", len(deleted)))
	return deleted, nil
}
