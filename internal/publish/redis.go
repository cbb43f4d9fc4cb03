// Package publish pushes run summaries to a Redis list so dashboards can follow CI runs.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shardrun/internal/config"
	"shardrun/internal/domain"
)

// DefaultHistory is how many summaries are kept in the list
const DefaultHistory = 100

// ListClient is the subset of the Redis client the publisher uses
type ListClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// RedisPublisher records the metadata of finished runs, newest first
type RedisPublisher struct {
	client  ListClient
	key     string
	history int64
	logger  *zap.Logger
	closer  func() error
}

// NewRedisPublisher connects to the configured server and checks it answers
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is not configured")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	p := NewRedisPublisherWithClient(client, cfg.Key, logger)
	p.closer = client.Close
	return p, nil
}

// NewRedisPublisherWithClient wraps an existing client
func NewRedisPublisherWithClient(client ListClient, key string, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == "" {
		key = config.DefaultRedisKey
	}
	return &RedisPublisher{client: client, key: key, history: DefaultHistory, logger: logger}
}

// Publish pushes the run metadata and trims the list to the history size
func (p *RedisPublisher) Publish(ctx context.Context, meta domain.RunResultsMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	if err := p.client.LPush(ctx, p.key, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to publish run summary: %w", err)
	}
	if err := p.client.LTrim(ctx, p.key, 0, p.history-1).Err(); err != nil {
		return fmt.Errorf("failed to trim run history: %w", err)
	}
	p.logger.Info("published run summary", zap.String("key", p.key), zap.String("run_id", meta.RunID))
	return nil
}

// Recent returns up to n published summaries, newest first. Entries that do not decode
// are skipped.
func (p *RedisPublisher) Recent(ctx context.Context, n int) ([]domain.RunResultsMeta, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := p.client.LRange(ctx, p.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read run history: %w", err)
	}
	metas := make([]domain.RunResultsMeta, 0, len(raw))
	for _, item := range raw {
		var meta domain.RunResultsMeta
		if err := json.Unmarshal([]byte(item), &meta); err != nil {
			p.logger.Warn("skipping malformed run summary", zap.Error(err))
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Close releases the connection if the publisher owns it
func (p *RedisPublisher) Close() error {
	if p.closer != nil {
		return p.closer()
	}
	return nil
}
