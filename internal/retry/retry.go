// Package retry runs an operation a bounded number of times, logging every failed attempt.
package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shardrun/internal/domain"
)

// ExhaustedError is returned once all attempts have failed. It unwraps to the last cause and
// matches domain.ErrRetryExhausted.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed %d times: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{domain.ErrRetryExhausted, e.Last}
}

// Strategy is an immutable retry policy; it holds no per-call state and may be shared.
type Strategy struct {
	maxAttempts int
	delay       time.Duration
	logger      *zap.Logger
	op          string
}

// Option configures a Strategy
type Option func(*Strategy)

// WithDelay sleeps d between attempts
func WithDelay(d time.Duration) Option {
	return func(s *Strategy) { s.delay = d }
}

// WithLogger sets the logger used for failed attempts
func WithLogger(l *zap.Logger) Option {
	return func(s *Strategy) { s.logger = l }
}

// WithName labels the operation in logs and errors
func WithName(op string) Option {
	return func(s *Strategy) { s.op = op }
}

// New creates a fixed-attempt strategy. maxAttempts below 1 is rejected here rather than on use.
func New(maxAttempts int, opts ...Option) (*Strategy, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be at least 1, got %d", domain.ErrInvalidArgument, maxAttempts)
	}
	s := &Strategy{
		maxAttempts: maxAttempts,
		logger:      zap.NewNop(),
		op:          "operation",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MaxAttempts returns the configured bound
func (s *Strategy) MaxAttempts() int {
	return s.maxAttempts
}

// Do runs op until it succeeds or the attempts are used up. attempt starts at 1.
// Context cancellation stops retrying and returns the context error.
func (s *Strategy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	_, err := Call(ctx, s, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, op(ctx, attempt)
	})
	return err
}

// Call runs op under s and returns its value
func Call[T any](ctx context.Context, s *Strategy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := op(ctx, attempt)
		if err == nil {
			return v, nil
		}
		last = err
		remaining := s.maxAttempts - attempt
		s.logger.Error("exception during retryable operation",
			zap.String("op", s.op),
			zap.Int("attempt", attempt),
			zap.Int("remaining", remaining),
			zap.Error(err),
		)
		if remaining > 0 && s.delay > 0 {
			timer := time.NewTimer(s.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return zero, &ExhaustedError{Op: s.op, Attempts: s.maxAttempts, Last: last}
}
