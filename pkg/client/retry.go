package client

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/compras-etl/pkg/pagination"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compras_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "compras_retry_backoff_seconds",
		Help:    "Backoff duration before retries",
		Buckets: []float64{1, 5, 10, 15, 30, 60},
	})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compras_retry_exhausted_total",
		Help: "Total number of page requests that exhausted their retries by endpoint",
	}, []string{"endpoint"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// BackoffUnit scales the linear backoff: the wait after failed attempt n
	// is n * BackoffUnit.
	BackoffUnit time.Duration

	// Sleep waits between attempts (default: pagination.SleepContext).
	Sleep pagination.SleepFunc
}

// DefaultRetryConfig returns the default retry configuration: 3 attempts,
// waiting 5s then 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffUnit: 5 * time.Second,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (c RetryConfig) Backoff(attempt int) time.Duration {
	return time.Duration(attempt) * c.BackoffUnit
}

// retryState tracks one page request across attempts.
type retryState struct {
	attempt     int
	maxAttempts int
	lastErr     error
}

// Retrier wraps a PageFetcher with bounded retries. Every error is treated as
// transient and retried identically up to MaxAttempts.
type Retrier struct {
	next   pagination.PageFetcher
	config RetryConfig
	logger zerolog.Logger
}

var _ pagination.PageFetcher = (*Retrier)(nil)

// NewRetrier creates a retrying PageFetcher.
func NewRetrier(next pagination.PageFetcher, config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.Sleep == nil {
		config.Sleep = pagination.SleepContext
	}
	return &Retrier{
		next:   next,
		config: config,
		logger: log.With().Str("component", "retry").Logger(),
	}
}

// FetchPage fetches req, retrying the same page number on failure.
// It returns either the page or an error wrapping ErrRetryExhausted
// (or ErrContextCancelled).
func (r *Retrier) FetchPage(ctx context.Context, req pagination.Request) (*pagination.Page, error) {
	var page *pagination.Page
	err := r.retryWithBackoff(ctx, req, func() error {
		var fetchErr error
		page, fetchErr = r.next.FetchPage(ctx, req)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// retryWithBackoff executes fn with linear backoff retry logic.
func (r *Retrier) retryWithBackoff(ctx context.Context, req pagination.Request, fn func() error) error {
	state := retryState{maxAttempts: r.config.MaxAttempts}
	logger := r.logger.With().
		Str("endpoint", req.Endpoint.Name).
		Int("page", req.Page).
		Logger()

	for state.attempt = 1; state.attempt <= state.maxAttempts; state.attempt++ {
		err := fn()
		if err == nil {
			if state.attempt > 1 {
				logger.Info().
					Int("attempt", state.attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		state.lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}

		// No wait after the last attempt.
		if state.attempt >= state.maxAttempts {
			break
		}

		class := classOf(err)
		backoff := r.config.Backoff(state.attempt)
		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.Observe(backoff.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", state.attempt).
			Dur("backoff", backoff).
			Msg("Request failed - retrying after backoff")

		if err := r.config.Sleep(ctx, backoff); err != nil {
			logger.Warn().
				Int("attempt", state.attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(req.Endpoint.Name).Inc()
	logger.Error().
		Err(state.lastErr).
		Int("max_attempts", state.maxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, state.maxAttempts, state.lastErr)
}
