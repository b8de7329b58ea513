package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	crmRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_api_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	crmRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_api_retry_backoff_seconds",
		Help:    "Backoff duration before retries by error class",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"error_class"})

	crmRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_api_retry_exhausted_total",
		Help: "Total number of requests that used every retry attempt by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxRetries is the number of attempts made after the first one.
	MaxRetries int

	// BaseDelay is the delay before the first retry. It doubles for every
	// following retry.
	BaseDelay time.Duration

	// RetryableStatusCodes lists the HTTP statuses treated as transient.
	RetryableStatusCodes []int
}

// DefaultRetryableStatusCodes are the statuses retried by default: request
// timeout, too many requests and the transient 5xx family.
var DefaultRetryableStatusCodes = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:           3,
		BaseDelay:            1 * time.Second,
		RetryableStatusCodes: slices.Clone(DefaultRetryableStatusCodes),
	}
}

// HealthRetryConfig returns the configuration used by the health probe: a
// single short retry on network failure and no retryable statuses.
func HealthRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 1,
		BaseDelay:  500 * time.Millisecond,
	}
}

// IsRetryableStatus reports whether status is in the retryable set.
func (c RetryConfig) IsRetryableStatus(status int) bool {
	return slices.Contains(c.RetryableStatusCodes, status)
}

// MaxRetriesLimit is the largest MaxRetries New accepts.
const MaxRetriesLimit = 10

// maxBackoff is where Backoff saturates instead of overflowing.
const maxBackoff = time.Duration(math.MaxInt64)

// Backoff returns the delay inserted before the given retry (1-based):
// base, 2*base, 4*base and so on. Retry 0 is the initial attempt and has no
// delay. The result saturates at the largest Duration.
func Backoff(base time.Duration, retry int) time.Duration {
	if retry < 1 || base <= 0 {
		return 0
	}
	shift := retry - 1
	if shift >= 63 || base > maxBackoff>>shift {
		return maxBackoff
	}
	return base << shift
}

type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryWithBackoff runs fn until it succeeds, returns an error that retryable
// rejects, or the retry budget in cfg is spent. The delay before retry n is
// Backoff(cfg.BaseDelay, n). After exhaustion the last classified error is
// returned; a loop that never captured one yields ErrRetryExhausted.
func retryWithBackoff(
	ctx context.Context,
	cfg RetryConfig,
	sleep sleepFunc,
	logger zerolog.Logger,
	fn func(attempt int) error,
	retryable func(error) bool,
) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			class := string(ClassOf(lastErr))
			delay := Backoff(cfg.BaseDelay, attempt)

			crmRetriesTotal.WithLabelValues(class).Inc()
			crmRetryBackoffSeconds.WithLabelValues(class).Observe(delay.Seconds())

			logger.Warn().
				Str("error_class", class).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("Retrying request after backoff")

			if err := sleep(ctx, delay); err != nil {
				logger.Warn().
					Int("attempt", attempt).
					Msg("Context cancelled during retry backoff")
				return &APIError{
					ErrorClass: ErrorClassCanceled,
					Message:    "request cancelled during retry backoff",
					Err:        fmt.Errorf("%w: %v", ErrContextCancelled, err),
				}
			}
		}

		err := fn(attempt)
		if err == nil {
			if attempt > 0 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			lastErr = err
		}

		if !retryable(err) {
			return err
		}
	}

	if lastErr != nil {
		class := string(ClassOf(lastErr))
		crmRetryExhaustedTotal.WithLabelValues(class).Inc()
		logger.Warn().
			Str("error_class", class).
			Int("max_retries", cfg.MaxRetries).
			Msg("Retry attempts exhausted")
		return lastErr
	}

	crmRetryExhaustedTotal.WithLabelValues(string(ErrorClassExhausted)).Inc()
	return &APIError{
		ErrorClass: ErrorClassExhausted,
		Message:    "request failed after all retry attempts",
		Err:        ErrRetryExhausted,
	}
}
