package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// StatusError is a non-2xx provider response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Status, e.Body)
}

// Retryable reports whether a status is worth another attempt.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Backoff is InitialBackoff * 2^attempt capped at MaxBackoff.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	b := float64(c.InitialBackoff) * math.Pow(2, float64(attempt))
	if b > float64(c.MaxBackoff) {
		b = float64(c.MaxBackoff)
	}
	return time.Duration(b)
}

// WithRetry runs fn until it succeeds, fails with a non-retryable error, or
// the retries are exhausted. classify maps an error to its HTTP status (0
// when unknown); only retryable statuses are retried.
func WithRetry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, classify func(error) int, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if !Retryable(classify(lastErr)) || attempt == cfg.MaxRetries {
			break
		}

		backoff := cfg.Backoff(attempt)
		logger.Warn("llm.retry", "attempt", attempt+1, "max", cfg.MaxRetries, "backoff", backoff.String(), "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

// HTTPStatus classifies *StatusError values.
func HTTPStatus(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
