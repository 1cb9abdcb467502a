package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestBackoffCapped(t *testing.T) {
	cfg := DefaultRetryConfig()
	assert.Equal(t, time.Second, cfg.Backoff(0))
	assert.Equal(t, 4*time.Second, cfg.Backoff(2))
	assert.Equal(t, 30*time.Second, cfg.Backoff(10))
}

func TestWithRetryRetriesTransient(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), nil, HTTPStatus, func() error {
		calls++
		if calls < 3 {
			return &StatusError{Status: 503}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), nil, HTTPStatus, func() error {
		calls++
		return &StatusError{Status: 401}
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 401, HTTPStatus(err))
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), nil, HTTPStatus, func() error {
		calls++
		return &StatusError{Status: 429}
	})
	assert.Equal(t, 4, calls)
	assert.Equal(t, 429, HTTPStatus(err))
}

func TestWithRetryUnknownErrorNotRetried(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), fastRetry(), nil, HTTPStatus, func() error {
		calls++
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls)
}
