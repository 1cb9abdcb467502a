// Package settings loads and validates the runtime concurrency settings
// stored in the settings table.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
)

const (
	KeyTierConcurrency   = "tier_concurrency"
	KeyWorkerIdleMinutes = "worker_idle_minutes"

	DefaultTierConcurrency   = 2
	DefaultWorkerIdleMinutes = 5

	MinTierConcurrency, MaxTierConcurrency     = 1, 4
	MinWorkerIdleMinutes, MaxWorkerIdleMinutes = 1, 30
)

// Concurrency is the pipeline's tunable limits.
type Concurrency struct {
	TierConcurrency   int
	WorkerIdleMinutes int
}

func Defaults() Concurrency {
	return Concurrency{TierConcurrency: DefaultTierConcurrency, WorkerIdleMinutes: DefaultWorkerIdleMinutes}
}

// ValidTier reports whether n is an accepted tier concurrency.
func ValidTier(n int) bool { return n >= MinTierConcurrency && n <= MaxTierConcurrency }

// ValidIdleMinutes reports whether n is an accepted worker idle period.
func ValidIdleMinutes(n int) bool { return n >= MinWorkerIdleMinutes && n <= MaxWorkerIdleMinutes }

type Store interface {
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

// Load reads the stored settings. Missing, unparseable or out-of-range
// values fall back to the defaults and are logged.
func Load(ctx context.Context, store Store, logger *slog.Logger) (Concurrency, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := Defaults()
	all, err := store.All(ctx)
	if err != nil {
		return c, err
	}
	if v, ok := all[KeyTierConcurrency]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ValidTier(n) {
			c.TierConcurrency = n
		} else {
			logger.Warn("settings.invalid", "key", KeyTierConcurrency, "value", v, "using", c.TierConcurrency)
		}
	}
	if v, ok := all[KeyWorkerIdleMinutes]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ValidIdleMinutes(n) {
			c.WorkerIdleMinutes = n
		} else {
			logger.Warn("settings.invalid", "key", KeyWorkerIdleMinutes, "value", v, "using", c.WorkerIdleMinutes)
		}
	}
	return c, nil
}

// Validate checks a single key/value pair before it is stored.
func Validate(key, value string) (int, error) {
	v := common.NewValidator()
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", common.ErrInvalidInput, key)
	}
	switch key {
	case KeyTierConcurrency:
		v.Field(key, n, common.IntRange(MinTierConcurrency, MaxTierConcurrency))
	case KeyWorkerIdleMinutes:
		v.Field(key, n, common.IntRange(MinWorkerIdleMinutes, MaxWorkerIdleMinutes))
	default:
		return 0, fmt.Errorf("%w: unknown setting %q", common.ErrInvalidInput, key)
	}
	if err := v.Error(); err != nil {
		return 0, err
	}
	return n, nil
}

// Save validates and stores one setting.
func Save(ctx context.Context, store Store, key, value string) error {
	n, err := Validate(key, value)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, strconv.Itoa(n))
}

// Keys lists the known setting names.
func Keys() []string {
	return []string{KeyTierConcurrency, KeyWorkerIdleMinutes}
}
