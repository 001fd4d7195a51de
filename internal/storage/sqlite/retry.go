package sqlite

import (
	"math/rand/v2"
	"strings"
	"time"
)

// retryConfig controls exponential backoff on lock contention.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	jitterPct  float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries: 7,
		baseDelay:  50 * time.Millisecond,
		jitterPct:  0.25,
	}
}

// retryOnDBLock retries fn on "database is locked" / "database is busy"
// errors with exponential backoff and jitter.
func retryOnDBLock(fn func() error) error {
	return retryOnDBLockInternal(defaultRetryConfig(), fn, time.Sleep)
}

func retryOnDBLockInternal(cfg retryConfig, fn func() error, sleepFn func(time.Duration)) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !isDBLocked(err) {
		return err
	}

	for attempt := 1; attempt <= cfg.maxRetries; attempt++ {
		delay := cfg.baseDelay * (1 << (attempt - 1))
		jitter := time.Duration(float64(delay) * rand.Float64() * cfg.jitterPct)
		sleepFn(delay + jitter)

		err = fn()
		if err == nil {
			return nil
		}
		if !isDBLocked(err) {
			return err
		}
	}
	return err
}

func isDBLocked(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy")
}
