package circuitbreaker

import (
	"math"
	"time"
)

// RetryConfig describes an exponential backoff schedule
type RetryConfig struct {
	// MaxAttempts is the number of retries allowed after the first failure (default: 5)
	MaxAttempts int
	// InitialInterval is the delay before the first retry (default: 1s)
	InitialInterval time.Duration
	// MaxInterval caps a single delay; zero means no cap
	MaxInterval time.Duration
	// Multiplier is the growth factor between retries (default: 2.0)
	Multiplier float64
}

// DefaultRetryConfig returns the reconnect schedule: 1s, 2s, 4s, 8s, 16s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		Multiplier:      2.0,
	}
}

// WithMaxAttempts sets the maximum number of retry attempts
func (rc *RetryConfig) WithMaxAttempts(maxAttempts int) *RetryConfig {
	rc.MaxAttempts = maxAttempts
	return rc
}

// WithInitialInterval sets the initial delay between retries
func (rc *RetryConfig) WithInitialInterval(interval time.Duration) *RetryConfig {
	rc.InitialInterval = interval
	return rc
}

// WithMaxInterval sets the maximum delay between retries
func (rc *RetryConfig) WithMaxInterval(interval time.Duration) *RetryConfig {
	rc.MaxInterval = interval
	return rc
}

// WithMultiplier sets the multiplier for exponential backoff
func (rc *RetryConfig) WithMultiplier(multiplier float64) *RetryConfig {
	rc.Multiplier = multiplier
	return rc
}

// Delay returns InitialInterval * Multiplier^attempt, where attempt counts
// retries already scheduled (0 for the first one).
func (rc *RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := rc.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := time.Duration(float64(rc.InitialInterval) * math.Pow(mult, float64(attempt)))
	if rc.MaxInterval > 0 && d > rc.MaxInterval {
		d = rc.MaxInterval
	}
	return d
}

// CanRetry reports whether another retry may be scheduled after attempts retries.
func (rc *RetryConfig) CanRetry(attempts int) bool {
	return attempts < rc.MaxAttempts
}
