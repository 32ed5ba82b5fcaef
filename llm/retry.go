package llm

import "time"

// RetryConfig defines retry behaviour at the gateway boundary
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int

	// InitialBackoff is the wait before the first retry
	InitialBackoff time.Duration

	// MaxBackoff caps every wait
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the backoff on each retry
	BackoffMultiplier float64
}

// Default retry constants
const (
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 2 * time.Second
	DefaultMaxBackoff        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// NewDefaultRetryConfig returns a RetryConfig with the default values
func NewDefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// CalculateBackoff computes the wait before retry number attempt (0-based),
// growing exponentially and capped at MaxBackoff.
func (c RetryConfig) CalculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.InitialBackoff) * multiplier)
	if c.MaxBackoff > 0 && backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}
