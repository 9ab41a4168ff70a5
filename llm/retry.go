package llm

import (
	"math/rand"
	"time"
)

// RetryConfig governs per-endpoint retries of completion requests.
// Exhausting the attempts marks the endpoint unhealthy and the client
// fails over to the next model in the capability chain.
type RetryConfig struct {
	// MaxAttempts bounds attempts against one endpoint, first try
	// included.
	MaxAttempts int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier grows the delay after each failed attempt.
	BackoffMultiplier float64

	// MaxBackoff caps the grown delay.
	MaxBackoff time.Duration
}

// DefaultRetryConfig is tuned for chat interactivity: fail over to the
// next model within a minute rather than hammering a dead endpoint.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Backoff returns the jittered delay to wait after the given attempt
// (1-based). Jitter of up to a quarter either way keeps concurrent
// sessions from retrying in lockstep.
func (rc RetryConfig) Backoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= rc.BackoffMultiplier
	}
	backoff := time.Duration(float64(rc.BackoffBase) * multiplier)
	if backoff > rc.MaxBackoff {
		backoff = rc.MaxBackoff
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
