// ABOUTME: Exponential backoff used by the console client while the experiment server is not yet listening.
package clientserver

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig controls delay timing between dial attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultBackoff is used when a ClientConfig leaves Backoff zero.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2.0,
		MaxDelay:     2 * time.Second,
		Jitter:       true,
	}
}

// DelayForAttempt returns InitialDelay * Factor^attempt capped at MaxDelay.
// With Jitter the delay is drawn uniformly from [0, delay].
func (b BackoffConfig) DelayForAttempt(attempt int) time.Duration {
	base := float64(b.InitialDelay.Nanoseconds()) * math.Pow(b.Factor, float64(attempt))
	d := math.Min(base, float64(b.MaxDelay.Nanoseconds()))
	if b.Jitter {
		d = rand.Float64() * d
	}
	return time.Duration(int64(d))
}
