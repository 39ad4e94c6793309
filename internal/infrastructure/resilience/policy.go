package resilience

import (
	"cmp"
	"time"
)

// Config tunes the retry loop and the per-operation circuit breaker. Zero fields fall back
// to DefaultConfig.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64
	// RetryJitterPercent spreads each wait by +/- that percentage; zero disables jitter.
	RetryJitterPercent uint64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// normalize fills unset or negative fields from DefaultConfig and repairs values the
// retry loop or breaker cannot honor.
func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	out.RetryMaxAttempts = cmp.Or(max(c.RetryMaxAttempts, 0), def.RetryMaxAttempts)
	out.RetryInitialBackoff = cmp.Or(max(c.RetryInitialBackoff, 0), def.RetryInitialBackoff)
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = max(def.RetryMaxBackoff, out.RetryInitialBackoff)
	}
	if out.RetryMultiplier < 1 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	out.RetryJitterPercent = min(c.RetryJitterPercent, 100)

	out.BreakerMinRequests = cmp.Or(c.BreakerMinRequests, def.BreakerMinRequests)
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	out.BreakerOpenTimeout = cmp.Or(max(c.BreakerOpenTimeout, 0), def.BreakerOpenTimeout)
	out.BreakerHalfOpenMaxCalls = cmp.Or(c.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return out
}
