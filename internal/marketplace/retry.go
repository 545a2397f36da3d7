package marketplace

import (
	"math/rand"
	"time"
)

// RetryPolicy controls how transient failures are retried. The zero value
// disables retries; use DefaultRetryPolicy for sensible defaults.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay randomized, 0..1
}

// DefaultRetryPolicy mirrors the backoff used for detail-page fetching:
// 1s, 2s, 4s... capped at 10s, with a little jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}
}

// Delay returns the backoff before the given retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration(rand.Float64()*spread - spread/2)
	}
	if d < 0 {
		d = 0
	}
	return d
}
