package client

import "time"

// A RetryPolicy bounds the retries of transient failures.
type RetryPolicy struct {
	// MaxAttempts is the number of tries for a single chunk before the job
	// is abandoned.
	MaxAttempts int
	// Initial is the backoff before the first retry.
	Initial time.Duration
	// Factor multiplies the backoff after each attempt.
	Factor float64
	// Max caps the backoff.
	Max time.Duration
}

// DefaultRetryPolicy returns the policy used when none is provided.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Initial:     500 * time.Millisecond,
		Factor:      2,
		Max:         10 * time.Second,
	}
}

// Wait returns the backoff before the given retry, the first one being 1.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	wait := p.Initial
	for i := 1; i < attempt; i++ {
		wait = time.Duration(float64(wait) * p.Factor)
		if wait >= p.Max {
			return p.Max
		}
	}

	if wait > p.Max {
		return p.Max
	}
	return wait
}
