package jobs

import (
	"time"

	"event-rsvp/internal/apperr"
)

// BackoffFunc returns the delay before retry number attempt (0-based).
type BackoffFunc func(attempt int) time.Duration

// Exponential doubles base for every attempt: base, 2*base, 4*base...
func Exponential(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return base * time.Duration(1<<attempt)
	}
}

// RetryPolicy bounds how often a failed job is re-run.
type RetryPolicy struct {
	MaxRetries int
	Backoff    BackoffFunc
}

// DefaultRetryPolicy is shared by the image, SMS and reminder jobs:
// three retries at 60s, 120s, 240s.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, Backoff: Exponential(60 * time.Second)}

// NoRetry finishes the job on its first failure.
var NoRetry = RetryPolicy{}

// Next decides what to do after attempt failed with err. It returns
// retry=false for permanent errors and once the budget is spent.
func (p RetryPolicy) Next(attempt int, err error) (retry bool, delay time.Duration) {
	if !apperr.IsRetryable(err) || attempt >= p.MaxRetries {
		return false, 0
	}
	if p.Backoff == nil {
		return true, 0
	}
	return true, p.Backoff(attempt)
}
