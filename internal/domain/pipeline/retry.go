package pipeline

import "time"

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 2 * time.Second
)

// RetryPolicy is a bounded attempt counter with a fixed delay between
// attempts.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay}
}

func (p RetryPolicy) Max() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// ShouldRetry is called after attempt number attempt failed.
func (p RetryPolicy) ShouldRetry(stepName string, attempt int) bool {
	return ShouldRetry(stepName, attempt, p.Max())
}

// ShouldRetry is false exactly when attempt >= maxAttempts.
func ShouldRetry(_ string, attempt, maxAttempts int) bool {
	return attempt < maxAttempts
}
