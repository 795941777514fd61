package entities

import (
	"fmt"
	"math"
	"time"
)

// RetryPolicy is an immutable backoff description. Build it with NewRetryPolicy.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	multiplier  float64
}

// DefaultRetryPolicy - three attempts, one second base delay, doubling
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{maxAttempts: 3, baseDelay: time.Second, multiplier: 2}
}

// SingleAttempt - no retries, the operation runs once
func SingleAttempt() RetryPolicy {
	return RetryPolicy{maxAttempts: 1, multiplier: 1}
}

// NewRetryPolicy validates and builds a policy.
// A multiplier below 1 would make delays shrink, so it is rejected.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration, multiplier float64) (RetryPolicy, error) {
	if maxAttempts < 1 {
		return RetryPolicy{}, fmt.Errorf("max attempts must be at least 1, got %d", maxAttempts)
	}
	if baseDelay < 0 {
		return RetryPolicy{}, fmt.Errorf("base delay must not be negative, got %s", baseDelay)
	}
	if multiplier < 1 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return RetryPolicy{}, fmt.Errorf("backoff multiplier must be a finite number >= 1, got %v", multiplier)
	}
	return RetryPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay, multiplier: multiplier}, nil
}

func (p RetryPolicy) MaxAttempts() int {
	if p.maxAttempts < 1 {
		return 1
	}
	return p.maxAttempts
}

func (p RetryPolicy) BaseDelay() time.Duration { return p.baseDelay }

func (p RetryPolicy) Multiplier() float64 {
	if p.multiplier < 1 {
		return 1
	}
	return p.multiplier
}

// Delay returns the sleep that follows the failed attempt with the given zero-based index:
// base * multiplier^attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.baseDelay) * math.Pow(p.Multiplier(), float64(attempt))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// TotalDelay is the sum of every sleep taken when all attempts fail
func (p RetryPolicy) TotalDelay() time.Duration {
	var total time.Duration
	for i := 0; i < p.MaxAttempts()-1; i++ {
		total += p.Delay(i)
	}
	return total
}

func (p RetryPolicy) String() string {
	return fmt.Sprintf("attempts=%d base=%s x%g", p.MaxAttempts(), p.baseDelay, p.Multiplier())
}
