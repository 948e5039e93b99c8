// Package upstream provides value types and pure functions for calling
// the external analysis provider: the retry policy, status classification,
// and the sentinel errors callers match on with errors.Is.
package upstream

import (
	"errors"
	"time"
)

// Sentinel errors returned by provider adapters after the retry loop
// has run its course.
var (
	// ErrUnavailable indicates the provider kept failing with transient
	// errors until the attempt budget was exhausted.
	ErrUnavailable = errors.New("upstream unavailable after retries")

	// ErrRejected indicates the provider rejected the request outright.
	// Retrying an identical request would not help.
	ErrRejected = errors.New("upstream rejected request")
)

// RetryPolicy controls the retry behavior for upstream calls.
type RetryPolicy struct {
	MaxAttempts    int           // Total attempts including the first
	BaseDelay      time.Duration // Delay after the first failed attempt
	MaxDelay       time.Duration // Cap on any single delay
	AttemptTimeout time.Duration // Deadline applied to each attempt
}

// DefaultRetryPolicy returns the standard policy for the analysis provider:
// 5 attempts, backoff doubling from 2s capped at 30s, 60s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		BaseDelay:      2 * time.Second,
		MaxDelay:       30 * time.Second,
		AttemptTimeout: 60 * time.Second,
	}
}

// Delay returns the backoff delay after a failed attempt. Delays double
// from BaseDelay and never exceed MaxDelay: 2s, 4s, 8s, 16s, 30s, 30s...
// This is a PURE function.
func Delay(p RetryPolicy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ShouldRetry determines whether a response status is worth another attempt.
// Server errors and 429 are transient; every other client error is final.
// This is a PURE function.
func ShouldRetry(statusCode int) bool {
	if statusCode >= 500 {
		return true
	}
	if statusCode == 429 { // Too Many Requests
		return true
	}
	return false
}

// WorstCaseLatency returns an upper bound on the wall-clock time a single
// call can take: every attempt runs to its timeout and every backoff runs
// to its full delay. With the default policy this is 5*60s + (2+4+8+16)s.
// This is a PURE function.
func WorstCaseLatency(p RetryPolicy) time.Duration {
	total := time.Duration(p.MaxAttempts) * p.AttemptTimeout
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		total += Delay(p, attempt)
	}
	return total
}
