// Package ratelimit provides the pure sliding-window admission algorithm.
// All functions are deterministic - same input always produces same output.
package ratelimit

import "time"

// Window holds the admission timestamps for one identity within the trailing
// window (value type). Stamps are kept in admission order, oldest first.
type Window struct {
	Stamps []time.Time
}

// Decision represents the outcome of an admission check (value type).
type Decision struct {
	Allowed   bool
	Remaining int           // Admissions left in the trailing window
	ResetAt   time.Time     // When the oldest admission leaves the window
	Reason    string        // If not allowed, why
	Limit     int           // Configured maximum, echoed for callers
	Window    time.Duration // Configured window, echoed for callers
}

// Config holds rate limit configuration (value type).
type Config struct {
	MaxRequests int           // Admissions per trailing window
	Window      time.Duration // Window duration
}

// Reasons for denial
const (
	ReasonLimitExceeded = "rate_limit_exceeded"
)

// Check performs a sliding-window admission check.
// Entries with timestamp <= now-cfg.Window are discarded, the surviving count
// is compared against cfg.MaxRequests, and now is appended only on admission.
// A rejected attempt does not occupy a slot. The decision always looks back
// exactly cfg.Window from now, so bursts cannot exploit bucket boundaries.
// This is a PURE function - no side effects, deterministic.
//
// Returns:
//   - decision: whether the request is admitted and metadata
//   - newWindow: updated window (caller must persist if needed)
func Check(w Window, cfg Config, now time.Time) (Decision, Window) {
	w = Prune(w, now.Add(-cfg.Window))

	// A non-positive maximum rejects everything
	if cfg.MaxRequests <= 0 {
		return Decision{
			Allowed: false,
			ResetAt: now.Add(cfg.Window),
			Reason:  ReasonLimitExceeded,
			Limit:   cfg.MaxRequests,
			Window:  cfg.Window,
		}, w
	}

	if len(w.Stamps) < cfg.MaxRequests {
		// Copy on append so previously returned windows stay untouched
		stamps := make([]time.Time, len(w.Stamps), len(w.Stamps)+1)
		copy(stamps, w.Stamps)
		w.Stamps = append(stamps, now)

		return Decision{
			Allowed:   true,
			Remaining: cfg.MaxRequests - len(w.Stamps),
			ResetAt:   w.Stamps[0].Add(cfg.Window),
			Limit:     cfg.MaxRequests,
			Window:    cfg.Window,
		}, w
	}

	return Decision{
		Allowed:   false,
		Remaining: 0,
		ResetAt:   w.Stamps[0].Add(cfg.Window),
		Reason:    ReasonLimitExceeded,
		Limit:     cfg.MaxRequests,
		Window:    cfg.Window,
	}, w
}

// Prune discards entries with timestamp <= cutoff.
// Stamps are in admission order, so the survivors are a suffix.
// This is a PURE function.
func Prune(w Window, cutoff time.Time) Window {
	idx := 0
	for idx < len(w.Stamps) && !w.Stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return w
	}
	return Window{Stamps: w.Stamps[idx:]}
}

// CalculateDelay returns how long to wait before retrying.
// This is a PURE function.
func CalculateDelay(d Decision, now time.Time) time.Duration {
	if d.Allowed {
		return 0
	}
	delay := d.ResetAt.Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}

// Expired reports whether the whole window has aged out at the given time.
// Used by stores to garbage-collect idle identities.
// This is a PURE function.
func Expired(w Window, cfg Config, now time.Time) bool {
	if len(w.Stamps) == 0 {
		return true
	}
	newest := w.Stamps[len(w.Stamps)-1]
	return !newest.After(now.Add(-cfg.Window))
}
