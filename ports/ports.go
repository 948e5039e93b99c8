// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/tradegate/domain/analysis"
	"github.com/artpar/tradegate/domain/ratelimit"
	"github.com/artpar/tradegate/domain/token"
	"github.com/artpar/tradegate/domain/usage"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// Sleeper abstracts waiting so backoff delays can be simulated in tests.
type Sleeper interface {
	// Sleep pauses for d or until ctx is cancelled, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// Random abstracts randomness so token material can be fixed in tests.
type Random interface {
	// Bytes generates n random bytes.
	Bytes(n int) ([]byte, error)
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// TokenStore persists access tokens.
type TokenStore interface {
	// Get retrieves tokens matching a prefix (for validation).
	Get(ctx context.Context, prefix string) ([]token.Token, error)

	// Create stores a new token.
	Create(ctx context.Context, t token.Token) error

	// Revoke marks a token as revoked.
	Revoke(ctx context.Context, id string, at time.Time) error

	// UpdateLastUsed updates the last used timestamp.
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error

	// Count returns the number of stored tokens.
	Count(ctx context.Context) (int, error)
}

// RateLimitStore holds per-identity admission windows.
type RateLimitStore interface {
	// GetAndCheck atomically prunes the identity's window, applies the
	// admission check, and stores the updated window. The whole
	// read-prune-compare-append sequence runs in one critical section so
	// concurrent callers for the same identity are linearized.
	GetAndCheck(ctx context.Context, identity string, cfg ratelimit.Config, now time.Time) (ratelimit.Decision, error)

	// Close releases background resources.
	Close() error
}

// UsageStore persists usage events and summaries.
type UsageStore interface {
	// RecordBatch stores multiple usage events.
	RecordBatch(ctx context.Context, events []usage.Event) error

	// GetSummary returns aggregated usage for a period.
	GetSummary(ctx context.Context, identity string, start, end time.Time) (usage.Summary, error)

	// GetRecentRequests returns recent request logs.
	GetRecentRequests(ctx context.Context, identity string, limit int) ([]usage.Event, error)
}

// -----------------------------------------------------------------------------
// Service Ports
// -----------------------------------------------------------------------------

// AnalysisOutcome reports what a provider call produced and what it cost.
// Attempts and LatencyMs are populated even when the call fails.
type AnalysisOutcome struct {
	Result    analysis.Result
	Attempts  int
	LatencyMs int64
}

// Analyst produces a sector analysis from the external generation service.
type Analyst interface {
	// Analyze requests a report for the given sector. The sector is assumed
	// to be validated and trimmed by the caller.
	Analyze(ctx context.Context, sector string) (AnalysisOutcome, error)

	// HealthCheck verifies the upstream is reachable.
	HealthCheck(ctx context.Context) error
}

// UsageRecorder accepts usage events for async processing.
type UsageRecorder interface {
	// Record queues a usage event for processing.
	// This should be non-blocking.
	Record(event usage.Event)

	// Flush forces immediate processing of queued events.
	Flush(ctx context.Context) error

	// Close stops the recorder and flushes remaining events.
	Close() error
}
