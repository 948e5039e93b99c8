// Package usage provides usage event types and aggregation functions.
// All functions are pure - no side effects.
package usage

import "time"

// Operation identifies which gateway operation produced an event.
type Operation string

const (
	OpIssueToken Operation = "issue_token" // Token issued via /auth
	OpAnalyze    Operation = "analyze"     // Sector analysis via /analyze
)

// CodeRateLimited is the journal code recorded for rate limited requests.
const CodeRateLimited = "rate_limit_exceeded"

// Event represents a single gateway request (immutable value type).
// Events are recorded for every request, rejected ones included, so the
// journal doubles as an audit trail.
type Event struct {
	ID          string
	TokenID     string    // Store ID of the presented token ("" when none resolved)
	Identity    string    // Caller identity resolved from the token
	Operation   Operation // Gateway operation that handled the request
	Sector      string    // Requested sector, as the caller sent it
	Code        string    // Machine-checkable error code, "" on success
	StatusCode  int       // HTTP status returned to the caller
	LatencyMs   int64
	Attempts    int // Upstream attempts consumed (0 when the provider was never called)
	SourceCount int // Attribution sources in the returned report
	IPAddress   string
	UserAgent   string
	Timestamp   time.Time
}

// Succeeded reports whether the request completed without an error code.
func (e Event) Succeeded() bool {
	return e.Code == "" && e.StatusCode < 400
}

// Summary represents aggregated usage for one identity over a period
// (value type).
type Summary struct {
	Identity      string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	RequestCount  int64
	AnalysisCount int64 // Analyze requests that reached the provider and succeeded
	ErrorCount    int64 // Requests answered with 4xx or 5xx
	RateLimited   int64 // Requests rejected by the rate limiter
	UpstreamTries int64 // Total provider attempts, retries included
	SourceTotal   int64 // Attribution sources returned across all analyses
	AvgLatencyMs  int64
}
