// Package analysis provides the gateway's request/result value types and the
// sector validation rule shared by every binding.
package analysis

import (
	"fmt"
	"regexp"
)

// Request represents an incoming analysis request (value type).
// This is extracted from HTTP and passed to the gateway service.
type Request struct {
	// Authentication
	Token string

	// The requested sector, exactly as the caller sent it
	Sector string

	// Metadata
	RemoteIP  string
	UserAgent string
	TraceID   string
}

// Source is one grounding attribution the provider associated with the
// generated report.
type Source struct {
	URI   string
	Title string
}

// Result is a completed sector analysis (value type).
// Sources preserve the provider's attribution order, duplicates included.
type Result struct {
	Sector  string
	Report  string
	Sources []Source
}

// Sector length bounds, counted in characters.
const (
	MinSectorLen = 2
	MaxSectorLen = 50
)

// One canonical sector rule for every binding: letters, digits, spaces,
// ampersand, hyphen.
var sectorPattern = regexp.MustCompile(`^[A-Za-z0-9 &-]+$`)

// ValidSector reports whether a sector string satisfies the input contract.
// This is a PURE function.
func ValidSector(sector string) bool {
	if len(sector) < MinSectorLen || len(sector) > MaxSectorLen {
		return false
	}
	return sectorPattern.MatchString(sector)
}

// PlaceholderReport is the degraded report used when a provider response
// carries no generated text.
func PlaceholderReport(sector string) string {
	return fmt.Sprintf("No data generated for %s.", sector)
}
