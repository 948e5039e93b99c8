package usage

import (
	"time"

	"github.com/samber/lo"
)

// Aggregate combines multiple events into a summary.
// This is a PURE function.
func Aggregate(events []Event, periodStart, periodEnd time.Time) Summary {
	if len(events) == 0 {
		return Summary{
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}
	}

	summary := Summary{
		Identity:    events[0].Identity,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,

		RequestCount: int64(len(events)),
		AnalysisCount: int64(lo.CountBy(events, func(e Event) bool {
			return e.Operation == OpAnalyze && e.Succeeded()
		})),
		ErrorCount: int64(lo.CountBy(events, func(e Event) bool {
			return e.StatusCode >= 400
		})),
		RateLimited: int64(lo.CountBy(events, func(e Event) bool {
			return e.Code == CodeRateLimited
		})),
		UpstreamTries: lo.SumBy(events, func(e Event) int64 {
			return int64(e.Attempts)
		}),
		SourceTotal: lo.SumBy(events, func(e Event) int64 {
			return int64(e.SourceCount)
		}),
	}

	totalLatency := lo.SumBy(events, func(e Event) int64 { return e.LatencyMs })
	summary.AvgLatencyMs = totalLatency / summary.RequestCount

	return summary
}

// GroupByIdentity splits events into per-identity buckets.
// This is a PURE function.
func GroupByIdentity(events []Event) map[string][]Event {
	return lo.GroupBy(events, func(e Event) string { return e.Identity })
}

// FilterPeriod returns events with periodStart <= Timestamp < periodEnd.
// This is a PURE function.
func FilterPeriod(events []Event, periodStart, periodEnd time.Time) []Event {
	return lo.Filter(events, func(e Event, _ int) bool {
		return !e.Timestamp.Before(periodStart) && e.Timestamp.Before(periodEnd)
	})
}

// MergeSummaries combines multiple summaries for the same identity.
// This is a PURE function.
func MergeSummaries(summaries ...Summary) Summary {
	if len(summaries) == 0 {
		return Summary{}
	}

	result := summaries[0]
	for _, s := range summaries[1:] {
		// Weighted average for latency, computed before the counts move
		if result.RequestCount+s.RequestCount > 0 {
			total := result.AvgLatencyMs*result.RequestCount + s.AvgLatencyMs*s.RequestCount
			result.AvgLatencyMs = total / (result.RequestCount + s.RequestCount)
		}

		result.RequestCount += s.RequestCount
		result.AnalysisCount += s.AnalysisCount
		result.ErrorCount += s.ErrorCount
		result.RateLimited += s.RateLimited
		result.UpstreamTries += s.UpstreamTries
		result.SourceTotal += s.SourceTotal

		if s.PeriodStart.Before(result.PeriodStart) {
			result.PeriodStart = s.PeriodStart
		}
		if s.PeriodEnd.After(result.PeriodEnd) {
			result.PeriodEnd = s.PeriodEnd
		}
	}

	return result
}

// PeriodBounds returns the start and end of the calendar month containing t.
// This is a PURE function.
func PeriodBounds(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	end = start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return
}
