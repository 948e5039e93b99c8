package sqlite_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/tradegate/adapters/sqlite"
	"github.com/artpar/tradegate/domain/usage"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tradegate.db")
	db, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	// Running migrations again must be a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migration: %v", err)
	}
}

func TestUsageStore_RecordBatch(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	events := []usage.Event{
		{
			ID:          "evt-1",
			TokenID:     "tok_abc",
			Identity:    "user-1",
			Operation:   usage.OpAnalyze,
			Sector:      "IT",
			StatusCode:  200,
			LatencyMs:   1200,
			Attempts:    1,
			SourceCount: 2,
			IPAddress:   "203.0.113.9",
			UserAgent:   "curl/8.0",
			Timestamp:   base,
		},
		{
			ID:         "evt-2",
			TokenID:    "tok_abc",
			Identity:   "user-1",
			Operation:  usage.OpAnalyze,
			Sector:     "Textiles",
			Code:       usage.CodeRateLimited,
			StatusCode: 429,
			LatencyMs:  3,
			Timestamp:  base.Add(time.Second),
		},
	}

	if err := store.RecordBatch(ctx, events); err != nil {
		t.Fatalf("record batch: %v", err)
	}

	recent, err := store.GetRecentRequests(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}

	// Newest first, all columns round-tripped.
	got := recent[0]
	if got.ID != "evt-2" {
		t.Errorf("ID = %s, want evt-2", got.ID)
	}
	if got.Code != usage.CodeRateLimited {
		t.Errorf("Code = %s, want %s", got.Code, usage.CodeRateLimited)
	}
	got = recent[1]
	if got.Operation != usage.OpAnalyze {
		t.Errorf("Operation = %s, want analyze", got.Operation)
	}
	if got.Sector != "IT" {
		t.Errorf("Sector = %s, want IT", got.Sector)
	}
	if got.Attempts != 1 || got.SourceCount != 2 {
		t.Errorf("Attempts = %d, SourceCount = %d, want 1 and 2", got.Attempts, got.SourceCount)
	}
	if got.IPAddress != "203.0.113.9" {
		t.Errorf("IPAddress = %s", got.IPAddress)
	}
	if got.UserAgent != "curl/8.0" {
		t.Errorf("UserAgent = %s", got.UserAgent)
	}
	if !got.Timestamp.UTC().Equal(base) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, base)
	}
}

func TestUsageStore_RecordBatch_Empty(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewUsageStore(db)

	if err := store.RecordBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestUsageStore_GetSummary(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	events := []usage.Event{
		{ID: "e1", Identity: "user-1", Operation: usage.OpAnalyze, StatusCode: 200, LatencyMs: 100, Attempts: 1, SourceCount: 3, Timestamp: base},
		{ID: "e2", Identity: "user-1", Operation: usage.OpAnalyze, StatusCode: 200, LatencyMs: 200, Attempts: 2, SourceCount: 1, Timestamp: base.Add(time.Minute)},
		{ID: "e3", Identity: "user-1", Operation: usage.OpAnalyze, Code: usage.CodeRateLimited, StatusCode: 429, LatencyMs: 5, Timestamp: base.Add(2 * time.Minute)},
		{ID: "e4", Identity: "user-1", Operation: usage.OpAnalyze, Code: "upstream_unavailable", StatusCode: 503, LatencyMs: 55, Attempts: 5, Timestamp: base.Add(3 * time.Minute)},
		{ID: "e5", Identity: "user-2", Operation: usage.OpAnalyze, StatusCode: 200, LatencyMs: 999, Attempts: 1, Timestamp: base},
		{ID: "e6", Identity: "user-1", Operation: usage.OpIssueToken, StatusCode: 200, LatencyMs: 40, Timestamp: base.Add(48 * time.Hour)}, // outside period
	}
	if err := store.RecordBatch(ctx, events); err != nil {
		t.Fatalf("record batch: %v", err)
	}

	summary, err := store.GetSummary(ctx, "user-1", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}

	if summary.Identity != "user-1" {
		t.Errorf("Identity = %s, want user-1", summary.Identity)
	}
	if summary.RequestCount != 4 {
		t.Errorf("RequestCount = %d, want 4", summary.RequestCount)
	}
	if summary.AnalysisCount != 2 {
		t.Errorf("AnalysisCount = %d, want 2", summary.AnalysisCount)
	}
	if summary.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", summary.ErrorCount)
	}
	if summary.RateLimited != 1 {
		t.Errorf("RateLimited = %d, want 1", summary.RateLimited)
	}
	if summary.UpstreamTries != 8 {
		t.Errorf("UpstreamTries = %d, want 8", summary.UpstreamTries)
	}
	if summary.SourceTotal != 4 {
		t.Errorf("SourceTotal = %d, want 4", summary.SourceTotal)
	}
	if summary.AvgLatencyMs != 90 { // (100+200+5+55)/4
		t.Errorf("AvgLatencyMs = %d, want 90", summary.AvgLatencyMs)
	}
}

func TestUsageStore_GetSummary_PeriodIsHalfOpen(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	store.RecordBatch(ctx, []usage.Event{
		{ID: "at-start", Identity: "u", Operation: usage.OpAnalyze, StatusCode: 200, Timestamp: start},
		{ID: "at-end", Identity: "u", Operation: usage.OpAnalyze, StatusCode: 200, Timestamp: end},
	})

	summary, err := store.GetSummary(ctx, "u", start, end)
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if summary.RequestCount != 1 {
		t.Errorf("RequestCount = %d, want 1 (start inclusive, end exclusive)", summary.RequestCount)
	}
}

func TestUsageStore_GetSummary_NoEvents(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewUsageStore(db)

	summary, err := store.GetSummary(context.Background(), "ghost",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if summary.RequestCount != 0 {
		t.Errorf("RequestCount = %d, want 0", summary.RequestCount)
	}
	if summary.AvgLatencyMs != 0 {
		t.Errorf("AvgLatencyMs = %d, want 0", summary.AvgLatencyMs)
	}
}

func TestUsageStore_GetRecentRequests_Limit(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	var events []usage.Event
	for i := 0; i < 10; i++ {
		events = append(events, usage.Event{
			ID:         fmt.Sprintf("evt-%02d", i),
			Identity:   "user-1",
			Operation:  usage.OpAnalyze,
			StatusCode: 200,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		})
	}
	if err := store.RecordBatch(ctx, events); err != nil {
		t.Fatalf("record batch: %v", err)
	}

	recent, err := store.GetRecentRequests(ctx, "user-1", 3)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	if recent[0].ID != "evt-09" || recent[2].ID != "evt-07" {
		t.Errorf("order = %s, %s, %s; want evt-09 first", recent[0].ID, recent[1].ID, recent[2].ID)
	}
}

func TestUsageStore_Cleanup(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewUsageStore(db)
	ctx := context.Background()

	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	store.RecordBatch(ctx, []usage.Event{
		{ID: "old-1", Identity: "u", Operation: usage.OpAnalyze, StatusCode: 200, Timestamp: base.Add(-72 * time.Hour)},
		{ID: "old-2", Identity: "u", Operation: usage.OpAnalyze, StatusCode: 200, Timestamp: base.Add(-48 * time.Hour)},
		{ID: "new-1", Identity: "u", Operation: usage.OpAnalyze, StatusCode: 200, Timestamp: base},
	})

	deleted, err := store.Cleanup(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	recent, err := store.GetRecentRequests(ctx, "u", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "new-1" {
		t.Errorf("remaining = %v, want only new-1", recent)
	}
}
