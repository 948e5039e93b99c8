package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/artpar/tradegate/domain/usage"
	"github.com/artpar/tradegate/ports"
)

// UsageStore is a SQLite implementation of ports.UsageStore.
type UsageStore struct {
	db *DB
}

// NewUsageStore creates a new SQLite usage store.
func NewUsageStore(db *DB) *UsageStore {
	return &UsageStore{db: db}
}

// RecordBatch stores multiple usage events in one transaction.
func (s *UsageStore) RecordBatch(ctx context.Context, events []usage.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usage_events
			(id, token_id, identity, operation, sector, code, status_code,
			 latency_ms, attempts, source_count, ip_address, user_agent, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.ID, e.TokenID, e.Identity, string(e.Operation), e.Sector, e.Code,
			e.StatusCode, e.LatencyMs, e.Attempts, e.SourceCount,
			e.IPAddress, e.UserAgent, e.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// GetSummary returns aggregated usage for a period. The period is half-open:
// start inclusive, end exclusive.
func (s *UsageStore) GetSummary(ctx context.Context, identity string, start, end time.Time) (usage.Summary, error) {
	summary := usage.Summary{
		Identity:    identity,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN operation = ? AND code = '' AND status_code < 400 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN code = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(attempts), 0),
			COALESCE(SUM(source_count), 0),
			COALESCE(SUM(latency_ms), 0)
		FROM usage_events
		WHERE identity = ? AND timestamp >= ? AND timestamp < ?
	`, string(usage.OpAnalyze), usage.CodeRateLimited, identity, start.UTC(), end.UTC())

	var totalLatency int64
	err := row.Scan(
		&summary.RequestCount,
		&summary.AnalysisCount,
		&summary.ErrorCount,
		&summary.RateLimited,
		&summary.UpstreamTries,
		&summary.SourceTotal,
		&totalLatency,
	)
	if err != nil {
		return usage.Summary{}, fmt.Errorf("aggregate usage: %w", err)
	}

	if summary.RequestCount > 0 {
		summary.AvgLatencyMs = totalLatency / summary.RequestCount
	}
	return summary, nil
}

// GetRecentRequests returns the most recent events for an identity,
// newest first.
func (s *UsageStore) GetRecentRequests(ctx context.Context, identity string, limit int) ([]usage.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token_id, identity, operation, sector, code, status_code,
		       latency_ms, attempts, source_count, ip_address, user_agent, timestamp
		FROM usage_events
		WHERE identity = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var events []usage.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup deletes events older than the given cutoff and reports how many
// rows went away. Intended for a periodic retention sweep.
func (s *UsageStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_events WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	return res.RowsAffected()
}

func scanEvent(rows *sql.Rows) (usage.Event, error) {
	var e usage.Event
	var op string
	var ip, ua sql.NullString
	err := rows.Scan(&e.ID, &e.TokenID, &e.Identity, &op, &e.Sector, &e.Code,
		&e.StatusCode, &e.LatencyMs, &e.Attempts, &e.SourceCount, &ip, &ua, &e.Timestamp)
	if err != nil {
		return usage.Event{}, fmt.Errorf("scan event: %w", err)
	}
	e.Operation = usage.Operation(op)
	e.IPAddress = ip.String
	e.UserAgent = ua.String
	return e, nil
}

// Ensure interface compliance.
var _ ports.UsageStore = (*UsageStore)(nil)
