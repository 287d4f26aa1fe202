package store

import (
	"fmt"
	"time"

	"github.com/TokenRollAI/engram/internal/types"
)

// InsertSummary persists one rollup produced by SummarizerTask.
func (s *Store) InsertSummary(summary types.Summary) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if summary.CreatedAt == 0 {
		summary.CreatedAt = time.Now().UnixMilli()
	}
	res, err := s.db.Exec(`
		INSERT INTO summaries (start_time, end_time, summary_type, content, structured_data, trace_count, created_at)
		VALUES (?,?,?,?,?,?,?)
	`, summary.StartTime, summary.EndTime, string(summary.SummaryType), summary.Content,
		summary.StructuredData, summary.TraceCount, summary.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert summary: %w", err)
	}
	return res.LastInsertId()
}

// ListSummaries returns summaries of the given type (or all types if empty)
// in [start, end], newest first.
func (s *Store) ListSummaries(summaryType types.SummaryType, start, end int64, limit int) ([]types.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, start_time, end_time, summary_type, content, structured_data, trace_count, created_at
		FROM summaries WHERE start_time >= ? AND end_time <= ?`
	args := []any{start, end}
	if summaryType != "" {
		query += ` AND summary_type = ?`
		args = append(args, string(summaryType))
	}
	query += ` ORDER BY start_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []types.Summary
	for rows.Next() {
		var sum types.Summary
		if err := rows.Scan(&sum.ID, &sum.StartTime, &sum.EndTime, &sum.SummaryType,
			&sum.Content, &sum.StructuredData, &sum.TraceCount, &sum.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// LastDailySummaryDate returns the start_time (truncated to day, UTC) of
// the most recent daily summary, or 0 if none exist. Used by SummarizerTask
// to avoid producing more than one daily rollup per day.
func (s *Store) LastDailySummaryDate() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var start int64
	err := s.db.QueryRow(`SELECT COALESCE(MAX(start_time), 0) FROM summaries WHERE summary_type = 'daily'`).Scan(&start)
	return start, err
}
