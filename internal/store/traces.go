package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/TokenRollAI/engram/internal/types"
	"github.com/TokenRollAI/engram/internal/vecutil"
)

// defaultGapThresholdMs is the pass-1 session-continuity gap used when the
// config doesn't override it.
const defaultGapThresholdMs = 300_000

// InsertTrace persists a new capture and runs pass-1 session routing:
// idle or app-less traces get no session; otherwise the most recent session
// for the app is extended if the gap since its end_time is within
// gapThresholdMs, else a new session is started.
func (s *Store) InsertTrace(nt types.NewTrace, gapThresholdMs int64) (traceID int64, sessionID int64, hasSession bool, err error) {
	if gapThresholdMs <= 0 {
		gapThresholdMs = defaultGapThresholdMs
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if !nt.IsIdle && nt.AppName != "" {
		sessionID, hasSession, err = routeSessionPass1(tx, nt.AppName, nt.Timestamp, gapThresholdMs)
		if err != nil {
			return 0, 0, false, fmt.Errorf("pass-1 routing: %w", err)
		}
	}

	var sessionArg interface{}
	if hasSession {
		sessionArg = sessionID
	}

	res, err := tx.Exec(`
		INSERT INTO traces (
			timestamp, image_path, app_name, window_title, is_fullscreen,
			has_bounds, bounds_x, bounds_y, bounds_w, bounds_h, is_idle, phash,
			activity_session_id
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		nt.Timestamp, nt.ImagePath, nt.AppName, nt.WindowTitle, boolToInt(nt.IsFullscreen),
		boolToInt(nt.HasBounds), nt.BoundsX, nt.BoundsY, nt.BoundsW, nt.BoundsH,
		boolToInt(nt.IsIdle), nt.Phash[:], sessionArg,
	)
	if err != nil {
		return 0, 0, false, fmt.Errorf("insert trace: %w", err)
	}
	traceID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, false, fmt.Errorf("last insert id: %w", err)
	}

	if hasSession {
		if err := widenSession(tx, sessionID, traceID, nt.Timestamp, +1); err != nil {
			return 0, 0, false, fmt.Errorf("widen session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, false, fmt.Errorf("commit: %w", err)
	}
	return traceID, sessionID, hasSession, nil
}

// routeSessionPass1 picks (or creates) the session a new trace from appName
// at ts should join, per the app+time-gap rule.
func routeSessionPass1(tx *sql.Tx, appName string, ts, gapThresholdMs int64) (int64, bool, error) {
	var sessionID, endTime int64
	err := tx.QueryRow(`
		SELECT id, end_time FROM activity_sessions
		WHERE app_name = ?
		ORDER BY end_time DESC LIMIT 1
	`, appName).Scan(&sessionID, &endTime)

	if err == nil && ts-endTime <= gapThresholdMs {
		return sessionID, true, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return 0, false, err
	}

	now := time.Now().UnixMilli()
	res, err := tx.Exec(`
		INSERT INTO activity_sessions (
			app_name, title, description, start_time, end_time,
			trace_count, created_at, updated_at
		) VALUES (?, '', '', ?, ?, 0, ?, ?)
	`, appName, ts, ts, now, now)
	if err != nil {
		return 0, false, err
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return newID, true, nil
}

// widenSession updates a session after a trace at timestamp ts is appended
// to (delta=+1) or moved out of (delta=-1) it. Appending extends the time
// bounds and trace pointers and increments trace_count; moving out only
// decrements trace_count (floored at 0) and leaves bounds and pointers as
// they were.
func widenSession(tx *sql.Tx, sessionID, traceID, ts int64, delta int) error {
	now := time.Now().UnixMilli()
	if delta > 0 {
		_, err := tx.Exec(`
			UPDATE activity_sessions SET
				start_trace_id = COALESCE(start_trace_id, ?),
				end_trace_id = ?,
				start_time = MIN(start_time, ?),
				end_time = MAX(end_time, ?),
				trace_count = trace_count + 1,
				updated_at = ?
			WHERE id = ?
		`, traceID, traceID, ts, ts, now, sessionID)
		return err
	}
	_, err := tx.Exec(`UPDATE activity_sessions SET trace_count = MAX(0, trace_count - 1), updated_at = ? WHERE id = ?`, now, sessionID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpdateTraceOcrText sets the OCR text written back by the VLM worker pool.
func (s *Store) UpdateTraceOcrText(traceID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE traces SET ocr_text = ? WHERE id = ?`, text, traceID)
	return err
}

// UpdateTraceEmbedding writes the trace's embedding and upserts its
// traces_vec row, rebuilding the vector index first if the dimension
// changed.
func (s *Store) UpdateTraceEmbedding(traceID int64, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bytes := vecutil.SerializeF32(embedding)
	if _, err := s.db.Exec(`UPDATE traces SET embedding = ? WHERE id = ?`, bytes, traceID); err != nil {
		return fmt.Errorf("update trace embedding: %w", err)
	}

	if err := s.ensureVecTable(len(embedding)); err != nil {
		return fmt.Errorf("ensure vec table: %w", err)
	}
	if err := s.upsertVecRow(traceID, embedding); err != nil {
		return fmt.Errorf("upsert vec row: %w", err)
	}
	return nil
}

// UpdateTraceVlmAnalysis populates the VLM verdict columns on a trace. It
// never modifies activity_session_id; routing is a separate step
// (UpdateActivitySessionFromVlm).
func (s *Store) UpdateTraceVlmAnalysis(traceID int64, summary, action string, activityType types.ActivityType, confidence float64, entitiesJSON, rawJSON string, isKeyAction bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE traces SET
			vlm_summary = ?, vlm_action_description = ?, vlm_activity_type = ?,
			vlm_confidence = ?, vlm_entities_json = ?, vlm_raw_json = ?, is_key_action = ?
		WHERE id = ?
	`, summary, action, string(activityType), confidence, entitiesJSON, rawJSON, boolToInt(isKeyAction), traceID)
	return err
}

// reassignTraceSessionLocked moves a trace to a different session, adjusting both
// sides' trace_count. Called from UpdateActivitySessionFromVlm (pass-2
// routing); must be invoked with s.mu already held.
func (s *Store) reassignTraceSessionLocked(tx *sql.Tx, traceID, ts int64, oldSessionID, newSessionID int64, hadOldSession bool) error {
	if hadOldSession && oldSessionID == newSessionID {
		return nil
	}
	if _, err := tx.Exec(`UPDATE traces SET activity_session_id = ? WHERE id = ?`, newSessionID, traceID); err != nil {
		return err
	}
	if hadOldSession {
		if err := widenSession(tx, oldSessionID, traceID, ts, -1); err != nil {
			return err
		}
	}
	return widenSession(tx, newSessionID, traceID, ts, +1)
}

func scanTrace(row interface {
	Scan(dest ...any) error
}) (types.Trace, error) {
	var t types.Trace
	var ocrText sql.NullString
	var embedding []byte
	var phash []byte
	var sessionID sql.NullInt64

	err := row.Scan(
		&t.ID, &t.Timestamp, &t.ImagePath, &t.AppName, &t.WindowTitle,
		&t.IsFullscreen, &t.HasBounds, &t.BoundsX, &t.BoundsY, &t.BoundsW, &t.BoundsH,
		&t.IsIdle, &phash, &ocrText, &t.VlmSummary, &t.VlmActionDescription,
		&t.VlmActivityType, &t.VlmConfidence, &t.VlmEntitiesJSON, &t.VlmRawJSON,
		&t.IsKeyAction, &embedding, &sessionID,
	)
	if err != nil {
		return types.Trace{}, err
	}
	copy(t.Phash[:], phash)
	if ocrText.Valid {
		t.OCRText = ocrText.String
		t.HasOCRText = true
	}
	if len(embedding) > 0 {
		t.Embedding = vecutil.DeserializeF32(embedding)
		t.HasEmbedding = true
	}
	if sessionID.Valid {
		t.ActivitySessionID = sessionID.Int64
		t.HasActivitySession = true
	}
	return t, nil
}

const traceColumns = `
	id, timestamp, image_path, app_name, window_title, is_fullscreen,
	has_bounds, bounds_x, bounds_y, bounds_w, bounds_h, is_idle, phash,
	ocr_text, vlm_summary, vlm_action_description, vlm_activity_type,
	vlm_confidence, vlm_entities_json, vlm_raw_json, is_key_action,
	embedding, activity_session_id
`

// GetTrace loads one trace by id.
func (s *Store) GetTrace(traceID int64) (types.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRow(`SELECT `+traceColumns+` FROM traces WHERE id = ?`, traceID)
	return scanTrace(row)
}

// PendingOcrTraces returns up to limit traces awaiting VLM enrichment,
// oldest first — the worker pool's puller query. This is the single source
// of truth for "needs enrichment": since the worker is the only writer of
// ocr_text, no trace is ever double-enqueued.
func (s *Store) PendingOcrTraces(limit int) ([]types.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT `+traceColumns+` FROM traces
		WHERE ocr_text IS NULL
		ORDER BY timestamp ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentTraces returns the n most recently captured traces, newest first.
func (s *Store) RecentTraces(n int) ([]types.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT `+traceColumns+` FROM traces ORDER BY timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TracesInRange returns traces with timestamp in [start, end], capped at
// limit, oldest first. Used by SummarizerTask.
func (s *Store) TracesInRange(start, end int64, limit int) ([]types.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT `+traceColumns+` FROM traces
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
		LIMIT ?
	`, start, end, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// tracesByIDs loads a set of traces keyed by id, for fusing search results.
func (s *Store) tracesByIDs(ids []int64) (map[int64]types.Trace, error) {
	out := make(map[int64]types.Trace, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT `+traceColumns+` FROM traces WHERE id IN (`+string(placeholders)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, err
		}
		out[t.ID] = t
	}
	return out, rows.Err()
}
