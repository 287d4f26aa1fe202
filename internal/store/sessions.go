package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TokenRollAI/engram/internal/types"
	"github.com/TokenRollAI/engram/internal/vecutil"
)

// defaultMaxActiveSessions caps the routing-prompt context used when the
// config doesn't override it.
const defaultMaxActiveSessions = 8

// ActiveSessionInfo is one entry of GetActiveSessionsForRouting, carrying
// just enough for prompt assembly.
type ActiveSessionInfo struct {
	ID             int64
	AppName        string
	StartTime      int64
	EndTime        int64
	TraceCount     int
	Title          string
	Description    string
	KeyActionsJSON string
}

// GetActiveSessionsForRouting returns the most recent sessions whose
// end_time is within windowMs of now, capped at max (default 8).
func (s *Store) GetActiveSessionsForRouting(now, windowMs int64, max int) ([]ActiveSessionInfo, error) {
	if max <= 0 {
		max = defaultMaxActiveSessions
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, app_name, start_time, end_time, trace_count, title, description, key_actions_json
		FROM activity_sessions
		WHERE end_time >= ?
		ORDER BY end_time DESC
		LIMIT ?
	`, now-windowMs, max)
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer rows.Close()

	var out []ActiveSessionInfo
	for rows.Next() {
		var a ActiveSessionInfo
		if err := rows.Scan(&a.ID, &a.AppName, &a.StartTime, &a.EndTime, &a.TraceCount, &a.Title, &a.Description, &a.KeyActionsJSON); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SessionLastEmbedding is one entry of GetActiveSessionLastEmbeddings.
type SessionLastEmbedding struct {
	SessionID int64
	Embedding []float32
}

// GetActiveSessionLastEmbeddings returns the last-trace embedding for every
// active session, for pass-2 similarity routing.
func (s *Store) GetActiveSessionLastEmbeddings(now, windowMs int64, max int) ([]SessionLastEmbedding, error) {
	if max <= 0 {
		max = defaultMaxActiveSessions
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, last_embedding FROM activity_sessions
		WHERE end_time >= ? AND last_embedding IS NOT NULL
		ORDER BY end_time DESC
		LIMIT ?
	`, now-windowMs, max)
	if err != nil {
		return nil, fmt.Errorf("query session embeddings: %w", err)
	}
	defer rows.Close()

	var out []SessionLastEmbedding
	for rows.Next() {
		var id int64
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		out = append(out, SessionLastEmbedding{SessionID: id, Embedding: vecutil.DeserializeF32(raw)})
	}
	return out, rows.Err()
}

// defaultTitleLockMs is how long a freshly created session's title/description
// remain overwritable by a later VLM verdict.
const defaultTitleLockMs = 60_000

// UpdateActivitySessionFromVlm applies one VLM verdict to a session: it
// inserts the event (deduplicated by (session_id, trace_id)), reassigns the
// trace's session if pass-2 routing chose differently from pass-1, merges
// entity mention counts, appends to context_text (tail-trimmed), appends to
// key_actions_json if this is a key action (head-trimmed), optionally locks
// in the session title/description, and widens the session's time bounds.
func (s *Store) UpdateActivitySessionFromVlm(
	sessionID, traceID, ts int64,
	summary, action string, activityType types.ActivityType,
	entities []string, isKeyAction bool,
	embedding []float32,
	newTitle, newDescription string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	entitiesJSON, _ := json.Marshal(entities)

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO activity_session_events (
			session_id, trace_id, timestamp, summary, action_description,
			activity_type, confidence, entities_json, is_key_action, raw_json
		) VALUES (?,?,?,?,?,?,1,?,?,'')
	`, sessionID, traceID, ts, summary, action, string(activityType), string(entitiesJSON), boolToInt(isKeyAction))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit() // already recorded for this (session, trace)
	}

	var oldSessionID sql.NullInt64
	if err := tx.QueryRow(`SELECT activity_session_id FROM traces WHERE id = ?`, traceID).Scan(&oldSessionID); err != nil {
		return fmt.Errorf("read trace session: %w", err)
	}
	if err := s.reassignTraceSessionLocked(tx, traceID, ts, oldSessionID.Int64, sessionID, oldSessionID.Valid); err != nil {
		return fmt.Errorf("reassign session: %w", err)
	}

	if err := mergeEntities(tx, sessionID, entities); err != nil {
		return fmt.Errorf("merge entities: %w", err)
	}

	if err := appendContextText(tx, sessionID, ts, summary); err != nil {
		return fmt.Errorf("append context: %w", err)
	}

	if isKeyAction {
		if err := appendKeyAction(tx, sessionID, types.KeyAction{
			Timestamp: ts, TraceID: traceID, Summary: summary,
			ActionDescription: action, ActivityType: activityType, Entities: entities,
		}); err != nil {
			return fmt.Errorf("append key action: %w", err)
		}
	}

	var curTitle, curDesc string
	var createdAt int64
	if err := tx.QueryRow(`SELECT title, description, created_at FROM activity_sessions WHERE id = ?`, sessionID).Scan(&curTitle, &curDesc, &createdAt); err != nil {
		return fmt.Errorf("read session title: %w", err)
	}
	lockOpen := ts-createdAt <= defaultTitleLockMs
	setTitle, setDesc := curTitle, curDesc
	if newTitle != "" && (curTitle == "" || lockOpen) {
		setTitle = newTitle
	}
	if newDescription != "" && (curDesc == "" || lockOpen) {
		setDesc = newDescription
	}

	var embArg interface{}
	if len(embedding) > 0 {
		embArg = vecutil.SerializeF32(embedding)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		UPDATE activity_sessions SET
			title = ?, description = ?,
			start_time = MIN(start_time, ?), end_time = MAX(end_time, ?),
			last_embedding = COALESCE(?, last_embedding),
			updated_at = ?
		WHERE id = ?
	`, setTitle, setDesc, ts, ts, embArg, now, sessionID); err != nil {
		return fmt.Errorf("widen session bounds: %w", err)
	}

	return tx.Commit()
}

// maxContextTextChars bounds ActivitySession.ContextText.
const maxContextTextChars = 20_000

// maxKeyActions bounds ActivitySession.KeyActionsJSON.
const maxKeyActions = 80

func appendContextText(tx *sql.Tx, sessionID, ts int64, summary string) error {
	var existing string
	if err := tx.QueryRow(`SELECT context_text FROM activity_sessions WHERE id = ?`, sessionID).Scan(&existing); err != nil {
		return err
	}
	line := fmt.Sprintf("[%s] %s", time.UnixMilli(ts).Format("15:04"), summary)
	combined := existing
	if combined != "" {
		combined += "\n"
	}
	combined += line
	if len(combined) > maxContextTextChars {
		combined = combined[len(combined)-maxContextTextChars:]
	}
	_, err := tx.Exec(`UPDATE activity_sessions SET context_text = ? WHERE id = ?`, combined, sessionID)
	return err
}

func appendKeyAction(tx *sql.Tx, sessionID int64, ka types.KeyAction) error {
	var raw string
	if err := tx.QueryRow(`SELECT key_actions_json FROM activity_sessions WHERE id = ?`, sessionID).Scan(&raw); err != nil {
		return err
	}
	var actions []types.KeyAction
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &actions)
	}
	actions = append(actions, ka)
	if len(actions) > maxKeyActions {
		actions = actions[len(actions)-maxKeyActions:]
	}
	encoded, err := json.Marshal(actions)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE activity_sessions SET key_actions_json = ? WHERE id = ?`, string(encoded), sessionID)
	return err
}

func mergeEntities(tx *sql.Tx, sessionID int64, entities []string) error {
	if len(entities) == 0 {
		return nil
	}
	var raw string
	if err := tx.QueryRow(`SELECT entities_json FROM activity_sessions WHERE id = ?`, sessionID).Scan(&raw); err != nil {
		return err
	}
	counts := map[string]int{}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &counts)
	}
	for _, e := range entities {
		if e == "" {
			continue
		}
		counts[e]++
	}
	encoded, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE activity_sessions SET entities_json = ? WHERE id = ?`, string(encoded), sessionID)
	return err
}

// CreateSession creates a new, empty session seeded with appName — used by
// pass-2 routing when neither the model's choice nor similarity fallback
// applies.
func (s *Store) CreateSession(appName string, ts int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UnixMilli()
	res, err := s.db.Exec(`
		INSERT INTO activity_sessions (app_name, title, description, start_time, end_time, trace_count, created_at, updated_at)
		VALUES (?, '', '', ?, ?, 0, ?, ?)
	`, appName, ts, ts, now, now)
	if err != nil {
		return 0, fmt.Errorf("create session: %w", err)
	}
	return res.LastInsertId()
}

// GetActivitySessions lists sessions whose end_time falls in [start, end],
// optionally filtered by app, newest-end-time first.
func (s *Store) GetActivitySessions(start, end int64, appFilter string, limit, offset int) ([]types.ActivitySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT id, app_name, title, description, start_time, end_time,
			start_trace_id, end_trace_id, trace_count, context_text,
			entities_json, key_actions_json, last_embedding, created_at, updated_at
		FROM activity_sessions
		WHERE end_time >= ? AND end_time <= ?
	`
	args := []any{start, end}
	if appFilter != "" {
		query += " AND app_name = ?"
		args = append(args, appFilter)
	}
	query += " ORDER BY end_time DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []types.ActivitySession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func scanSession(row interface{ Scan(dest ...any) error }) (types.ActivitySession, error) {
	var sess types.ActivitySession
	var startTraceID, endTraceID sql.NullInt64
	var lastEmbedding []byte

	err := row.Scan(
		&sess.ID, &sess.AppName, &sess.Title, &sess.Description,
		&sess.StartTime, &sess.EndTime, &startTraceID, &endTraceID, &sess.TraceCount,
		&sess.ContextText, &sess.EntitiesJSON, &sess.KeyActionsJSON, &lastEmbedding,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return types.ActivitySession{}, err
	}
	sess.StartTraceID = startTraceID.Int64
	sess.EndTraceID = endTraceID.Int64
	if len(lastEmbedding) > 0 {
		sess.LastEmbedding = vecutil.DeserializeF32(lastEmbedding)
	}
	return sess, nil
}

// GetSessionEvents returns every VLM verdict recorded for a session, in
// timestamp order.
func (s *Store) GetSessionEvents(sessionID int64) ([]types.ActivitySessionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, session_id, trace_id, timestamp, summary, action_description,
			activity_type, confidence, entities_json, is_key_action, raw_json
		FROM activity_session_events
		WHERE session_id = ?
		ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ActivitySessionEvent
	for rows.Next() {
		var e types.ActivitySessionEvent
		var isKey int
		if err := rows.Scan(&e.ID, &e.SessionID, &e.TraceID, &e.Timestamp, &e.Summary,
			&e.ActionDescription, &e.ActivityType, &e.Confidence, &e.EntitiesJSON, &isKey, &e.RawJSON); err != nil {
			return nil, err
		}
		e.IsKeyAction = isKey != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSessionTraces returns every trace currently assigned to a session,
// oldest first.
func (s *Store) GetSessionTraces(sessionID int64) ([]types.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT `+traceColumns+` FROM traces WHERE activity_session_id = ? ORDER BY timestamp ASC`, sessionID)
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
