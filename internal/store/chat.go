package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TokenRollAI/engram/internal/types"
)

// CreateChatThread creates a new, empty chat thread. Threads are addressed
// externally by their opaque UUID alongside the integer primary key, so a
// thread reference is stable across a database rebuild that reassigns IDs.
func (s *Store) CreateChatThread(title string) (types.ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	id := uuid.NewString()
	res, err := s.db.Exec(`INSERT INTO chat_threads (uuid, title, created_at, updated_at) VALUES (?,?,?,?)`, id, title, now, now)
	if err != nil {
		return types.ChatThread{}, fmt.Errorf("create thread: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return types.ChatThread{}, err
	}
	return types.ChatThread{ID: rowID, UUID: id, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetChatThread loads a thread by its integer id or its UUID.
func (s *Store) GetChatThread(idOrUUID string) (types.ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var t types.ChatThread
	err := s.db.QueryRow(`
		SELECT id, uuid, title, created_at, updated_at FROM chat_threads
		WHERE uuid = ? OR CAST(id AS TEXT) = ?
	`, idOrUUID, idOrUUID).Scan(&t.ID, &t.UUID, &t.Title, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// ListChatThreads returns the most recently updated threads first.
func (s *Store) ListChatThreads(limit int) ([]types.ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`SELECT id, uuid, title, created_at, updated_at FROM chat_threads ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ChatThread
	for rows.Next() {
		var t types.ChatThread
		if err := rows.Scan(&t.ID, &t.UUID, &t.Title, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AppendChatMessage persists one turn and bumps the thread's updated_at.
func (s *Store) AppendChatMessage(threadID int64, role types.ChatRole, content, contextJSON string) (types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if contextJSON == "" {
		contextJSON = "{}"
	}
	res, err := s.db.Exec(`
		INSERT INTO chat_messages (thread_id, role, content, context_json, created_at)
		VALUES (?,?,?,?,?)
	`, threadID, string(role), content, contextJSON, now)
	if err != nil {
		return types.ChatMessage{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.ChatMessage{}, err
	}
	if _, err := s.db.Exec(`UPDATE chat_threads SET updated_at = ? WHERE id = ?`, now, threadID); err != nil {
		return types.ChatMessage{}, fmt.Errorf("touch thread: %w", err)
	}
	return types.ChatMessage{ID: id, ThreadID: threadID, Role: role, Content: content, ContextJSON: contextJSON, CreatedAt: now}, nil
}

// ListChatMessages returns a thread's messages in chronological order.
func (s *Store) ListChatMessages(threadID int64) ([]types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(`
		SELECT id, thread_id, role, content, context_json, created_at
		FROM chat_messages WHERE thread_id = ? ORDER BY created_at ASC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ChatMessage
	for rows.Next() {
		var m types.ChatMessage
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.ContextJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
