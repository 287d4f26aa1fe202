package store

import (
	"database/sql"
	"fmt"

	"github.com/TokenRollAI/engram/internal/types"
)

// UpsertEntity creates or updates a named entity: mention_count is
// incremented (never decreased), last_seen only moves later, first_seen
// only moves earlier.
func (s *Store) UpsertEntity(name string, entityType types.EntityType, seenAt int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(`SELECT id FROM entities WHERE name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		res, err := tx.Exec(`
			INSERT INTO entities (name, type, mention_count, first_seen, last_seen, metadata)
			VALUES (?, ?, 1, ?, ?, '{}')
		`, name, string(entityType), seenAt, seenAt)
		if err != nil {
			return 0, fmt.Errorf("insert entity: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
		return id, tx.Commit()
	}
	if err != nil {
		return 0, fmt.Errorf("query entity: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE entities SET
			mention_count = mention_count + 1,
			last_seen = MAX(last_seen, ?),
			first_seen = MIN(first_seen, ?)
		WHERE id = ?
	`, seenAt, seenAt, id); err != nil {
		return 0, fmt.Errorf("update entity: %w", err)
	}
	return id, tx.Commit()
}

// LinkEntityToTrace records that a trace mentions an entity. Idempotent:
// calling it twice with the same args changes nothing.
func (s *Store) LinkEntityToTrace(entityID, traceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`INSERT OR IGNORE INTO entity_traces (entity_id, trace_id) VALUES (?, ?)`, entityID, traceID)
	return err
}

// ListEntities returns entities ordered by mention_count desc, optionally
// filtered by type.
func (s *Store) ListEntities(entityType types.EntityType, limit int) ([]types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, name, type, mention_count, first_seen, last_seen, metadata FROM entities`
	args := []any{}
	if entityType != "" {
		query += ` WHERE type = ?`
		args = append(args, string(entityType))
	}
	query += ` ORDER BY mention_count DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []types.Entity
	for rows.Next() {
		var e types.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.MentionCount, &e.FirstSeen, &e.LastSeen, &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
