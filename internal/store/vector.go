package store

import (
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/TokenRollAI/engram/internal/logging"
	"github.com/TokenRollAI/engram/internal/vecutil"
)

// ensureVecTable guarantees traces_vec exists with the given dimension.
// A dimension change drops and recreates the table, discarding every row
// currently indexed: if the embedder is swapped for one with a different
// output dimension, the next UpdateTraceEmbedding succeeds and prior rows
// are discarded rather than left mismatched.
func (s *Store) ensureVecTable(dim int) error {
	if !s.vecAvailable || dim <= 0 {
		return nil
	}
	if s.vecDim == dim {
		return nil
	}

	if s.vecDim != 0 {
		logging.Info("store", "embedding dimension changed %d -> %d: rebuilding traces_vec", s.vecDim, dim)
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS traces_vec`); err != nil {
			return fmt.Errorf("drop traces_vec: %w", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS traces_vec USING vec0(embedding float[%d])`, dim,
	)); err != nil {
		return fmt.Errorf("create traces_vec(float[%d]): %w", dim, err)
	}
	s.vecDim = dim
	return nil
}

// upsertVecRow writes (or overwrites) the vector-index row for one trace.
// vec0 does not support INSERT OR REPLACE reliably, so this deletes first.
func (s *Store) upsertVecRow(traceID int64, embedding []float32) error {
	if !s.vecAvailable {
		return nil
	}
	serialized, err := sqlite_vec.SerializeFloat32(vecutil.L2Normalize(embedding))
	if err != nil {
		return fmt.Errorf("serialize vector: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM traces_vec WHERE rowid = ?`, traceID); err != nil {
		return fmt.Errorf("clear old vec row: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO traces_vec(rowid, embedding) VALUES (?, ?)`, traceID, serialized); err != nil {
		return fmt.Errorf("insert vec row: %w", err)
	}
	return nil
}

// vecKNN returns (traceID, distance) pairs for the k nearest traces to
// query, using L2 distance over L2-normalized vectors (equivalent to cosine
// ranking for that case). Returns an empty slice if the vector index isn't
// available or isn't sized for this query.
func (s *Store) vecKNN(query []float32, k int) ([]vecHit, error) {
	if !s.vecAvailable || s.vecDim == 0 || len(query) != s.vecDim || k <= 0 {
		return nil, nil
	}
	serialized, err := sqlite_vec.SerializeFloat32(vecutil.L2Normalize(query))
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT rowid, distance FROM traces_vec WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		serialized, k,
	)
	if err != nil {
		return nil, fmt.Errorf("vec KNN query: %w", err)
	}
	defer rows.Close()

	var hits []vecHit
	for rows.Next() {
		var h vecHit
		if err := rows.Scan(&h.TraceID, &h.Distance); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

type vecHit struct {
	TraceID  int64
	Distance float64
}
