package store

import (
	"fmt"
	"sort"

	"github.com/TokenRollAI/engram/internal/types"
)

// rrfK is the Reciprocal Rank Fusion constant; higher values flatten the
// influence of rank position, favoring breadth over the very top hits.
const rrfK = 60

// ScoredTrace is one HybridSearch result.
type ScoredTrace struct {
	Trace types.Trace
	Score float64
}

// SearchText runs full-text search over ocr_text and window_title, ordered
// by FTS rank (best match first).
func (s *Store) SearchText(query string, limit int) ([]types.Trace, error) {
	if query == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ftsAvailable {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT `+traceColumnsQualified(`t`)+`
		FROM traces_fts f
		JOIN traces t ON t.id = f.rowid
		WHERE traces_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
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

// ftsIDsRanked runs the same FTS query but returns just ordered ids, for
// fusion in HybridSearch. Caller must hold s.mu.
func (s *Store) ftsIDsRanked(query string, limit int) ([]int64, error) {
	if !s.ftsAvailable || query == "" {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT rowid FROM traces_fts WHERE traces_fts MATCH ? ORDER BY rank LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("fts rank query: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ftsQuery escapes a free-text query into an FTS5 MATCH expression: each
// token is quoted so punctuation and FTS operators in the raw query text
// don't get interpreted as query syntax.
func ftsQuery(q string) string {
	out := ""
	word := ""
	flush := func() {
		if word != "" {
			if out != "" {
				out += " "
			}
			out += `"` + word + `"`
			word = ""
		}
	}
	for _, r := range q {
		if r == ' ' || r == '\t' || r == '\n' {
			flush()
			continue
		}
		if r == '"' {
			continue
		}
		word += string(r)
	}
	flush()
	return out
}

func traceColumnsQualified(alias string) string {
	cols := []string{
		"id", "timestamp", "image_path", "app_name", "window_title", "is_fullscreen",
		"has_bounds", "bounds_x", "bounds_y", "bounds_w", "bounds_h", "is_idle", "phash",
		"ocr_text", "vlm_summary", "vlm_action_description", "vlm_activity_type",
		"vlm_confidence", "vlm_entities_json", "vlm_raw_json", "is_key_action",
		"embedding", "activity_session_id",
	}
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + c
	}
	return out
}

// HybridSearch fuses keyword (FTS) and vector (KNN) rankings by Reciprocal
// Rank Fusion: score(id) = Σ 1/(K + rank_i + 1) over the lists that surface
// it (rank is 0-based).
func (s *Store) HybridSearch(text string, queryEmbedding []float32, k int) ([]ScoredTrace, error) {
	if k <= 0 {
		k = 10
	}
	s.mu.Lock()

	ftsIDs, err := s.ftsIDsRanked(text, 2*k)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	var vecIDs []int64
	if len(queryEmbedding) > 0 {
		hits, err := s.vecKNN(queryEmbedding, 2*k)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		for _, h := range hits {
			vecIDs = append(vecIDs, h.TraceID)
		}
	}

	scores := map[int64]float64{}
	for rank, id := range ftsIDs {
		scores[id] += 1.0 / float64(rrfK+rank+1)
	}
	for rank, id := range vecIDs {
		scores[id] += 1.0 / float64(rrfK+rank+1)
	}

	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}

	traceMap, err := s.tracesByIDs(ids)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	results := make([]ScoredTrace, 0, len(ids))
	for _, id := range ids {
		t, ok := traceMap[id]
		if !ok {
			continue
		}
		results = append(results, ScoredTrace{Trace: t, Score: scores[id]})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Trace.ID < results[j].Trace.ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
