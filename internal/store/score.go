package store

import (
	"context"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ScoreLexical scores every id in ids against query with negated bm25.
// Candidates that do not match any term score 0, so the returned map always
// carries one entry per distinct id.
func (s *Store) ScoreLexical(ctx context.Context, collection, query string, ids []string) (map[string]float64, error) {
	scores := zeroScores(ids)
	if len(ids) == 0 {
		return scores, nil
	}
	match := ftsQuery(query)
	if match == "" {
		return scores, nil
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, match, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT d.doc_id, -bm25(documents_fts)
		FROM documents_fts
		JOIN documents d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ? AND d.collection = ? AND d.active = 1
			AND d.doc_id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		scores[id] = score
	}
	return scores, rows.Err()
}

// ScoreVector scores every id in ids by cosine similarity to vec, taking the
// best chunk of each passage. Passages without embeddings score 0.
func (s *Store) ScoreVector(ctx context.Context, collection string, vec []float32, ids []string) (map[string]float64, error) {
	scores := zeroScores(ids)
	if len(ids) == 0 {
		return scores, nil
	}
	if s.vecDim == 0 {
		return nil, ErrNoVectorTable
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, err
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, blob, collection)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT d.doc_id, MIN(vec_distance_cosine(v.embedding, ?))
		FROM documents d
		JOIN content_vectors cv ON cv.hash = d.hash
		JOIN vectors_vec v ON v.hash_seq = cv.hash || '_' || cv.seq
		WHERE d.collection = ? AND d.active = 1
			AND d.doc_id IN (`+placeholders(len(ids))+`)
		GROUP BY d.doc_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		scores[id] = 1.0 - distance
	}
	return scores, rows.Err()
}

func zeroScores(ids []string) map[string]float64 {
	m := make(map[string]float64, len(ids))
	for _, id := range ids {
		m[id] = 0
	}
	return m
}
