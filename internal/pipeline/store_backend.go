package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/akhenakh/rankfuse/internal/llm"
)

// Scorer scores a candidate set against the indexed passages.
// *store.Store implements it.
type Scorer interface {
	ScoreLexical(ctx context.Context, collection, query string, ids []string) (map[string]float64, error)
	ScoreVector(ctx context.Context, collection string, vec []float32, ids []string) (map[string]float64, error)
}

// StoreBackend computes live signals: BM25 for lexical signals and cosine
// similarity of the query embedding for vector signals.
type StoreBackend struct {
	Scorer     Scorer
	Embedder   llm.Embedder
	Collection string

	mu       sync.Mutex
	lastText string
	lastVec  []float32
}

func NewStoreBackend(scorer Scorer, embedder llm.Embedder, collection string) *StoreBackend {
	return &StoreBackend{Scorer: scorer, Embedder: embedder, Collection: collection}
}

func (b *StoreBackend) Search(ctx context.Context, req Request) ([]Hit, error) {
	var (
		scores map[string]float64
		err    error
	)
	switch req.Mode {
	case ModeLexical:
		scores, err = b.Scorer.ScoreLexical(ctx, b.Collection, req.Text, req.Candidates)
	case ModeVector:
		var vec []float32
		vec, err = b.embedQuery(ctx, req.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query %s: %w", req.QueryID, err)
		}
		scores, err = b.Scorer.ScoreVector(ctx, b.Collection, vec, req.Candidates)
	default:
		return nil, fmt.Errorf("unknown signal mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(req.Candidates))
	for _, id := range req.Candidates {
		hits = append(hits, Hit{DocumentID: id, Score: scores[id]})
	}
	return hits, nil
}

// embedQuery reuses the previous embedding when several vector signals ask
// for the same text in a row.
func (b *StoreBackend) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if b.Embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastVec != nil && b.lastText == text {
		return b.lastVec, nil
	}
	vec, err := b.Embedder.Embed(ctx, text, llm.RoleQuery)
	if err != nil {
		return nil, err
	}
	b.lastText, b.lastVec = text, vec
	return vec, nil
}
