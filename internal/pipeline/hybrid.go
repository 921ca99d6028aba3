package pipeline

import (
	"context"
	"fmt"

	"github.com/akhenakh/rankfuse/internal/fusion"
	"github.com/akhenakh/rankfuse/internal/llm"
	"github.com/akhenakh/rankfuse/internal/store"
)

// Searcher retrieves candidates and scores them. *store.Store implements it.
type Searcher interface {
	Scorer
	SearchFTS(ctx context.Context, query string, limit int) ([]store.SearchResult, error)
	SearchVec(ctx context.Context, vec []float32, limit int) ([]store.SearchResult, error)
}

type HybridOptions struct {
	Collection string
	Algorithm  fusion.Algorithm
	Fusion     fusion.Options
	Limit      int

	// LexicalWeight and VectorWeight scale the two signals, 0 reads as 1.
	LexicalWeight float64
	VectorWeight  float64

	// Pool is how many candidates each retriever contributes, 0 is 3*Limit.
	Pool int
}

type HybridHit struct {
	Collection string  `json:"collection"`
	DocID      string  `json:"id"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet,omitempty"`
}

// Hybrid runs a lexical and, when emb is set, a vector retrieval, scores the
// union of their candidates on both signals and fuses the lists.
func Hybrid(ctx context.Context, s Searcher, emb llm.Embedder, query string, opts HybridOptions) ([]HybridHit, *fusion.Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	pool := opts.Pool
	if pool <= 0 {
		pool = opts.Limit * 3
	}
	alg := opts.Algorithm
	if alg == "" {
		alg = fusion.RRF
	}

	var (
		ids      []string
		snippets = make(map[string]string)
	)
	add := func(results []store.SearchResult) {
		for _, r := range results {
			if r.Collection != opts.Collection {
				continue
			}
			if _, seen := snippets[r.DocID]; seen {
				continue
			}
			snippets[r.DocID] = r.Snippet
			ids = append(ids, r.DocID)
		}
	}

	lexical, err := s.SearchFTS(ctx, query, pool)
	if err != nil && err != store.ErrEmptyQuery {
		return nil, nil, fmt.Errorf("lexical search: %w", err)
	}
	add(lexical)

	signals := []Signal{{Name: "lexical", Mode: ModeLexical, Weight: weightOr1(opts.LexicalWeight)}}
	backend := NewStoreBackend(s, emb, opts.Collection)
	if emb != nil {
		vec, err := backend.embedQuery(ctx, query)
		if err != nil {
			return nil, nil, fmt.Errorf("embed query: %w", err)
		}
		vector, err := s.SearchVec(ctx, vec, pool)
		if err != nil {
			return nil, nil, fmt.Errorf("vector search: %w", err)
		}
		add(vector)
		signals = append(signals, Signal{Name: "vector", Mode: ModeVector, Weight: weightOr1(opts.VectorWeight)})
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	lists := make([]fusion.ScoreList, len(signals))
	weights := make([]float64, len(signals))
	for i, sig := range signals {
		hits, err := backend.Search(ctx, Request{Text: query, Signal: sig.Name, Mode: sig.Mode, Candidates: ids})
		if err != nil {
			return nil, nil, &BackendError{Signal: sig.Name, Err: err}
		}
		list := make(fusion.ScoreList, len(hits))
		for j, h := range hits {
			list[j] = fusion.ScoreEntry{ID: h.DocumentID, Score: h.Score}
		}
		lists[i] = list
		weights[i] = sig.Weight
	}

	in, err := fusion.NewInput(lists, weights)
	if err != nil {
		return nil, nil, err
	}
	res, err := fusion.Fuse(in, alg, opts.Fusion)
	if err != nil {
		return nil, nil, err
	}

	n := min(opts.Limit, len(res.Ranking))
	hits := make([]HybridHit, n)
	for i, id := range res.Ranking[:n] {
		hits[i] = HybridHit{Collection: opts.Collection, DocID: id, Score: res.Scores[id], Snippet: snippets[id]}
	}
	return hits, res, nil
}

func weightOr1(w float64) float64 {
	if w == 0 {
		return 1
	}
	return w
}
