package ndcg

import (
	"sync"

	"github.com/akhenakh/rankfuse/internal/fusion"
)

// Summary is the mean NDCG over the non-excluded results.
type Summary struct {
	Mean      float64 `json:"mean_ndcg"`
	Evaluated int     `json:"evaluated"`
	Excluded  int     `json:"excluded"`
}

// Aggregate averages results, skipping excluded ones.
func Aggregate(results []Result) Summary {
	var (
		s   Summary
		sum float64
	)
	for _, r := range results {
		if r.Excluded {
			s.Excluded++
			continue
		}
		s.Evaluated++
		sum += r.NDCG
	}
	if s.Evaluated > 0 {
		s.Mean = sum / float64(s.Evaluated)
	}
	return s
}

// Accumulator collects results per algorithm. It is safe for concurrent use.
type Accumulator struct {
	mu      sync.Mutex
	results map[fusion.Algorithm][]Result
}

func NewAccumulator() *Accumulator {
	return &Accumulator{results: make(map[fusion.Algorithm][]Result)}
}

// Add records r under alg.
func (a *Accumulator) Add(alg fusion.Algorithm, r Result) {
	a.mu.Lock()
	a.results[alg] = append(a.results[alg], r)
	a.mu.Unlock()
}

// Summary aggregates everything recorded under alg.
func (a *Accumulator) Summary(alg fusion.Algorithm) Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Aggregate(a.results[alg])
}

// Results returns a copy of the results recorded under alg.
func (a *Accumulator) Results(alg fusion.Algorithm) []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Result(nil), a.results[alg]...)
}
