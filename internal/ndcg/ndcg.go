// Package ndcg scores fused rankings against ground truth ranks with
// normalized discounted cumulative gain.
package ndcg

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/akhenakh/rankfuse/internal/fusion"
)

var (
	ErrEmptyResult     = errors.New("ndcg: empty search result")
	ErrNegativeRank    = errors.New("ndcg: negative rank")
	ErrUndefinedMetric = errors.New("ndcg: ideal DCG is zero")
)

// SearchResult is one query's predicted ordering. Position encodes the
// prediction, Rank the known relevance ordinal (smaller is more relevant).
type SearchResult struct {
	QueryID string               `json:"query_id"`
	Scores  []fusion.RankedScore `json:"scores"`
}

// Result is one evaluation outcome. Excluded is set when the ideal DCG was
// zero; NDCG is then reported as 0 and left out of any mean.
type Result struct {
	QueryID  string  `json:"query_id"`
	NDCG     float64 `json:"ndcg"`
	Excluded bool    `json:"excluded,omitempty"`
}

// Options tunes the evaluation. K > 0 truncates DCG and IDCG at K.
type Options struct {
	K int
}

// Evaluate computes the NDCG of sr rounded to 4 decimal digits.
func Evaluate(sr SearchResult, opts Options) (Result, error) {
	res := Result{QueryID: sr.QueryID}
	if len(sr.Scores) == 0 {
		return res, ErrEmptyResult
	}

	l := len(sr.Scores)
	gains := make([]float64, l)
	for i, s := range sr.Scores {
		if s.Rank < 0 {
			return res, fmt.Errorf("%w: %d for id %q", ErrNegativeRank, s.Rank, s.ID)
		}
		gains[i] = float64(l - s.Rank + 1)
	}

	dcg := DCG(gains, opts.K)

	ideal := append([]float64(nil), gains...)
	sort.Sort(sort.Reverse(sort.Float64Slice(ideal)))
	idcg := DCG(ideal, opts.K)

	if idcg <= 0 {
		res.Excluded = true
		return res, nil
	}
	res.NDCG = math.Round(dcg/idcg*1e4) / 1e4
	return res, nil
}

// EvaluateStrict is Evaluate but reports a zero ideal DCG as
// ErrUndefinedMetric instead of an excluded result.
func EvaluateStrict(sr SearchResult, opts Options) (Result, error) {
	res, err := Evaluate(sr, opts)
	if err != nil {
		return res, err
	}
	if res.Excluded {
		return res, fmt.Errorf("%w (query %q)", ErrUndefinedMetric, sr.QueryID)
	}
	return res, nil
}

// DCG returns sum((g^2 - 1) / log2(i + 2)) over the first k gains, or all
// of them when k <= 0.
func DCG(gains []float64, k int) float64 {
	n := len(gains)
	if k > 0 && k < n {
		n = k
	}
	var dcg float64
	for i := 0; i < n; i++ {
		dcg += (gains[i]*gains[i] - 1) / math.Log2(float64(i+2))
	}
	return dcg
}
