// Package fusion merges several per-signal score lists for one query into a
// single ranking and turns that ranking into input for the NDCG evaluator.
package fusion

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
)

// Algorithm names a rank fusion method.
type Algorithm string

const (
	Borda Algorithm = "borda"
	DBSF  Algorithm = "dbsf"
	RRF   Algorithm = "rrf"
	RSF   Algorithm = "rsf"
)

// DefaultRRFK is the usual RRF smoothing constant.
const DefaultRRFK = 60.0

// Algorithms lists every supported algorithm in report order.
func Algorithms() []Algorithm {
	return []Algorithm{Borda, DBSF, RRF, RSF}
}

// ParseAlgorithm maps a name such as "RRF" or "dbsf" to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Algorithms() {
		if alg == known {
			return alg, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, name)
}

// Options carries algorithm parameters. K only applies to RRF; zero means
// DefaultRRFK. Logger, when set, receives a warning for every signal whose
// scores cannot be normalized.
type Options struct {
	K      float64
	Logger *slog.Logger
}

// DegenerateDistribution records a signal whose scores had zero variance
// (DBSF) or zero range (RSF). That signal contributed 0 for every id.
type DegenerateDistribution struct {
	Algorithm Algorithm `json:"algorithm"`
	Signal    int       `json:"signal"`
}

// ScoredID is one row of the diagnostics table.
type ScoredID struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Result is the output of one fusion call.
type Result struct {
	Algorithm  Algorithm
	Ranking    Ranking
	Scores     map[string]float64
	Degenerate []DegenerateDistribution
}

// Table returns the accumulated score of every id in fused order.
func (r *Result) Table() []ScoredID {
	out := make([]ScoredID, len(r.Ranking))
	for i, id := range r.Ranking {
		out[i] = ScoredID{ID: id, Score: r.Scores[id]}
	}
	return out
}

// Strategy is a fusion algorithm bound to its parameters.
type Strategy interface {
	Name() Algorithm
	Fuse(in *Input) (*Result, error)
}

type strategy struct {
	name Algorithm
	opts Options
}

// NewStrategy returns the strategy for alg.
func NewStrategy(alg Algorithm, opts Options) (Strategy, error) {
	switch alg {
	case Borda, DBSF, RSF:
	case RRF:
		k, err := rrfK(opts.K)
		if err != nil {
			return nil, err
		}
		opts.K = k
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknown, string(alg))
	}
	return &strategy{name: alg, opts: opts}, nil
}

func (s *strategy) Name() Algorithm { return s.name }

func (s *strategy) Fuse(in *Input) (*Result, error) {
	return Fuse(in, s.name, s.opts)
}

// Fuse runs alg over in.
func Fuse(in *Input, alg Algorithm, opts Options) (*Result, error) {
	if in == nil {
		return nil, newValidationError(ErrNoSignals, -1, "", "nil input")
	}

	var (
		acc        map[string]float64
		degenerate []int
	)
	switch alg {
	case Borda:
		acc = bordaScores(in)
	case DBSF:
		acc, degenerate = dbsfScores(in)
	case RRF:
		k, err := rrfK(opts.K)
		if err != nil {
			return nil, err
		}
		acc = rrfScores(in, k)
	case RSF:
		acc, degenerate = rsfScores(in)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknown, string(alg))
	}

	res := &Result{
		Algorithm: alg,
		Ranking:   order(acc),
		Scores:    acc,
	}
	for _, signal := range degenerate {
		res.Degenerate = append(res.Degenerate, DegenerateDistribution{Algorithm: alg, Signal: signal})
		if opts.Logger != nil {
			opts.Logger.Warn("degenerate score distribution, signal contributes 0",
				"algorithm", string(alg),
				"signal", signal,
			)
		}
	}
	return res, nil
}

// BordaCount fuses in with Borda count and returns the ranking.
func BordaCount(in *Input) (Ranking, error) { return ranking(Fuse(in, Borda, Options{})) }

// DistributionBased fuses in with z-score normalization.
func DistributionBased(in *Input) (Ranking, error) { return ranking(Fuse(in, DBSF, Options{})) }

// ReciprocalRank fuses in with reciprocal rank fusion using constant k.
func ReciprocalRank(in *Input, k float64) (Ranking, error) {
	if k == 0 {
		return nil, newValidationError(ErrInvalidK, -1, "", "k = %v", k)
	}
	return ranking(Fuse(in, RRF, Options{K: k}))
}

// rrfK maps 0 to DefaultRRFK and rejects any k that is not a finite
// positive number.
func rrfK(k float64) (float64, error) {
	if k == 0 {
		return DefaultRRFK, nil
	}
	if math.IsNaN(k) || math.IsInf(k, 0) || k < 0 {
		return 0, newValidationError(ErrInvalidK, -1, "", "k = %v", k)
	}
	return k, nil
}

// RelativeScore fuses in with min-max normalization.
func RelativeScore(in *Input) (Ranking, error) { return ranking(Fuse(in, RSF, Options{})) }

func ranking(res *Result, err error) (Ranking, error) {
	if err != nil {
		return nil, err
	}
	return res.Ranking, nil
}

func order(acc map[string]float64) Ranking {
	out := make(Ranking, 0, len(acc))
	for id := range acc {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := acc[out[i]], acc[out[j]]
		if si == sj {
			return out[i] < out[j]
		}
		return si > sj
	})
	return out
}
