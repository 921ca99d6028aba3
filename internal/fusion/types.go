package fusion

import (
	"math"
	"sort"
)

// ScoreEntry is one candidate's score from one signal.
type ScoreEntry struct {
	ID           string  `json:"id"`
	Score        float64 `json:"score"`
	OriginalRank int     `json:"rank,omitempty"`
}

// ScoreList holds one signal's results for one query.
type ScoreList []ScoreEntry

// Ranking is an ordered sequence of ids, best first.
type Ranking []string

// RankedScore is the unit handed to the evaluator: a fused position score
// plus the ground truth rank the id carried before fusion.
type RankedScore struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Input is a validated set of signal lists for a single query.
// It is never mutated after NewInput returns, so several algorithms can
// read it at the same time.
type Input struct {
	lists    []ScoreList
	weights  []float64
	ids      []string
	rankings []Ranking
}

// NewInput validates the signal lists and derives one ranking per signal.
// A nil weights slice gives every signal a weight of 1.0.
func NewInput(lists []ScoreList, weights []float64) (*Input, error) {
	if len(lists) == 0 {
		return nil, newValidationError(ErrNoSignals, -1, "", "no signal lists")
	}
	if weights == nil {
		weights = make([]float64, len(lists))
		for i := range weights {
			weights[i] = 1.0
		}
	}
	if len(weights) != len(lists) {
		return nil, newValidationError(ErrWeightCount, -1, "",
			"got %d weights for %d signals", len(weights), len(lists))
	}
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, newValidationError(ErrInvalidScore, i, "", "weight is %v", w)
		}
	}

	reference, err := idSet(lists[0], 0)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(lists); i++ {
		set, err := idSet(lists[i], i)
		if err != nil {
			return nil, err
		}
		if len(set) != len(reference) {
			return nil, newValidationError(ErrIDSetMismatch, i, "",
				"signal has %d ids, reference has %d", len(set), len(reference))
		}
		for id := range reference {
			if _, ok := set[id]; !ok {
				return nil, newValidationError(ErrIDSetMismatch, i, id, "id missing from signal")
			}
		}
	}

	ids := make([]string, 0, len(reference))
	for id := range reference {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	in := &Input{
		lists:    make([]ScoreList, len(lists)),
		weights:  append([]float64(nil), weights...),
		ids:      ids,
		rankings: make([]Ranking, len(lists)),
	}
	for i, list := range lists {
		in.lists[i] = append(ScoreList(nil), list...)
		in.rankings[i] = rank(in.lists[i])
	}
	return in, nil
}

func idSet(list ScoreList, signal int) (map[string]struct{}, error) {
	if len(list) == 0 {
		return nil, newValidationError(ErrEmptyList, signal, "", "signal list is empty")
	}
	set := make(map[string]struct{}, len(list))
	for _, e := range list {
		if math.IsNaN(e.Score) || math.IsInf(e.Score, 0) {
			return nil, newValidationError(ErrInvalidScore, signal, e.ID, "score is %v", e.Score)
		}
		if e.OriginalRank < 0 {
			return nil, newValidationError(ErrNegativeRank, signal, e.ID, "rank %d", e.OriginalRank)
		}
		if _, dup := set[e.ID]; dup {
			return nil, newValidationError(ErrDuplicateID, signal, e.ID, "id appears twice")
		}
		set[e.ID] = struct{}{}
	}
	return set, nil
}

// rank orders entries by descending score, ascending id on ties.
func rank(list ScoreList) Ranking {
	sorted := append(ScoreList(nil), list...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score == sorted[j].Score {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Score > sorted[j].Score
	})
	out := make(Ranking, len(sorted))
	for i, e := range sorted {
		out[i] = e.ID
	}
	return out
}

// Signals returns the number of signal lists.
func (in *Input) Signals() int { return len(in.lists) }

// IDs returns the shared id set in ascending order.
func (in *Input) IDs() []string { return append([]string(nil), in.ids...) }

// Weight returns the weight of signal i.
func (in *Input) Weight(i int) float64 { return in.weights[i] }

// Ranking returns the cached ranking of signal i.
func (in *Input) Ranking(i int) Ranking { return append(Ranking(nil), in.rankings[i]...) }

// Reference returns the first signal list, which carries the ground truth
// ranks used by the reformatter.
func (in *Input) Reference() ScoreList { return append(ScoreList(nil), in.lists[0]...) }

func (in *Input) newAccumulator() map[string]float64 {
	acc := make(map[string]float64, len(in.ids))
	for _, id := range in.ids {
		acc[id] = 0
	}
	return acc
}
