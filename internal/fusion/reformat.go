package fusion

// Reformat turns a fused ranking of length N into RankedScores: position i
// gets score N-i and the ground truth rank of the matching reference entry.
func Reformat(r Ranking, reference ScoreList) ([]RankedScore, error) {
	ranks := make(map[string]int, len(reference))
	for _, e := range reference {
		ranks[e.ID] = e.OriginalRank
	}

	n := len(r)
	out := make([]RankedScore, 0, n)
	for i, id := range r {
		rank, ok := ranks[id]
		if !ok {
			return nil, &LookupMismatchError{ID: id}
		}
		out = append(out, RankedScore{
			ID:    id,
			Score: float64(n - i),
			Rank:  rank,
		})
	}
	return out, nil
}

// Reformat reformats res against the input's reference list.
func (in *Input) Reformat(res *Result) ([]RankedScore, error) {
	return Reformat(res.Ranking, in.lists[0])
}
