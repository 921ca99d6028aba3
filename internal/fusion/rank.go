package fusion

// bordaScores gives L points to first place and 1 to last place of every
// signal ranking, scaled by the signal weight.
func bordaScores(in *Input) map[string]float64 {
	acc := in.newAccumulator()
	for i, r := range in.rankings {
		l := float64(len(r))
		for j, id := range r {
			acc[id] += in.weights[i] * (l - float64(j))
		}
	}
	return acc
}

// rrfScores sums w / (j + k) with j the 0-indexed position.
func rrfScores(in *Input, k float64) map[string]float64 {
	acc := in.newAccumulator()
	for i, r := range in.rankings {
		for j, id := range r {
			acc[id] += in.weights[i] / (float64(j) + k)
		}
	}
	return acc
}
