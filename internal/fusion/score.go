package fusion

import "math"

// dbsfScores accumulates weighted z-scores. Signals with zero variance add
// nothing and are returned in degenerate.
func dbsfScores(in *Input) (acc map[string]float64, degenerate []int) {
	acc = in.newAccumulator()
	for i, list := range in.lists {
		// constant lists leave rounding noise in std, test the raw values
		if lo, hi := minMax(list); lo == hi {
			degenerate = append(degenerate, i)
			continue
		}
		mean, std := meanStd(list)
		if std == 0 {
			degenerate = append(degenerate, i)
			continue
		}
		for _, e := range list {
			acc[e.ID] += in.weights[i] * (e.Score - mean) / std
		}
	}
	return acc, degenerate
}

// rsfScores accumulates weighted min-max normalized scores. Signals whose
// scores are all equal add nothing and are returned in degenerate.
func rsfScores(in *Input) (acc map[string]float64, degenerate []int) {
	acc = in.newAccumulator()
	for i, list := range in.lists {
		lo, hi := minMax(list)
		if hi == lo {
			degenerate = append(degenerate, i)
			continue
		}
		for _, e := range list {
			acc[e.ID] += in.weights[i] * (e.Score - lo) / (hi - lo)
		}
	}
	return acc, degenerate
}

// meanStd returns the population mean and standard deviation.
func meanStd(list ScoreList) (mean, std float64) {
	n := float64(len(list))
	for _, e := range list {
		mean += e.Score
	}
	mean /= n
	var sq float64
	for _, e := range list {
		d := e.Score - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / n)
}

func minMax(list ScoreList) (lo, hi float64) {
	lo, hi = list[0].Score, list[0].Score
	for _, e := range list[1:] {
		lo = math.Min(lo, e.Score)
		hi = math.Max(hi, e.Score)
	}
	return lo, hi
}
