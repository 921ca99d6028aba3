package fusion_test

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/akhenakh/rankfuse/internal/fusion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func referenceInput(t *testing.T) *fusion.Input {
	t.Helper()
	tfidf := fusion.ScoreList{
		{ID: "P1", Score: 0.1874, OriginalRank: 1},
		{ID: "P2", Score: 0.1241, OriginalRank: 2},
		{ID: "P3", Score: 0.081, OriginalRank: 3},
		{ID: "P4", Score: 0.2077, OriginalRank: 4},
		{ID: "P5", Score: 0.0597, OriginalRank: 5},
	}
	cosine := fusion.ScoreList{
		{ID: "P1", Score: 0.6761, OriginalRank: 1},
		{ID: "P2", Score: 0.6549, OriginalRank: 2},
		{ID: "P3", Score: 0.7479, OriginalRank: 3},
		{ID: "P4", Score: 0.6304, OriginalRank: 4},
		{ID: "P5", Score: 0.6868, OriginalRank: 5},
	}
	in, err := fusion.NewInput([]fusion.ScoreList{tfidf, cosine}, nil)
	require.NoError(t, err)
	return in
}

func TestReferenceScenario(t *testing.T) {
	in := referenceInput(t)

	tests := []struct {
		alg  fusion.Algorithm
		want fusion.Ranking
	}{
		{fusion.Borda, fusion.Ranking{"P1", "P3", "P4", "P2", "P5"}},
		{fusion.DBSF, fusion.Ranking{"P1", "P3", "P4", "P2", "P5"}},
		{fusion.RRF, fusion.Ranking{"P3", "P1", "P4", "P5", "P2"}},
		{fusion.RSF, fusion.Ranking{"P1", "P3", "P4", "P2", "P5"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			res, err := fusion.Fuse(in, tt.alg, fusion.Options{K: 60})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Ranking)
			assert.Empty(t, res.Degenerate)
		})
	}
}

func TestHelpers(t *testing.T) {
	in := referenceInput(t)

	r, err := fusion.BordaCount(in)
	require.NoError(t, err)
	assert.Equal(t, fusion.Ranking{"P1", "P3", "P4", "P2", "P5"}, r)

	r, err = fusion.ReciprocalRank(in, 60)
	require.NoError(t, err)
	assert.Equal(t, fusion.Ranking{"P3", "P1", "P4", "P5", "P2"}, r)

	_, err = fusion.ReciprocalRank(in, 0)
	assert.ErrorIs(t, err, fusion.ErrInvalidK)

	r, err = fusion.DistributionBased(in)
	require.NoError(t, err)
	assert.Equal(t, "P1", r[0])

	r, err = fusion.RelativeScore(in)
	require.NoError(t, err)
	assert.Equal(t, "P5", r[len(r)-1])
}

func TestBordaPoints(t *testing.T) {
	in := referenceInput(t)
	res, err := fusion.Fuse(in, fusion.Borda, fusion.Options{})
	require.NoError(t, err)

	assert.Equal(t, 7.0, res.Scores["P1"])
	assert.Equal(t, 5.0, res.Scores["P2"])
	assert.Equal(t, 7.0, res.Scores["P3"])
	assert.Equal(t, 6.0, res.Scores["P4"])
	assert.Equal(t, 5.0, res.Scores["P5"])

	table := res.Table()
	require.Len(t, table, 5)
	assert.Equal(t, fusion.ScoredID{ID: "P1", Score: 7}, table[0])
}

func TestRRFScores(t *testing.T) {
	in := referenceInput(t)
	res, err := fusion.Fuse(in, fusion.RRF, fusion.Options{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/63+1.0/60, res.Scores["P3"], 1e-12)
	assert.InDelta(t, 1.0/61+1.0/62, res.Scores["P1"], 1e-12)
}

func TestPermutation(t *testing.T) {
	in := referenceInput(t)
	for _, alg := range fusion.Algorithms() {
		res, err := fusion.Fuse(in, alg, fusion.Options{})
		require.NoError(t, err)

		got := append([]string(nil), res.Ranking...)
		sort.Strings(got)
		assert.Equal(t, in.IDs(), got, alg)
	}
}

func TestRRFWeightScaleInvariance(t *testing.T) {
	lists := []fusion.ScoreList{
		{{ID: "a", Score: 3}, {ID: "b", Score: 2}, {ID: "c", Score: 1}, {ID: "d", Score: 0.5}},
		{{ID: "a", Score: 0.1}, {ID: "b", Score: 0.9}, {ID: "c", Score: 0.4}, {ID: "d", Score: 0.7}},
	}
	base, err := fusion.NewInput(lists, []float64{0.3, 0.7})
	require.NoError(t, err)
	scaled, err := fusion.NewInput(lists, []float64{3, 7})
	require.NoError(t, err)

	want, err := fusion.ReciprocalRank(base, 60)
	require.NoError(t, err)
	got, err := fusion.ReciprocalRank(scaled, 60)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRankOnlyAlgorithmsIgnoreMagnitude(t *testing.T) {
	small := []fusion.ScoreList{
		{{ID: "a", Score: 0.3}, {ID: "b", Score: 0.2}, {ID: "c", Score: 0.1}},
		{{ID: "a", Score: 0.01}, {ID: "b", Score: 0.05}, {ID: "c", Score: 0.03}},
	}
	large := []fusion.ScoreList{
		{{ID: "a", Score: 900}, {ID: "b", Score: 12}, {ID: "c", Score: -4}},
		{{ID: "a", Score: 1}, {ID: "b", Score: 1e6}, {ID: "c", Score: 50}},
	}
	a, err := fusion.NewInput(small, nil)
	require.NoError(t, err)
	b, err := fusion.NewInput(large, nil)
	require.NoError(t, err)

	for _, alg := range []fusion.Algorithm{fusion.Borda, fusion.RRF} {
		ra, err := fusion.Fuse(a, alg, fusion.Options{})
		require.NoError(t, err)
		rb, err := fusion.Fuse(b, alg, fusion.Options{})
		require.NoError(t, err)
		assert.Equal(t, ra.Ranking, rb.Ranking, alg)
	}
}

func TestTieBreakByID(t *testing.T) {
	lists := []fusion.ScoreList{
		{{ID: "z", Score: 1}, {ID: "m", Score: 1}, {ID: "a", Score: 1}},
	}
	in, err := fusion.NewInput(lists, nil)
	require.NoError(t, err)
	assert.Equal(t, fusion.Ranking{"a", "m", "z"}, in.Ranking(0))

	res, err := fusion.Fuse(in, fusion.Borda, fusion.Options{})
	require.NoError(t, err)
	assert.Equal(t, fusion.Ranking{"a", "m", "z"}, res.Ranking)
}

func TestDegenerateSignal(t *testing.T) {
	lists := []fusion.ScoreList{
		{{ID: "a", Score: 0.5}, {ID: "b", Score: 0.5}, {ID: "c", Score: 0.5}},
		{{ID: "a", Score: 0.1}, {ID: "b", Score: 0.9}, {ID: "c", Score: 0.4}},
	}
	in, err := fusion.NewInput(lists, nil)
	require.NoError(t, err)

	for _, alg := range []fusion.Algorithm{fusion.DBSF, fusion.RSF} {
		res, err := fusion.Fuse(in, alg, fusion.Options{})
		require.NoError(t, err)
		assert.Equal(t, fusion.Ranking{"b", "c", "a"}, res.Ranking, alg)
		assert.Equal(t, []fusion.DegenerateDistribution{{Algorithm: alg, Signal: 0}}, res.Degenerate)
		for id, score := range res.Scores {
			assert.False(t, math.IsNaN(score), "NaN score for %s", id)
		}
	}
}

func TestAllSignalsDegenerate(t *testing.T) {
	lists := []fusion.ScoreList{
		{{ID: "b", Score: 2}, {ID: "a", Score: 2}},
	}
	in, err := fusion.NewInput(lists, nil)
	require.NoError(t, err)

	res, err := fusion.Fuse(in, fusion.RSF, fusion.Options{})
	require.NoError(t, err)
	assert.Equal(t, fusion.Ranking{"a", "b"}, res.Ranking)
	assert.Equal(t, 0.0, res.Scores["a"])
}

func TestValidation(t *testing.T) {
	ok := fusion.ScoreList{{ID: "a", Score: 1}, {ID: "b", Score: 2}}

	tests := []struct {
		name    string
		lists   []fusion.ScoreList
		weights []float64
		kind    error
		signal  int
	}{
		{"no signals", nil, nil, fusion.ErrNoSignals, -1},
		{"weight count", []fusion.ScoreList{ok, ok}, []float64{1}, fusion.ErrWeightCount, -1},
		{"empty list", []fusion.ScoreList{ok, {}}, nil, fusion.ErrEmptyList, 1},
		{"subset", []fusion.ScoreList{ok, {{ID: "a", Score: 1}}}, nil, fusion.ErrIDSetMismatch, 1},
		{"same size other ids", []fusion.ScoreList{ok, {{ID: "a", Score: 1}, {ID: "c", Score: 1}}}, nil, fusion.ErrIDSetMismatch, 1},
		{"duplicate", []fusion.ScoreList{ok, {{ID: "a", Score: 1}, {ID: "a", Score: 2}}}, nil, fusion.ErrDuplicateID, 1},
		{"negative rank", []fusion.ScoreList{{{ID: "a", Score: 1, OriginalRank: -1}}}, nil, fusion.ErrNegativeRank, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := fusion.NewInput(tt.lists, tt.weights)
			require.Error(t, err)
			assert.Nil(t, in)
			assert.ErrorIs(t, err, tt.kind)

			var verr *fusion.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.signal, verr.Signal)
		})
	}
}

func TestStrategyFactory(t *testing.T) {
	in := referenceInput(t)

	s, err := fusion.NewStrategy(fusion.RRF, fusion.Options{})
	require.NoError(t, err)
	assert.Equal(t, fusion.RRF, s.Name())
	res, err := s.Fuse(in)
	require.NoError(t, err)
	assert.Equal(t, "P3", res.Ranking[0])

	_, err = fusion.NewStrategy(fusion.RRF, fusion.Options{K: -1})
	assert.ErrorIs(t, err, fusion.ErrInvalidK)

	_, err = fusion.NewStrategy("combsum", fusion.Options{})
	assert.ErrorIs(t, err, fusion.ErrUnknown)
}

func TestInvalidRRFK(t *testing.T) {
	lists := []fusion.ScoreList{{{ID: "a", Score: 1}, {ID: "b", Score: 2}}}
	in, err := fusion.NewInput(lists, nil)
	require.NoError(t, err)

	bad := []struct {
		name string
		k    float64
	}{
		{"nan", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"negative infinity", math.Inf(-1)},
		{"negative", -1},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fusion.NewStrategy(fusion.RRF, fusion.Options{K: tt.k})
			assert.ErrorIs(t, err, fusion.ErrInvalidK)

			_, err = fusion.Fuse(in, fusion.RRF, fusion.Options{K: tt.k})
			assert.ErrorIs(t, err, fusion.ErrInvalidK)

			_, err = fusion.ReciprocalRank(in, tt.k)
			assert.ErrorIs(t, err, fusion.ErrInvalidK)
		})
	}

	// zero selects the default through Options but is an explicit error here
	_, err = fusion.ReciprocalRank(in, 0)
	assert.ErrorIs(t, err, fusion.ErrInvalidK)

	res, err := fusion.Fuse(in, fusion.RRF, fusion.Options{})
	require.NoError(t, err)
	assert.Equal(t, fusion.Ranking{"b", "a"}, res.Ranking)
	assert.InDelta(t, 1.0/fusion.DefaultRRFK, res.Scores["b"], 1e-12)

	r, err := fusion.ReciprocalRank(in, 1)
	require.NoError(t, err)
	assert.Equal(t, fusion.Ranking{"b", "a"}, r)
}

func TestDBSFConstantDecimalScores(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g"}
	varying := []float64{0.3, 0.2, 0.1, 0.7, 0.5, 0.4, 0.6}
	constant := make(fusion.ScoreList, len(ids))
	other := make(fusion.ScoreList, len(ids))
	for i, id := range ids {
		constant[i] = fusion.ScoreEntry{ID: id, Score: 0.1}
		other[i] = fusion.ScoreEntry{ID: id, Score: varying[i]}
	}
	in, err := fusion.NewInput([]fusion.ScoreList{constant, other}, nil)
	require.NoError(t, err)
	alone, err := fusion.NewInput([]fusion.ScoreList{other}, nil)
	require.NoError(t, err)

	res, err := fusion.Fuse(in, fusion.DBSF, fusion.Options{})
	require.NoError(t, err)
	assert.Equal(t, []fusion.DegenerateDistribution{{Algorithm: fusion.DBSF, Signal: 0}}, res.Degenerate)

	want, err := fusion.Fuse(alone, fusion.DBSF, fusion.Options{})
	require.NoError(t, err)
	assert.Equal(t, want.Ranking, res.Ranking)
	for _, id := range ids {
		assert.InDelta(t, want.Scores[id], res.Scores[id], 1e-12, "constant signal must contribute 0 to %s", id)
	}
}

func TestParseAlgorithm(t *testing.T) {
	alg, err := fusion.ParseAlgorithm(" DBSF ")
	require.NoError(t, err)
	assert.Equal(t, fusion.DBSF, alg)

	_, err = fusion.ParseAlgorithm("nope")
	assert.ErrorIs(t, err, fusion.ErrUnknown)
}

func TestInputIsNotAliased(t *testing.T) {
	list := fusion.ScoreList{{ID: "a", Score: 1}, {ID: "b", Score: 2}}
	in, err := fusion.NewInput([]fusion.ScoreList{list}, nil)
	require.NoError(t, err)

	list[0].Score = 100
	assert.Equal(t, fusion.Ranking{"b", "a"}, in.Ranking(0))
}
