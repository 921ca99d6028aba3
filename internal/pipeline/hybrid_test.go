package pipeline_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/akhenakh/rankfuse/internal/fusion"
	"github.com/akhenakh/rankfuse/internal/llm"
	"github.com/akhenakh/rankfuse/internal/pipeline"
	"github.com/akhenakh/rankfuse/internal/store"
	"github.com/akhenakh/rankfuse/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type axisEmbedder struct{}

func (axisEmbedder) Embed(context.Context, string, llm.Role) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (axisEmbedder) Close() error { return nil }

func hybridStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "hybrid.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureVectorTable(3))

	docs := map[string]struct {
		text string
		vec  []float32
	}{
		"lex":  {"solar panels and solar power", []float32{0, 1, 0}},
		"sem":  {"photovoltaic energy from the sun", []float32{1, 0, 0}},
		"both": {"solar energy", []float32{0.8, 0.6, 0}},
	}
	for id, d := range docs {
		require.NoError(t, s.IndexDocument("docs", id, d.text))
		require.NoError(t, s.SaveEmbedding(util.HashContent(d.text), 0, d.vec))
	}
	require.NoError(t, s.IndexDocument("other", "elsewhere", "solar solar solar"))
	return s
}

func TestHybrid(t *testing.T) {
	s := hybridStore(t)

	hits, res, err := pipeline.Hybrid(context.Background(), s, axisEmbedder{}, "solar", pipeline.HybridOptions{
		Collection: "docs",
		Algorithm:  fusion.RSF,
		Limit:      10,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Len(t, hits, 3, "union of lexical and vector candidates within the collection")
	assert.Equal(t, fusion.RSF, res.Algorithm)

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.DocID
		assert.Equal(t, "docs", h.Collection)
	}
	assert.ElementsMatch(t, []string{"lex", "sem", "both"}, ids)
	assert.Equal(t, "both", ids[0], "strong on both signals should win")
}

func TestHybridSignalWeights(t *testing.T) {
	s := hybridStore(t)

	hits, _, err := pipeline.Hybrid(context.Background(), s, axisEmbedder{}, "solar", pipeline.HybridOptions{
		Collection:   "docs",
		Algorithm:    fusion.RSF,
		Limit:        10,
		VectorWeight: 10,
	})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "sem", hits[0].DocID, "a heavy vector weight should favour the best vector match")
	assert.InDelta(t, 10.0, hits[0].Score, 1e-9)
}

func TestHybridLexicalOnly(t *testing.T) {
	s := hybridStore(t)

	hits, res, err := pipeline.Hybrid(context.Background(), s, nil, "photovoltaic", pipeline.HybridOptions{Collection: "docs", Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "sem", hits[0].DocID)
	assert.Equal(t, fusion.RRF, res.Algorithm)
}

func TestHybridNoCandidates(t *testing.T) {
	s := hybridStore(t)

	hits, res, err := pipeline.Hybrid(context.Background(), s, nil, "zebra", pipeline.HybridOptions{Collection: "docs"})
	require.NoError(t, err)
	assert.Nil(t, hits)
	assert.Nil(t, res)
}
