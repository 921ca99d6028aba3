package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/akhenakh/rankfuse/internal/store"
	"github.com/akhenakh/rankfuse/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "rankfuse_test.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestFTS_InternalState verifies that the triggers populate the FTS table.
func TestFTS_InternalState(t *testing.T) {
	s := setupStore(t)

	content := "Search test content"
	require.NoError(t, s.IndexDocument("debug", "p1", content))

	var count int
	require.NoError(t, s.DB.QueryRow("SELECT COUNT(*) FROM documents").Scan(&count))
	assert.Equal(t, 1, count, "documents table should have 1 row")

	var id, body string
	require.NoError(t, s.DB.QueryRow("SELECT doc_id, body FROM documents_fts LIMIT 1").Scan(&id, &body))
	assert.Equal(t, "p1", id)
	assert.Equal(t, content, body, "FTS body should match inserted content")
}

func TestSearchFTS_Basic(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.IndexDocument("work", "alpha", "We are discussing the architecture of Project Alpha."))
	require.NoError(t, s.IndexDocument("work", "beta", "Lunch menu for Thursday."))

	results, err := s.SearchFTS(ctx, "architecture", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].DocID)
	assert.Equal(t, "work", results[0].Collection)
	assert.Greater(t, results[0].Score, 0.0, "negated bm25 should be positive")
}

func TestSearchFTS_SanitizesQuery(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.IndexDocument("work", "alpha", "the quick brown fox"))

	// Bare FTS operators would be a syntax error if passed through.
	results, err := s.SearchFTS(ctx, `fox AND "NEAR(`, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = s.SearchFTS(ctx, "  ?! ", 10)
	assert.ErrorIs(t, err, store.ErrEmptyQuery)
}

func TestIndexAndGetDocument(t *testing.T) {
	s := setupStore(t)

	content := "This is a test content body."
	require.NoError(t, s.IndexDocument("notes", "n1", content))

	retrieved, err := s.GetDocument("notes", "n1")
	require.NoError(t, err)
	assert.Equal(t, content, retrieved)

	_, err = s.GetDocument("notes", "missing")
	assert.Error(t, err)
}

func TestUpdateDocument(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.IndexDocument("main", "u1", "This is the initial version."))

	res, err := s.SearchFTS(ctx, "initial", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)

	require.NoError(t, s.IndexDocument("main", "u1", "This is the updated version."))

	res, err = s.SearchFTS(ctx, "initial", 10)
	require.NoError(t, err)
	assert.Len(t, res, 0, "old content should be removed from FTS index")

	res, err = s.SearchFTS(ctx, "updated", 10)
	require.NoError(t, err)
	assert.Len(t, res, 1, "new content should be present in FTS index")
}

func TestScoreLexical(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.IndexDocument("q", "p1", "solar panels convert sunlight into power"))
	require.NoError(t, s.IndexDocument("q", "p2", "the cat sat on the mat"))
	require.NoError(t, s.IndexDocument("other", "p3", "solar power elsewhere"))

	scores, err := s.ScoreLexical(ctx, "q", "solar power", []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Greater(t, scores["p1"], 0.0)
	assert.Equal(t, 0.0, scores["p2"], "non matching candidate scores zero")
	assert.Equal(t, 0.0, scores["p3"], "other collections are not scored")

	scores, err = s.ScoreLexical(ctx, "q", "", []string{"p1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"p1": 0}, scores)
}

func TestVectorTableDimension(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "dim.sqlite")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)

	assert.Equal(t, 0, s.VectorDim())
	assert.ErrorIs(t, s.SaveEmbedding("h", 0, []float32{1}), store.ErrNoVectorTable)
	assert.Error(t, s.EnsureVectorTable(0))

	require.NoError(t, s.EnsureVectorTable(4))
	require.NoError(t, s.EnsureVectorTable(4))
	assert.Error(t, s.EnsureVectorTable(8))
	require.NoError(t, s.Close())

	s, err = store.NewStore(dbPath)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 4, s.VectorDim(), "dimension should persist across opens")
}

func TestVectors(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureVectorTable(4))

	require.NoError(t, s.IndexDocument("vec", "near", "near content"))
	require.NoError(t, s.IndexDocument("vec", "far", "far content"))
	require.NoError(t, s.IndexDocument("vec", "bare", "no embedding"))

	pending, err := s.GetPendingEmbeddings()
	require.NoError(t, err)
	require.Len(t, pending, 3)

	nearHash := util.HashContent("near content")
	farHash := util.HashContent("far content")
	require.NoError(t, s.SaveEmbedding(nearHash, 0, []float32{1, 0, 0, 0}))
	require.NoError(t, s.SaveEmbedding(farHash, 0, []float32{0, 1, 0, 0}))
	assert.Error(t, s.SaveEmbedding(farHash, 1, []float32{0, 1}), "dimension mismatch")

	pending, err = s.GetPendingEmbeddings()
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	query := []float32{1, 0, 0, 0}
	results, err := s.SearchVec(ctx, query, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].DocID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)

	scores, err := s.ScoreVector(ctx, "vec", query, []string{"near", "far", "bare"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores["near"], 1e-5)
	assert.InDelta(t, 0.0, scores["far"], 1e-5)
	assert.Equal(t, 0.0, scores["bare"])

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDocuments)
	assert.Equal(t, 1, stats.Collections)
	assert.Equal(t, 2, stats.Embeddings)
	assert.Equal(t, 4, stats.VectorDim)
}
