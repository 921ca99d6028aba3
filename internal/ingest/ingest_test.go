package ingest_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/akhenakh/rankfuse/internal/ingest"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{"query_id":"q1","query":"greek yogurt","passages":[{"id":"P1","text":"strained yogurt","rank":1,"scores":{"lexical":0.18,"vector":0.67}},{"id":"P2","text":"plain milk","rank":2}]}

{"query_id":"q2","query":"olive oil","passages":[{"id":"P2","text":"plain milk","rank":2},{"id":"P3","rank":1}]}
`

func TestReaderNext(t *testing.T) {
	r := ingest.NewReader(strings.NewReader(sample))

	q, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "q1", q.ID)
	assert.Equal(t, []string{"P1", "P2"}, q.Candidates())
	assert.Equal(t, map[string]int{"P1": 1, "P2": 2}, q.Ranks())
	assert.Equal(t, 0.67, q.Passages[0].Scores["vector"])

	q, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "q2", q.ID)

	_, err = r.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestReaderMalformedLine(t *testing.T) {
	r := ingest.NewReader(strings.NewReader("{\"query_id\":\"q1\"}\n{oops\n"))
	_, err := r.Next()
	require.NoError(t, err)

	_, err = r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReaderMissingQueryID(t *testing.T) {
	r := ingest.NewReader(strings.NewReader(`{"query":"x"}`))
	_, err := r.Next()
	assert.Error(t, err)
}

func TestOpenZstd(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	path := filepath.Join(t.TempDir(), "eval.jsonl.zst")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	r, err := ingest.Open(path)
	require.NoError(t, err)
	defer r.Close()

	queries, err := ingest.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, queries, 2)
}

func TestOpenPlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	r, err := ingest.Open(path)
	require.NoError(t, err)
	queries, err := ingest.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Len(t, queries, 2)
}

type memIndexer struct {
	docs map[string]string
	fail string
}

func (m *memIndexer) IndexDocument(collection, id, content string) error {
	if id == m.fail {
		return errors.New("boom")
	}
	m.docs[collection+"/"+id] = content
	return nil
}

func TestIndexDataset(t *testing.T) {
	idx := &memIndexer{docs: map[string]string{}}
	stats, err := ingest.IndexDataset(idx, ingest.NewReader(strings.NewReader(sample)), "eval", nil)
	require.NoError(t, err)

	assert.Equal(t, ingest.Stats{Queries: 2, Passages: 2, Skipped: 1}, stats)
	assert.Equal(t, "strained yogurt", idx.docs["eval/P1"])
	assert.Equal(t, "plain milk", idx.docs["eval/P2"])
}

func TestIndexDatasetIndexerError(t *testing.T) {
	idx := &memIndexer{docs: map[string]string{}, fail: "P1"}
	stats, err := ingest.IndexDataset(idx, ingest.NewReader(strings.NewReader(sample)), "eval", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Passages)
	assert.Equal(t, 2, stats.Skipped)
}
