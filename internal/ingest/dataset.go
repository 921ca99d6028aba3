package ingest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Passage is one judged candidate for a query. Rank is the ground truth
// ordinal (1 is the most relevant). Scores optionally carries precomputed
// signal scores keyed by signal name.
type Passage struct {
	ID     string             `json:"id"`
	Text   string             `json:"text,omitempty"`
	Rank   int                `json:"rank"`
	Scores map[string]float64 `json:"scores,omitempty"`
}

// Query is one line of an evaluation dataset.
type Query struct {
	ID       string    `json:"query_id"`
	Text     string    `json:"query"`
	Passages []Passage `json:"passages"`
}

// Candidates returns the passage ids in dataset order.
func (q Query) Candidates() []string {
	ids := make([]string, len(q.Passages))
	for i, p := range q.Passages {
		ids[i] = p.ID
	}
	return ids
}

// Ranks maps passage id to ground truth rank.
func (q Query) Ranks() map[string]int {
	ranks := make(map[string]int, len(q.Passages))
	for _, p := range q.Passages {
		ranks[p.ID] = p.Rank
	}
	return ranks
}

// Reader streams queries from a JSON Lines dataset, one query per line.
type Reader struct {
	scanner *bufio.Scanner
	closers []io.Closer
	line    int
}

// Open opens a dataset file. Files ending in .zst are zstd decoded.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	if !strings.HasSuffix(path, ".zst") {
		r := NewReader(f)
		r.closers = append(r.closers, f)
		return r, nil
	}

	decoder, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	r := NewReader(decoder)
	r.closers = append(r.closers, decoder.IOReadCloser(), f)
	return r, nil
}

// NewReader reads an uncompressed dataset from r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 1024*1024)
	scanner.Buffer(buf, 10*1024*1024) // long passages
	return &Reader{scanner: scanner}
}

// Next returns the next query, or io.EOF when the dataset is exhausted.
// Blank lines are skipped.
func (r *Reader) Next() (Query, error) {
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		var q Query
		if err := json.Unmarshal([]byte(line), &q); err != nil {
			return Query{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		if q.ID == "" {
			return Query{}, fmt.Errorf("line %d: query_id required", r.line)
		}
		return q, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Query{}, fmt.Errorf("error reading dataset: %w", err)
	}
	return Query{}, io.EOF
}

// Close releases the underlying file and decoder.
func (r *Reader) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// ReadAll drains r.
func ReadAll(r *Reader) ([]Query, error) {
	var out []Query
	for {
		q, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
}
