// Package pipeline drives evaluation runs: it collects one score list per
// signal from a search backend, fuses them with every configured algorithm,
// maps the fused rankings back to ground truth and aggregates NDCG.
package pipeline

import (
	"context"
	"fmt"

	"github.com/akhenakh/rankfuse/internal/ingest"
)

type Mode string

const (
	ModeLexical Mode = "lexical"
	ModeVector  Mode = "vector"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLexical, ModeVector:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown signal mode %q", s)
}

// Signal is one retrieval signal fed to fusion.
type Signal struct {
	Name   string
	Mode   Mode
	Weight float64
}

// Request asks a backend to score a fixed candidate set for one query.
type Request struct {
	QueryID    string
	Text       string
	Signal     string
	Mode       Mode
	Candidates []string
	// Passages carries the dataset entries for backends that serve
	// precomputed scores.
	Passages []ingest.Passage
}

type Hit struct {
	DocumentID string
	Score      float64
}

// Backend scores candidates for a single signal. Implementations must return
// one hit per candidate so that every signal covers the same id set.
type Backend interface {
	Search(ctx context.Context, req Request) ([]Hit, error)
}
