package llm

import (
	"context"
	"math"
)

// Role tags an input as a search query or an indexed passage. Asymmetric
// embedding models expect a different prefix for each.
type Role int

const (
	RoleQuery Role = iota
	RolePassage
)

func (r Role) String() string {
	if r == RoleQuery {
		return "query"
	}
	return "passage"
}

// Prefixes holds the text prepended to inputs of each role.
type Prefixes struct {
	Query   string
	Passage string
}

// E5Prefixes match the intfloat e5 family.
var E5Prefixes = Prefixes{Query: "query: ", Passage: "passage: "}

func (p Prefixes) apply(text string, role Role) string {
	if role == RoleQuery {
		return p.Query + text
	}
	return p.Passage + text
}

// Embedder defines the interface for generating embeddings
type Embedder interface {
	Embed(ctx context.Context, text string, role Role) ([]float32, error)
	Close() error
}

// normalize scales vec to unit length in place. A zero vector is left as is.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	sum = math.Sqrt(sum)
	if sum == 0 {
		return vec
	}
	norm := float32(1.0 / sum)
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}
