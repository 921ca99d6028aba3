package pipeline

import (
	"time"

	"github.com/akhenakh/rankfuse/internal/fusion"
	"github.com/akhenakh/rankfuse/internal/ndcg"
)

// Report is the outcome of one evaluation run.
type Report struct {
	RunID     string             `json:"run_id"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration_ns"`
	Cutoff    int                `json:"cutoff,omitempty"`
	Signals   []string           `json:"signals"`
	Queries   int                `json:"queries"`
	Skipped   []SkippedQuery     `json:"skipped,omitempty"`
	Summaries []AlgorithmSummary `json:"summaries"`
	Outcomes  []QueryOutcome     `json:"outcomes"`
}

type SkippedQuery struct {
	QueryID string `json:"query_id"`
	Reason  string `json:"reason"`
}

type AlgorithmSummary struct {
	Algorithm fusion.Algorithm `json:"algorithm"`
	ndcg.Summary
}

type QueryOutcome struct {
	QueryID string             `json:"query_id"`
	Results []AlgorithmOutcome `json:"results"`
}

type AlgorithmOutcome struct {
	Algorithm  fusion.Algorithm                `json:"algorithm"`
	NDCG       float64                         `json:"ndcg"`
	Excluded   bool                            `json:"excluded,omitempty"`
	Ranking    []fusion.RankedScore            `json:"ranking,omitempty"`
	Degenerate []fusion.DegenerateDistribution `json:"degenerate,omitempty"`
	Table      []fusion.ScoredID               `json:"table,omitempty"`
}

// Best returns the summary with the highest mean NDCG, ties going to the
// earlier algorithm. ok is false when nothing was evaluated.
func (r *Report) Best() (best AlgorithmSummary, ok bool) {
	for _, s := range r.Summaries {
		if s.Evaluated == 0 {
			continue
		}
		if !ok || s.Mean > best.Mean {
			best, ok = s, true
		}
	}
	return best, ok
}
