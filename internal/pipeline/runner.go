package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/akhenakh/rankfuse/internal/fusion"
	"github.com/akhenakh/rankfuse/internal/ingest"
	"github.com/akhenakh/rankfuse/internal/ndcg"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Source yields queries until io.EOF. *ingest.Reader implements it.
type Source interface {
	Next() (ingest.Query, error)
}

// SliceSource serves queries from memory.
type SliceSource struct {
	Queries []ingest.Query
	pos     int
}

func (s *SliceSource) Next() (ingest.Query, error) {
	if s.pos >= len(s.Queries) {
		return ingest.Query{}, io.EOF
	}
	q := s.Queries[s.pos]
	s.pos++
	return q, nil
}

type Runner struct {
	Backend    Backend
	Signals    []Signal
	Algorithms []fusion.Algorithm
	// K is the RRF constant, 0 selects the default.
	K float64
	// Cutoff truncates NDCG, 0 evaluates whole rankings.
	Cutoff int
	// Workers bounds concurrent fusion work, 0 uses GOMAXPROCS.
	Workers int
	// FailFast stops the run on the first invalid query instead of skipping it.
	FailFast bool
	// Diagnostics keeps per-query rankings and fused score tables in the report.
	Diagnostics bool
	Logger      *slog.Logger
}

type queryResult struct {
	seq     int
	outcome QueryOutcome
}

// Run evaluates every query from src. Backend calls for a query are issued
// one signal at a time; fusion and scoring of distinct queries overlap on up
// to Workers goroutines.
func (r *Runner) Run(ctx context.Context, src Source) (*Report, error) {
	if r.Backend == nil {
		return nil, errors.New("pipeline: no backend")
	}
	if len(r.Signals) == 0 {
		return nil, fusion.ErrNoSignals
	}
	algs := r.Algorithms
	if len(algs) == 0 {
		algs = fusion.Algorithms()
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	for _, alg := range algs {
		if _, err := fusion.NewStrategy(alg, fusion.Options{K: r.K}); err != nil {
			return nil, err
		}
	}

	weights := make([]float64, len(r.Signals))
	names := make([]string, len(r.Signals))
	for i, s := range r.Signals {
		weights[i] = s.Weight
		names[i] = s.Name
	}

	workers := r.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Cutoff:    r.Cutoff,
		Signals:   names,
	}
	logger = logger.With("run_id", report.RunID)
	logger.Info("starting evaluation", "signals", names, "algorithms", algs, "workers", workers)

	var (
		mu      sync.Mutex
		results []queryResult
		acc     = ndcg.NewAccumulator()
	)
	skip := func(queryID string, err error) {
		mu.Lock()
		report.Skipped = append(report.Skipped, SkippedQuery{QueryID: queryID, Reason: err.Error()})
		mu.Unlock()
		logger.Warn("skipping query", "query_id", queryID, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	seq := 0
	for {
		if err := gctx.Err(); err != nil {
			break
		}
		q, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			g.Wait()
			return nil, fmt.Errorf("reading queries: %w", err)
		}
		report.Queries++

		in, err := r.collect(gctx, q, weights)
		if err != nil {
			if isDataError(err) && !r.FailFast {
				skip(q.ID, err)
				continue
			}
			if werr := g.Wait(); werr != nil {
				return nil, werr
			}
			return nil, fmt.Errorf("query %s: %w", q.ID, err)
		}

		n := seq
		seq++
		g.Go(func() error {
			qlog := logger.With("query_id", q.ID)
			outcome, err := r.evaluate(q.ID, in, algs, qlog)
			if err != nil {
				if isDataError(err) && !r.FailFast {
					skip(q.ID, err)
					return nil
				}
				return fmt.Errorf("query %s: %w", q.ID, err)
			}
			for _, res := range outcome.Results {
				acc.Add(res.Algorithm, ndcg.Result{QueryID: q.ID, NDCG: res.NDCG, Excluded: res.Excluded})
			}
			if !r.Diagnostics {
				for i := range outcome.Results {
					outcome.Results[i].Ranking = nil
					outcome.Results[i].Table = nil
				}
			}
			mu.Lock()
			results = append(results, queryResult{seq: n, outcome: outcome})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].seq < results[j].seq })
	report.Outcomes = make([]QueryOutcome, len(results))
	for i, res := range results {
		report.Outcomes[i] = res.outcome
	}
	for _, alg := range algs {
		report.Summaries = append(report.Summaries, AlgorithmSummary{Algorithm: alg, Summary: acc.Summary(alg)})
	}
	report.Duration = time.Since(report.StartedAt)

	logger.Info("evaluation done",
		"queries", report.Queries,
		"evaluated", len(report.Outcomes),
		"skipped", len(report.Skipped),
		"duration", report.Duration)
	return report, nil
}

// collect issues one backend call per signal and builds the fusion input.
func (r *Runner) collect(ctx context.Context, q ingest.Query, weights []float64) (*fusion.Input, error) {
	candidates := q.Candidates()
	ranks := q.Ranks()

	lists := make([]fusion.ScoreList, len(r.Signals))
	for i, sig := range r.Signals {
		hits, err := r.Backend.Search(ctx, Request{
			QueryID:    q.ID,
			Text:       q.Text,
			Signal:     sig.Name,
			Mode:       sig.Mode,
			Candidates: candidates,
			Passages:   q.Passages,
		})
		if err != nil {
			return nil, &BackendError{Signal: sig.Name, Err: err}
		}
		list := make(fusion.ScoreList, 0, len(hits))
		for _, h := range hits {
			list = append(list, fusion.ScoreEntry{ID: h.DocumentID, Score: h.Score, OriginalRank: ranks[h.DocumentID]})
		}
		lists[i] = list
	}
	return fusion.NewInput(lists, weights)
}

func (r *Runner) evaluate(queryID string, in *fusion.Input, algs []fusion.Algorithm, logger *slog.Logger) (QueryOutcome, error) {
	outcome := QueryOutcome{QueryID: queryID, Results: make([]AlgorithmOutcome, 0, len(algs))}
	for _, alg := range algs {
		res, err := fusion.Fuse(in, alg, fusion.Options{K: r.K, Logger: logger})
		if err != nil {
			return outcome, err
		}
		ranked, err := in.Reformat(res)
		if err != nil {
			return outcome, err
		}
		score, err := ndcg.Evaluate(ndcg.SearchResult{QueryID: queryID, Scores: ranked}, ndcg.Options{K: r.Cutoff})
		if err != nil {
			return outcome, err
		}
		logger.Debug("scored", "algorithm", alg, "ndcg", score.NDCG, "excluded", score.Excluded)
		outcome.Results = append(outcome.Results, AlgorithmOutcome{
			Algorithm:  alg,
			NDCG:       score.NDCG,
			Excluded:   score.Excluded,
			Ranking:    ranked,
			Degenerate: res.Degenerate,
			Table:      res.Table(),
		})
	}
	return outcome, nil
}

// BackendError wraps a failure of the search backend. It always aborts the run.
type BackendError struct {
	Signal string
	Err    error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend signal %s: %v", e.Signal, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// isDataError reports whether err comes from invalid query data, which the
// runner may skip, as opposed to infrastructure failures.
func isDataError(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return false
	}
	var ve *fusion.ValidationError
	var le *fusion.LookupMismatchError
	return errors.As(err, &ve) ||
		errors.As(err, &le) ||
		errors.Is(err, ndcg.ErrEmptyResult) ||
		errors.Is(err, ndcg.ErrNegativeRank)
}
