package ingest

import (
	"errors"
	"io"
	"log/slog"
)

// Indexer stores passage text under a collection. store.Store implements it.
type Indexer interface {
	IndexDocument(collection, id, content string) error
}

// Stats summarizes an indexing run.
type Stats struct {
	Queries  int
	Passages int
	Skipped  int
}

// IndexDataset stores every passage of every query once. Passages without
// text are counted as skipped; a passage id seen twice is indexed once.
func IndexDataset(idx Indexer, r *Reader, collection string, logger *slog.Logger) (Stats, error) {
	var stats Stats
	seen := make(map[string]bool)

	for {
		q, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.Queries++

		for _, p := range q.Passages {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			if p.Text == "" {
				stats.Skipped++
				continue
			}
			if err := idx.IndexDocument(collection, p.ID, p.Text); err != nil {
				if logger != nil {
					logger.Error("indexing passage", "id", p.ID, "query_id", q.ID, "err", err)
				}
				stats.Skipped++
				continue
			}
			stats.Passages++
		}
	}

	if logger != nil {
		if stats.Passages == 0 {
			logger.Warn("dataset processed but no passage text found", "collection", collection)
		} else {
			logger.Info("indexed dataset", "collection", collection,
				"queries", stats.Queries, "passages", stats.Passages, "skipped", stats.Skipped)
		}
	}
	return stats, nil
}
