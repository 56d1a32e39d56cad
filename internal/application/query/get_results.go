package query

import (
	"context"
	"errors"

	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET RESULTS QUERY
// Reads analysis outcomes. Latest-result reads try the cache first; the
// append-only audit log is the source of truth.
// ══════════════════════════════════════════════════════════════════════════════

// GetResultsQuery identifies the experiment to read.
type GetResultsQuery struct {
	// ExperimentID is the experiment.
	ExperimentID string

	// FullHistory returns every run instead of just the latest.
	FullHistory bool
}

// Validate validates the query.
func (q GetResultsQuery) Validate() error {
	if q.ExperimentID == "" {
		return errors.New("get_results: experiment_id is required")
	}
	return nil
}

// GetResultsResult contains the requested runs.
type GetResultsResult struct {
	// Latest is the most recent run.
	Latest *analysis.Result

	// History holds every run, oldest first, when FullHistory was set.
	History []*analysis.Result

	// FromCache is true when Latest was served from the cache.
	FromCache bool
}

// ResultCacheReader reads cached latest results. Nil disables the cache path.
type ResultCacheReader interface {
	Get(ctx context.Context, experimentID string) (*analysis.Result, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetResultsHandler handles the GetResultsQuery.
type GetResultsHandler struct {
	results analysis.ResultRepository
	cache   ResultCacheReader
}

// NewGetResultsHandler creates a new GetResultsHandler.
func NewGetResultsHandler(results analysis.ResultRepository, cache ResultCacheReader) *GetResultsHandler {
	return &GetResultsHandler{results: results, cache: cache}
}

// Handle reads the results.
func (h *GetResultsHandler) Handle(ctx context.Context, q GetResultsQuery) (*GetResultsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if q.FullHistory {
		history, err := h.results.History(ctx, q.ExperimentID)
		if err != nil {
			return nil, err
		}
		out := &GetResultsResult{History: history}
		if n := len(history); n > 0 {
			out.Latest = history[n-1]
		}
		return out, nil
	}

	// A miss or a cache failure both fall through to the audit log.
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, q.ExperimentID); err == nil {
			return &GetResultsResult{Latest: cached, FromCache: true}, nil
		}
	}

	latest, err := h.results.Latest(ctx, q.ExperimentID)
	if err != nil {
		return nil, err
	}
	return &GetResultsResult{Latest: latest}, nil
}
