package analysis

import (
	"context"
)

// ObservationRepository is the persistence contract for raw observations.
// Implementations live in internal/infrastructure/persistence.
type ObservationRepository interface {
	// InsertBatch stores a batch, skipping rows whose (subject, metric) key
	// already exists. Returns the number of rows actually inserted.
	InsertBatch(ctx context.Context, experimentID string, obs []Observation) (int64, error)

	// InsertStrict stores a batch and fails with
	// shared.ErrDuplicateObservation if any key collides. All-or-nothing.
	InsertStrict(ctx context.Context, experimentID string, obs []Observation) error

	// ByMetric returns one metric's observations grouped by variant label.
	ByMetric(ctx context.Context, experimentID, metricName string) (map[string][]Observation, error)

	// CountByMetric returns per-variant observation counts for one metric.
	CountByMetric(ctx context.Context, experimentID, metricName string) (map[string]int64, error)
}

// ResultRepository is the append-only audit log of analysis runs.
type ResultRepository interface {
	// Append stores one completed run. Runs are never updated.
	Append(ctx context.Context, result *Result) error

	// Latest returns the most recent run for an experiment, or
	// shared.ErrNotFound.
	Latest(ctx context.Context, experimentID string) (*Result, error)

	// GetByRunID returns one run by its UUID.
	GetByRunID(ctx context.Context, runID string) (*Result, error)

	// History returns all runs for an experiment, oldest first.
	History(ctx context.Context, experimentID string) ([]*Result, error)
}
