package experiment

import (
	"context"
)

// Repository defines the persistence contract for the experiment registry.
// Implementations live in internal/infrastructure/persistence.
type Repository interface {
	// Create stores a new experiment definition.
	// Returns shared.ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, exp *Experiment) error

	// GetByID returns an experiment by id.
	// Returns shared.ErrNotFound if it does not exist.
	GetByID(ctx context.Context, id string) (*Experiment, error)

	// ListByStatus returns experiments in the given lifecycle state.
	ListByStatus(ctx context.Context, status Status) ([]*Experiment, error)

	// UpdateStatus persists a lifecycle transition.
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// AssignmentCounts is the per-variant exposure tally used by the integrity
// checker. Keyed by variant label.
type AssignmentCounts map[string]int64

// ExposureReader provides assignment tallies for running experiments.
type ExposureReader interface {
	// AssignmentCounts returns observed exposure counts per variant.
	AssignmentCounts(ctx context.Context, experimentID string) (AssignmentCounts, error)
}
