package query

import (
	"context"
	"errors"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/integrity"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK INTEGRITY QUERY
// On-demand sample ratio mismatch check for one experiment. The scheduled
// watcher runs the same check across all running experiments.
// ══════════════════════════════════════════════════════════════════════════════

// CheckIntegrityQuery identifies the experiment to check.
type CheckIntegrityQuery struct {
	ExperimentID string
}

// Validate validates the query.
func (q CheckIntegrityQuery) Validate() error {
	if q.ExperimentID == "" {
		return errors.New("check_integrity: experiment_id is required")
	}
	return nil
}

// CheckIntegrityResult contains the SRM report.
type CheckIntegrityResult struct {
	Report integrity.SRMReport
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CheckIntegrityHandler handles the CheckIntegrityQuery.
type CheckIntegrityHandler struct {
	experiments experiment.Repository
	exposures   experiment.ExposureReader
}

// NewCheckIntegrityHandler creates a new CheckIntegrityHandler.
func NewCheckIntegrityHandler(
	experiments experiment.Repository,
	exposures experiment.ExposureReader,
) *CheckIntegrityHandler {
	return &CheckIntegrityHandler{
		experiments: experiments,
		exposures:   exposures,
	}
}

// Handle runs the SRM check against the recorded exposures.
func (h *CheckIntegrityHandler) Handle(ctx context.Context, q CheckIntegrityQuery) (*CheckIntegrityResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	exp, err := h.experiments.GetByID(ctx, q.ExperimentID)
	if err != nil {
		return nil, err
	}

	counts, err := h.exposures.AssignmentCounts(ctx, q.ExperimentID)
	if err != nil {
		return nil, err
	}

	report, err := integrity.CheckSRM(exp, counts)
	if err != nil {
		return nil, err
	}

	return &CheckIntegrityResult{Report: report}, nil
}
