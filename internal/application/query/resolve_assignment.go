package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exp-hub/experiment-engine/internal/domain/assignment"
	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/service"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVE ASSIGNMENT QUERY
// Maps a unit to its variant. Static experiments resolve deterministically
// from the hash; adaptive experiments ask the bandit allocator. The exposure
// is recorded so integrity checks can compare observed and expected counts.
// ══════════════════════════════════════════════════════════════════════════════

// ResolveAssignmentQuery identifies the unit to assign.
type ResolveAssignmentQuery struct {
	// ExperimentID is the experiment to assign under.
	ExperimentID string

	// SubjectID is required for subject-level randomization.
	SubjectID string

	// Stratum switches subject randomization to the stratified strategy.
	Stratum string

	// ClusterID is required for cluster randomization.
	ClusterID string

	// At is the exposure timestamp for switchback randomization; zero
	// defaults to now.
	At time.Time
}

// Validate validates the query.
func (q ResolveAssignmentQuery) Validate() error {
	if q.ExperimentID == "" {
		return errors.New("resolve_assignment: experiment_id is required")
	}
	return nil
}

// ResolveAssignmentResult contains the resolved variant.
type ResolveAssignmentResult struct {
	// Assignment is the full assignment record, including the strategy and
	// bucket for audit.
	Assignment assignment.Assignment

	// Adaptive is true when the bandit allocator made the choice.
	Adaptive bool
}

// ExposureRecorder persists which variant a subject saw.
type ExposureRecorder interface {
	RecordExposure(ctx context.Context, experimentID, subjectID, variantLabel string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ResolveAssignmentHandler handles the ResolveAssignmentQuery.
type ResolveAssignmentHandler struct {
	experiments experiment.Repository
	allocator   *service.AllocatorService
	exposures   ExposureRecorder
}

// NewResolveAssignmentHandler creates a new ResolveAssignmentHandler.
func NewResolveAssignmentHandler(
	experiments experiment.Repository,
	allocator *service.AllocatorService,
	exposures ExposureRecorder,
) *ResolveAssignmentHandler {
	return &ResolveAssignmentHandler{
		experiments: experiments,
		allocator:   allocator,
		exposures:   exposures,
	}
}

// Handle resolves the unit's variant and records the exposure.
func (h *ResolveAssignmentHandler) Handle(ctx context.Context, q ResolveAssignmentQuery) (*ResolveAssignmentResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	exp, err := h.experiments.GetByID(ctx, q.ExperimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != experiment.StatusRunning {
		return nil, shared.NewDomainError("assignment", "Resolve", shared.ErrInvalidState,
			fmt.Sprintf("experiment %s is %s; only running experiments assign traffic", exp.ID, exp.Status))
	}

	if exp.Adaptive && h.allocator != nil {
		return h.resolveAdaptive(ctx, exp, q)
	}

	at := q.At
	if at.IsZero() && exp.Unit == experiment.UnitTimeWindow {
		at = time.Now().UTC()
	}

	a, err := assignment.Assign(exp, assignment.Unit{
		SubjectID: q.SubjectID,
		Stratum:   q.Stratum,
		ClusterID: q.ClusterID,
		At:        at,
	})
	if err != nil {
		return nil, err
	}

	if err := h.recordExposure(ctx, exp.ID, q.SubjectID, a.VariantLabel); err != nil {
		return nil, err
	}

	return &ResolveAssignmentResult{Assignment: a}, nil
}

// resolveAdaptive asks the bandit allocator for the next arm. Adaptive
// assignment is not deterministic; the exposure record is the only way to
// recover who saw what.
func (h *ResolveAssignmentHandler) resolveAdaptive(ctx context.Context, exp *experiment.Experiment, q ResolveAssignmentQuery) (*ResolveAssignmentResult, error) {
	if q.SubjectID == "" {
		return nil, shared.NewDomainError("assignment", "Resolve", shared.ErrInvalidInput,
			"adaptive assignment requires a subject id")
	}

	label, err := h.allocator.SelectArm(exp.ID)
	if err != nil {
		return nil, err
	}

	if err := h.recordExposure(ctx, exp.ID, q.SubjectID, label); err != nil {
		return nil, err
	}

	return &ResolveAssignmentResult{
		Assignment: assignment.Assignment{
			ExperimentID: exp.ID,
			UnitKey:      q.SubjectID,
			VariantLabel: label,
			AssignedAt:   time.Now().UTC(),
		},
		Adaptive: true,
	}, nil
}

func (h *ResolveAssignmentHandler) recordExposure(ctx context.Context, experimentID, subjectID, label string) error {
	if h.exposures == nil || subjectID == "" {
		return nil
	}
	return h.exposures.RecordExposure(ctx, experimentID, subjectID, label)
}
