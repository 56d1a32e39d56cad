package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/sequential"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FINALIZE EXPERIMENT COMMAND
// Closes an experiment to further analysis. Finalization is one-way and
// idempotent: repeat calls succeed without changing the recorded final run.
// ══════════════════════════════════════════════════════════════════════════════

// FinalizeExperimentCommand finalizes an experiment.
type FinalizeExperimentCommand struct {
	// ExperimentID is the experiment to close.
	ExperimentID string

	// FinalRunID is the analysis run the decision was taken on.
	FinalRunID string

	// Abort marks the experiment aborted instead of completed, e.g. after
	// SRM detection invalidated the data.
	Abort bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c FinalizeExperimentCommand) Validate() error {
	if c.ExperimentID == "" {
		return errors.New("finalize_experiment: experiment_id is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// FinalizeExperimentHandler handles the FinalizeExperimentCommand.
type FinalizeExperimentHandler struct {
	repo     experiment.Repository
	guard    *sequential.Guard
	eventBus shared.EventBus
}

// NewFinalizeExperimentHandler creates a new FinalizeExperimentHandler.
func NewFinalizeExperimentHandler(
	repo experiment.Repository,
	guard *sequential.Guard,
	eventBus shared.EventBus,
) *FinalizeExperimentHandler {
	return &FinalizeExperimentHandler{
		repo:     repo,
		guard:    guard,
		eventBus: eventBus,
	}
}

// Handle closes the experiment.
func (h *FinalizeExperimentHandler) Handle(ctx context.Context, cmd FinalizeExperimentCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("finalize_experiment: validation failed: %w", err)
	}

	exp, err := h.repo.GetByID(ctx, cmd.ExperimentID)
	if err != nil {
		return err
	}

	// Close the guard first so no further look can slip in while the
	// status update is in flight.
	h.guard.Finalize(cmd.ExperimentID, cmd.FinalRunID)

	if exp.Status.IsFinal() {
		return nil
	}

	target := experiment.StatusCompleted
	if cmd.Abort {
		target = experiment.StatusAborted
	}
	if err := h.repo.UpdateStatus(ctx, cmd.ExperimentID, target); err != nil {
		return err
	}

	event := shared.ExperimentFinalizedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventExperimentFinalized, cmd.ExperimentID),
		ExperimentID: cmd.ExperimentID,
		TotalPeeks:   len(h.guard.History(cmd.ExperimentID)),
	}
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventBus.Publish(event)

	return nil
}
