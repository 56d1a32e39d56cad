package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/internal/infrastructure/service"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD REWARD COMMAND
// Feeds observed rewards back into the bandit allocator for adaptive
// experiments.
// ══════════════════════════════════════════════════════════════════════════════

// RecordRewardCommand contains one reward for one arm.
type RecordRewardCommand struct {
	// ExperimentID is the adaptive experiment.
	ExperimentID string

	// VariantLabel is the arm that produced the reward.
	VariantLabel string

	// Binary selects Bernoulli reward recording (Success) over
	// arbitrary-valued recording (Reward).
	Binary bool

	// Success is the Bernoulli outcome when Binary is set.
	Success bool

	// Reward is the observed value when Binary is not set.
	Reward float64

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RecordRewardCommand) Validate() error {
	if c.ExperimentID == "" {
		return errors.New("record_reward: experiment_id is required")
	}
	if c.VariantLabel == "" {
		return errors.New("record_reward: variant_label is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordRewardHandler handles the RecordRewardCommand.
type RecordRewardHandler struct {
	allocator *service.AllocatorService
	eventBus  shared.EventBus
}

// NewRecordRewardHandler creates a new RecordRewardHandler.
func NewRecordRewardHandler(allocator *service.AllocatorService, eventBus shared.EventBus) *RecordRewardHandler {
	return &RecordRewardHandler{
		allocator: allocator,
		eventBus:  eventBus,
	}
}

// Handle records the reward.
func (h *RecordRewardHandler) Handle(ctx context.Context, cmd RecordRewardCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("record_reward: validation failed: %w", err)
	}
	if h.allocator == nil {
		return shared.NewDomainError("bandit", "RecordReward", shared.ErrInvalidState,
			"adaptive allocation is disabled")
	}

	var err error
	reward := 0
	if cmd.Binary {
		err = h.allocator.RecordBinary(ctx, cmd.ExperimentID, cmd.VariantLabel, cmd.Success)
		if cmd.Success {
			reward = 1
		}
	} else {
		err = h.allocator.RecordReward(cmd.ExperimentID, cmd.VariantLabel, cmd.Reward)
		reward = int(cmd.Reward)
	}
	if err != nil {
		return err
	}

	event := shared.RewardRecordedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventRewardRecorded, cmd.ExperimentID),
		ExperimentID: cmd.ExperimentID,
		VariantLabel: cmd.VariantLabel,
		Reward:       reward,
	}
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventBus.Publish(event)

	return nil
}
