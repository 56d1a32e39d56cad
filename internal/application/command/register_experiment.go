// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REGISTER EXPERIMENT COMMAND
// Accepts a definition from the registry collaborator, validates it, and
// records it in the registry.
// ══════════════════════════════════════════════════════════════════════════════

// RegisterExperimentCommand contains the experiment definition to register.
type RegisterExperimentCommand struct {
	// ID uniquely identifies the experiment.
	ID string

	// StartAt / EndAt bound the planned exposure window.
	StartAt time.Time
	EndAt   time.Time

	// TrafficFraction is the share of eligible traffic enrolled, in (0, 1].
	TrafficFraction float64

	// Unit selects the randomization strategy family.
	Unit experiment.RandomizationUnit

	// Salt decorrelates reruns of the same experiment id.
	Salt string

	// SwitchbackWindow is the time-bucket width for switchback experiments.
	SwitchbackWindow time.Duration

	// Variants are the arms, exactly one marked control.
	Variants []experiment.Variant

	// PrimaryMetric drives the ship decision; Guardrails must not regress.
	PrimaryMetric experiment.Metric
	Guardrails    []experiment.Metric

	// Alpha and Power; zero values take the engine defaults.
	Alpha float64
	Power float64

	// PlannedSamplePerArm is the powered per-arm sample size, if known.
	PlannedSamplePerArm int

	// PlannedPeeks budgets interim looks for the sequential guard.
	PlannedPeeks int

	// Adaptive routes assignment through the bandit allocator.
	Adaptive bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate checks the fields that do not need domain construction to reject.
func (c RegisterExperimentCommand) Validate() error {
	if c.ID == "" {
		return errors.New("register_experiment: id is required")
	}
	if len(c.Variants) < 2 {
		return errors.New("register_experiment: at least two variants are required")
	}
	if c.PrimaryMetric.Name == "" {
		return errors.New("register_experiment: primary metric is required")
	}
	return nil
}

// RegisterExperimentResult contains the outcome of registration.
type RegisterExperimentResult struct {
	// Experiment is the validated, stored definition.
	Experiment *experiment.Experiment

	// RegisteredAt is when registration completed.
	RegisteredAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RegisterExperimentHandler handles the RegisterExperimentCommand.
type RegisterExperimentHandler struct {
	repo     experiment.Repository
	eventBus shared.EventBus
}

// NewRegisterExperimentHandler creates a new RegisterExperimentHandler.
func NewRegisterExperimentHandler(repo experiment.Repository, eventBus shared.EventBus) *RegisterExperimentHandler {
	return &RegisterExperimentHandler{
		repo:     repo,
		eventBus: eventBus,
	}
}

// Handle validates the definition, stores it, and announces it.
func (h *RegisterExperimentHandler) Handle(ctx context.Context, cmd RegisterExperimentCommand) (*RegisterExperimentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("register_experiment: validation failed: %w", err)
	}

	exp, err := experiment.New(experiment.NewParams{
		ID:               cmd.ID,
		StartAt:          cmd.StartAt,
		EndAt:            cmd.EndAt,
		TrafficFraction:  cmd.TrafficFraction,
		Unit:             cmd.Unit,
		Salt:             cmd.Salt,
		SwitchbackWindow: cmd.SwitchbackWindow,
		Variants:         cmd.Variants,
		PrimaryMetric:    cmd.PrimaryMetric,
		Guardrails:       cmd.Guardrails,
		Alpha:            cmd.Alpha,
		Power:            cmd.Power,
		PlannedPeeks:     cmd.PlannedPeeks,
		Adaptive:         cmd.Adaptive,
	})
	if err != nil {
		return nil, err
	}
	exp.PlannedSamplePerArm = cmd.PlannedSamplePerArm

	if err := h.repo.Create(ctx, exp); err != nil {
		return nil, err
	}

	variants := make([]string, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		variants = append(variants, v.Label)
	}

	event := shared.ExperimentRegisteredEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventExperimentRegistered, exp.ID),
		ExperimentID:  exp.ID,
		Variants:      variants,
		PrimaryMetric: exp.PrimaryMetric.Name,
	}
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventBus.Publish(event)

	return &RegisterExperimentResult{
		Experiment:   exp,
		RegisteredAt: exp.CreatedAt,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// START EXPERIMENT COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// StartExperimentCommand transitions a draft experiment into the running state.
type StartExperimentCommand struct {
	ExperimentID  string
	CorrelationID string
}

// StartExperimentHandler handles the StartExperimentCommand.
type StartExperimentHandler struct {
	repo     experiment.Repository
	eventBus shared.EventBus
}

// NewStartExperimentHandler creates a new StartExperimentHandler.
func NewStartExperimentHandler(repo experiment.Repository, eventBus shared.EventBus) *StartExperimentHandler {
	return &StartExperimentHandler{repo: repo, eventBus: eventBus}
}

// Handle starts the experiment.
func (h *StartExperimentHandler) Handle(ctx context.Context, cmd StartExperimentCommand) error {
	if cmd.ExperimentID == "" {
		return errors.New("start_experiment: experiment_id is required")
	}

	exp, err := h.repo.GetByID(ctx, cmd.ExperimentID)
	if err != nil {
		return err
	}

	if err := exp.Start(); err != nil {
		return err
	}

	if err := h.repo.UpdateStatus(ctx, exp.ID, experiment.StatusRunning); err != nil {
		return err
	}

	event := shared.ExperimentStartedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventExperimentStarted, exp.ID),
		ExperimentID: exp.ID,
	}
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventBus.Publish(event)

	return nil
}
