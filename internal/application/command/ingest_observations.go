package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/integrity"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// INGEST OBSERVATIONS COMMAND
// Accepts a batch of raw metric values, verifies integrity, and stores them.
// A subject contributes at most one row per metric per experiment.
// ══════════════════════════════════════════════════════════════════════════════

// IngestObservationsCommand contains a batch of observations to record.
type IngestObservationsCommand struct {
	// ExperimentID is the experiment the batch belongs to.
	ExperimentID string

	// Observations are the raw values.
	Observations []analysis.Observation

	// Strict rejects the whole batch on any duplicate, in-batch or stored.
	// Non-strict mode silently skips already-recorded keys.
	Strict bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c IngestObservationsCommand) Validate() error {
	if c.ExperimentID == "" {
		return errors.New("ingest_observations: experiment_id is required")
	}
	if len(c.Observations) == 0 {
		return errors.New("ingest_observations: batch is empty")
	}
	for i, o := range c.Observations {
		if o.SubjectID == "" {
			return fmt.Errorf("ingest_observations: observation %d has no subject_id", i)
		}
		if o.MetricName == "" {
			return fmt.Errorf("ingest_observations: observation %d has no metric_name", i)
		}
		if o.VariantLabel == "" {
			return fmt.Errorf("ingest_observations: observation %d has no variant_label", i)
		}
	}
	return nil
}

// IngestObservationsResult contains the outcome of ingestion.
type IngestObservationsResult struct {
	// Accepted is the number of rows stored.
	Accepted int64

	// Skipped is the number of rows dropped as already recorded
	// (non-strict mode only).
	Skipped int64

	// IngestedAt is when the batch landed.
	IngestedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// IngestObservationsHandler handles the IngestObservationsCommand.
type IngestObservationsHandler struct {
	experiments  experiment.Repository
	observations analysis.ObservationRepository
	eventBus     shared.EventBus
}

// NewIngestObservationsHandler creates a new IngestObservationsHandler.
func NewIngestObservationsHandler(
	experiments experiment.Repository,
	observations analysis.ObservationRepository,
	eventBus shared.EventBus,
) *IngestObservationsHandler {
	return &IngestObservationsHandler{
		experiments:  experiments,
		observations: observations,
		eventBus:     eventBus,
	}
}

// Handle verifies and stores the batch.
func (h *IngestObservationsHandler) Handle(ctx context.Context, cmd IngestObservationsCommand) (*IngestObservationsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("ingest_observations: validation failed: %w", err)
	}

	exp, err := h.experiments.GetByID(ctx, cmd.ExperimentID)
	if err != nil {
		return nil, err
	}

	metrics := make(map[string]struct{}, 1+len(exp.Guardrails))
	for _, m := range exp.AllMetrics() {
		metrics[m.Name] = struct{}{}
	}
	for i, o := range cmd.Observations {
		if !exp.HasVariant(o.VariantLabel) {
			return nil, shared.NewDomainError("analysis", "Ingest", shared.ErrInvalidInput,
				fmt.Sprintf("observation %d references unknown variant %q", i, o.VariantLabel))
		}
		if _, ok := metrics[o.MetricName]; !ok {
			return nil, shared.NewDomainError("analysis", "Ingest", shared.ErrInvalidInput,
				fmt.Sprintf("observation %d references undeclared metric %q", i, o.MetricName))
		}
	}

	// In-batch duplicates are an integrity failure in both modes: the batch
	// itself is malformed, not merely replayed.
	keys := make([]integrity.ObservationKey, len(cmd.Observations))
	for i, o := range cmd.Observations {
		keys[i] = integrity.ObservationKey{SubjectID: o.SubjectID, MetricName: o.MetricName}
	}
	if err := integrity.VerifyObservations(keys); err != nil {
		h.publishDuplicate(cmd, len(cmd.Observations))
		return nil, err
	}

	now := time.Now().UTC()
	for i := range cmd.Observations {
		if cmd.Observations[i].ObservedAt.IsZero() {
			cmd.Observations[i].ObservedAt = now
		}
	}

	if cmd.Strict {
		if err := h.observations.InsertStrict(ctx, cmd.ExperimentID, cmd.Observations); err != nil {
			if errors.Is(err, shared.ErrDuplicateObservation) {
				h.publishDuplicate(cmd, len(cmd.Observations))
			}
			return nil, err
		}
		return &IngestObservationsResult{
			Accepted:   int64(len(cmd.Observations)),
			IngestedAt: now,
		}, nil
	}

	inserted, err := h.observations.InsertBatch(ctx, cmd.ExperimentID, cmd.Observations)
	if err != nil {
		return nil, err
	}

	return &IngestObservationsResult{
		Accepted:   inserted,
		Skipped:    int64(len(cmd.Observations)) - inserted,
		IngestedAt: now,
	}, nil
}

func (h *IngestObservationsHandler) publishDuplicate(cmd IngestObservationsCommand, count int) {
	event := shared.DuplicateObservationEvent{
		BaseEvent:      shared.NewBaseEvent(shared.EventDuplicateObservation, cmd.ExperimentID),
		ExperimentID:   cmd.ExperimentID,
		DuplicateCount: count,
	}
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventBus.Publish(event)
}
