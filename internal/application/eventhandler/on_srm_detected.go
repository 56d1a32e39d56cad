// Package eventhandler contains the domain event handlers.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/logger"
	"github.com/exp-hub/experiment-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON SRM DETECTED HANDLER
// A sample ratio mismatch means the assignment pipeline is broken or the
// traffic is contaminated. Every result computed on top of it is invalid, so
// the experiment is pulled out of rotation instead of letting it keep
// collecting unusable data.
// ══════════════════════════════════════════════════════════════════════════════

// SRMDetectedConfig contains configuration for the handler.
type SRMDetectedConfig struct {
	// AutoAbort stops the affected experiment. When false the handler only
	// raises the alert and leaves the decision to an operator.
	AutoAbort bool

	// Timeout bounds the registry round trip.
	Timeout time.Duration
}

// DefaultSRMDetectedConfig returns the default configuration.
func DefaultSRMDetectedConfig() SRMDetectedConfig {
	return SRMDetectedConfig{
		AutoAbort: true,
		Timeout:   10 * time.Second,
	}
}

// OnSRMDetectedHandler reacts to failed sample ratio checks.
type OnSRMDetectedHandler struct {
	experiments experiment.Repository
	log         *logger.Logger
	config      SRMDetectedConfig
	retrier     *retry.Retrier
}

// NewOnSRMDetectedHandler creates a new OnSRMDetectedHandler.
func NewOnSRMDetectedHandler(
	experiments experiment.Repository,
	log *logger.Logger,
	config SRMDetectedConfig,
) *OnSRMDetectedHandler {
	if log == nil {
		log = logger.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSRMDetectedConfig().Timeout
	}

	return &OnSRMDetectedHandler{
		experiments: experiments,
		log:         log.With(logger.Component("on_srm_detected")),
		config:      config,
		retrier:     retry.DatabaseRetrier(retry.WithRetryIf(shared.IsRetryable)),
	}
}

// Handle implements shared.EventHandler.
func (h *OnSRMDetectedHandler) Handle(event shared.Event) error {
	srmEvent, ok := event.(shared.SRMDetectedEvent)
	if !ok {
		h.log.Warn("received non-SRMDetectedEvent",
			logger.String("event_type", string(event.EventType())),
		)
		return nil
	}

	h.log.Error("sample ratio mismatch detected",
		logger.ExperimentID(srmEvent.ExperimentID),
		logger.PValue(srmEvent.PValue),
		logger.Float64("observed_ratio", srmEvent.ObservedRatio),
		logger.Float64("expected_ratio", srmEvent.ExpectedRatio),
	)

	if !h.config.AutoAbort {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	exp, err := h.experiments.GetByID(ctx, srmEvent.ExperimentID)
	if err != nil {
		return fmt.Errorf("get experiment: %w", err)
	}
	if exp.Status.IsFinal() {
		h.log.Debug("experiment already final, skipping abort",
			logger.ExperimentID(exp.ID),
			logger.String("status", string(exp.Status)),
		)
		return nil
	}

	// The abort must land: a transient registry failure here would leave a
	// known-broken experiment collecting traffic.
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.experiments.UpdateStatus(ctx, exp.ID, experiment.StatusAborted)
	})
	if err != nil {
		return fmt.Errorf("abort experiment: %w", err)
	}

	h.log.Warn("experiment aborted after SRM",
		logger.ExperimentID(exp.ID),
	)

	return nil
}

// EventType returns the event type this handler processes.
func (h *OnSRMDetectedHandler) EventType() shared.EventType {
	return shared.EventSRMDetected
}
