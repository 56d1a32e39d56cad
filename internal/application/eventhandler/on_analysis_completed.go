package eventhandler

import (
	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON ANALYSIS COMPLETED HANDLER
// Turns finished analysis runs into an operator-facing audit trail. A "ship"
// recommendation is the signal owners wait weeks for, so it gets its own log
// line at a level a pager filter can match on.
// ══════════════════════════════════════════════════════════════════════════════

// OnAnalysisCompletedHandler logs completed analysis runs.
type OnAnalysisCompletedHandler struct {
	log *logger.Logger
}

// NewOnAnalysisCompletedHandler creates a new OnAnalysisCompletedHandler.
func NewOnAnalysisCompletedHandler(log *logger.Logger) *OnAnalysisCompletedHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnAnalysisCompletedHandler{
		log: log.With(logger.Component("on_analysis_completed")),
	}
}

// Handle implements shared.EventHandler.
func (h *OnAnalysisCompletedHandler) Handle(event shared.Event) error {
	completed, ok := event.(shared.AnalysisCompletedEvent)
	if !ok {
		h.log.Warn("received non-AnalysisCompletedEvent",
			logger.String("event_type", string(event.EventType())),
		)
		return nil
	}

	fields := []logger.Field{
		logger.ExperimentID(completed.ExperimentID),
		logger.MetricName(completed.MetricName),
		logger.PeekIndex(completed.PeekIndex),
		logger.PValue(completed.PValue),
		logger.Bool("significant", completed.Significant),
		logger.String("recommendation", completed.Recommendation),
	}

	switch analysis.Recommendation(completed.Recommendation) {
	case analysis.RecommendationShip:
		h.log.Info("analysis recommends shipping the treatment", fields...)
	case analysis.RecommendationIndeterminate:
		h.log.Warn("analysis was indeterminate, check data quality", fields...)
	default:
		h.log.Info("analysis run completed", fields...)
	}

	return nil
}

// EventType returns the event type this handler processes.
func (h *OnAnalysisCompletedHandler) EventType() shared.EventType {
	return shared.EventAnalysisCompleted
}
