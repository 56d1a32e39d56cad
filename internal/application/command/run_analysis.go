package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/sequential"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN ANALYSIS COMMAND
// Loads an experiment's observations, runs the statistical engine, appends
// the result to the audit log, and announces the outcome. Interim looks go
// through the sequential guard so peeking spends alpha instead of inflating
// the false positive rate.
// ══════════════════════════════════════════════════════════════════════════════

// RunAnalysisCommand triggers one analysis run.
type RunAnalysisCommand struct {
	// ExperimentID is the experiment to analyze.
	ExperimentID string

	// Sequential routes the run through the peek guard. Ignored for
	// experiments with no planned peeks.
	Sequential bool

	// Correction overrides the default multiple-comparison method.
	Correction analysis.CorrectionMethod

	// PooledVariance switches continuous metrics to the pooled t-test.
	PooledVariance bool

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c RunAnalysisCommand) Validate() error {
	if c.ExperimentID == "" {
		return errors.New("run_analysis: experiment_id is required")
	}
	return nil
}

// RunAnalysisResult contains the completed runs, one per treatment arm.
type RunAnalysisResult struct {
	Results []*analysis.Result
}

// Primary returns the first run, the only one for two-arm experiments.
func (r *RunAnalysisResult) Primary() *analysis.Result {
	if len(r.Results) == 0 {
		return nil
	}
	return r.Results[0]
}

// ResultCacher caches latest results for hot reads. Implemented by the Redis
// result cache; nil disables caching.
type ResultCacher interface {
	Put(ctx context.Context, result *analysis.Result) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RunAnalysisHandler handles the RunAnalysisCommand.
type RunAnalysisHandler struct {
	experiments  experiment.Repository
	observations analysis.ObservationRepository
	results      analysis.ResultRepository
	analyzer     *analysis.Analyzer
	guard        *sequential.Guard
	cache        ResultCacher
	eventBus     shared.EventBus
	log          *logger.Logger
}

// NewRunAnalysisHandler creates a new RunAnalysisHandler.
func NewRunAnalysisHandler(
	experiments experiment.Repository,
	observations analysis.ObservationRepository,
	results analysis.ResultRepository,
	analyzer *analysis.Analyzer,
	guard *sequential.Guard,
	cache ResultCacher,
	eventBus shared.EventBus,
	log *logger.Logger,
) *RunAnalysisHandler {
	return &RunAnalysisHandler{
		experiments:  experiments,
		observations: observations,
		results:      results,
		analyzer:     analyzer,
		guard:        guard,
		cache:        cache,
		eventBus:     eventBus,
		log:          log,
	}
}

// Handle runs the analysis for every treatment arm against the control.
//
// Sequential alpha spending applies only to two-arm experiments: one look is
// one comparison. Multi-arm experiments run fixed-horizon, with the
// multiple-comparison correction absorbing the extra tests.
func (h *RunAnalysisHandler) Handle(ctx context.Context, cmd RunAnalysisCommand) (*RunAnalysisResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("run_analysis: validation failed: %w", err)
	}

	exp, err := h.experiments.GetByID(ctx, cmd.ExperimentID)
	if err != nil {
		return nil, err
	}
	if exp.Status != experiment.StatusRunning && exp.Status != experiment.StatusCompleted {
		return nil, shared.NewDomainError("analysis", "RunAnalysis", shared.ErrInvalidState,
			fmt.Sprintf("experiment %s is %s; only running or completed experiments can be analyzed", exp.ID, exp.Status))
	}

	primaryByArm, err := h.observations.ByMetric(ctx, exp.ID, exp.PrimaryMetric.Name)
	if err != nil {
		return nil, err
	}

	guardrailsByArm := make(map[string]map[string][]analysis.Observation, len(exp.Guardrails))
	for _, g := range exp.Guardrails {
		byArm, err := h.observations.ByMetric(ctx, exp.ID, g.Name)
		if err != nil {
			return nil, err
		}
		guardrailsByArm[g.Name] = byArm
	}

	control := exp.Control().Label
	treatments := exp.Treatments()

	useGuard := cmd.Sequential && exp.PlannedPeeks > 0 && len(treatments) == 1

	out := &RunAnalysisResult{Results: make([]*analysis.Result, 0, len(treatments))}
	for _, tv := range treatments {
		req := analysis.Request{
			Experiment: exp,
			Primary: analysis.MetricData{
				Metric:    exp.PrimaryMetric,
				Control:   primaryByArm[control],
				Treatment: primaryByArm[tv.Label],
			},
			Correction:     cmd.Correction,
			PooledVariance: cmd.PooledVariance,
		}
		for _, g := range exp.Guardrails {
			req.Guardrails = append(req.Guardrails, analysis.MetricData{
				Metric:    g,
				Control:   guardrailsByArm[g.Name][control],
				Treatment: guardrailsByArm[g.Name][tv.Label],
			})
		}

		var res *analysis.Result
		if useGuard {
			res, err = h.guard.Analyze(ctx, req)
		} else {
			res, err = h.analyzer.Analyze(ctx, req)
		}
		if err != nil {
			return nil, err
		}
		if len(treatments) > 1 {
			res.TreatmentLabel = tv.Label
		}

		if err := h.results.Append(ctx, res); err != nil {
			return nil, err
		}
		if h.cache != nil {
			if err := h.cache.Put(ctx, res); err != nil {
				h.log.Warn("failed to cache analysis result",
					logger.ExperimentID(exp.ID),
					logger.RunID(res.RunID),
					logger.Err(err),
				)
			}
		}

		h.publishCompleted(cmd, res)
		out.Results = append(out.Results, res)
	}

	return out, nil
}

func (h *RunAnalysisHandler) publishCompleted(cmd RunAnalysisCommand, res *analysis.Result) {
	event := shared.AnalysisCompletedEvent{
		BaseEvent:      shared.NewBaseEvent(shared.EventAnalysisCompleted, res.ExperimentID),
		ExperimentID:   res.ExperimentID,
		MetricName:     res.MetricName,
		PeekIndex:      res.PeekIndex,
		PValue:         res.PValue,
		Significant:    res.Significant,
		Recommendation: string(res.Recommendation),
	}
	if cmd.CorrelationID != "" {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(cmd.CorrelationID)
	}
	_ = h.eventBus.Publish(event)
}
