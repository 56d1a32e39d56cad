package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/exp-hub/experiment-engine/internal/application/command"
	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULED ANALYSIS JOB
// Finds running experiments whose planned exposure window has elapsed, runs
// the final analysis, and finalizes them. Experiments that nobody remembers
// to read out would otherwise run forever, and every extra day of exposure
// is traffic the next experiment cannot use.
// ══════════════════════════════════════════════════════════════════════════════

// ScheduledAnalysisJob closes out experiments past their planned end.
type ScheduledAnalysisJob struct {
	experiments experiment.Repository
	runAnalysis *command.RunAnalysisHandler
	finalize    *command.FinalizeExperimentHandler
	eventBus    shared.EventBus
	log         *logger.Logger
	config      ScheduledAnalysisConfig

	lastRunStats atomic.Value // *ScheduledAnalysisStats
}

// ScheduledAnalysisConfig contains configuration for the job.
type ScheduledAnalysisConfig struct {
	// Timeout bounds one full sweep.
	Timeout time.Duration

	// PerExperimentTimeout bounds the analysis of one experiment.
	PerExperimentTimeout time.Duration

	// PooledVariance switches continuous metrics to the pooled t-test.
	PooledVariance bool
}

// DefaultScheduledAnalysisConfig returns sensible defaults.
func DefaultScheduledAnalysisConfig() ScheduledAnalysisConfig {
	return ScheduledAnalysisConfig{
		Timeout:              10 * time.Minute,
		PerExperimentTimeout: 2 * time.Minute,
	}
}

// ScheduledAnalysisStats contains statistics from one sweep.
type ScheduledAnalysisStats struct {
	StartedAt   time.Time
	CompletedAt time.Time
	DueFound    int
	Analyzed    int
	Finalized   int
	Failed      int
}

// NewScheduledAnalysisJob creates a new ScheduledAnalysisJob.
func NewScheduledAnalysisJob(
	experiments experiment.Repository,
	runAnalysis *command.RunAnalysisHandler,
	finalize *command.FinalizeExperimentHandler,
	eventBus shared.EventBus,
	log *logger.Logger,
	config ScheduledAnalysisConfig,
) *ScheduledAnalysisJob {
	if log == nil {
		log = logger.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultScheduledAnalysisConfig().Timeout
	}
	if config.PerExperimentTimeout <= 0 {
		config.PerExperimentTimeout = DefaultScheduledAnalysisConfig().PerExperimentTimeout
	}

	return &ScheduledAnalysisJob{
		experiments: experiments,
		runAnalysis: runAnalysis,
		finalize:    finalize,
		eventBus:    eventBus,
		log:         log.With(logger.Component("scheduled_analysis")),
		config:      config,
	}
}

// Name implements scheduler.Job.
func (j *ScheduledAnalysisJob) Name() string {
	return "scheduled_analysis"
}

// Description implements scheduler.Job.
func (j *ScheduledAnalysisJob) Description() string {
	return "Analyzes and finalizes experiments past their planned end"
}

// Run implements scheduler.Job.
func (j *ScheduledAnalysisJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stats := &ScheduledAnalysisStats{StartedAt: time.Now().UTC()}
	defer func() {
		stats.CompletedAt = time.Now().UTC()
		j.lastRunStats.Store(stats)
	}()

	running, err := j.experiments.ListByStatus(ctx, experiment.StatusRunning)
	if err != nil {
		return fmt.Errorf("list running experiments: %w", err)
	}

	now := time.Now().UTC()
	for _, exp := range running {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !exp.PastPlannedEnd(now) {
			continue
		}
		stats.DueFound++

		if err := j.closeOut(ctx, exp, stats); err != nil {
			stats.Failed++
			j.log.Error("failed to close out experiment",
				logger.ExperimentID(exp.ID),
				logger.Err(err),
			)
		}
	}

	j.publishRunCompleted(stats)

	j.log.Info("sweep completed",
		logger.Int("due", stats.DueFound),
		logger.Int("analyzed", stats.Analyzed),
		logger.Int("finalized", stats.Finalized),
		logger.Int("failed", stats.Failed),
	)

	return nil
}

// closeOut runs the final read-out for one experiment and finalizes it. The
// final look is sequential when the experiment budgeted peeks, so the guard
// records it against the alpha schedule.
func (j *ScheduledAnalysisJob) closeOut(ctx context.Context, exp *experiment.Experiment, stats *ScheduledAnalysisStats) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.PerExperimentTimeout)
	defer cancel()

	res, err := j.runAnalysis.Handle(ctx, command.RunAnalysisCommand{
		ExperimentID:   exp.ID,
		Sequential:     exp.PlannedPeeks > 0,
		PooledVariance: j.config.PooledVariance,
	})
	if err != nil {
		// No observations yet is a data pipeline problem, not a reason to
		// keep the experiment open past its window.
		if !errors.Is(err, shared.ErrInvalidInput) {
			return fmt.Errorf("run analysis: %w", err)
		}
		j.log.Warn("finalizing without a final analysis",
			logger.ExperimentID(exp.ID),
			logger.Err(err),
		)
	} else {
		stats.Analyzed++
	}

	cmd := command.FinalizeExperimentCommand{ExperimentID: exp.ID}
	if res != nil {
		if primary := res.Primary(); primary != nil {
			cmd.FinalRunID = primary.RunID
		}
	}
	if err := j.finalize.Handle(ctx, cmd); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	stats.Finalized++

	return nil
}

func (j *ScheduledAnalysisJob) publishRunCompleted(stats *ScheduledAnalysisStats) {
	if j.eventBus == nil {
		return
	}
	event := shared.ScheduledRunCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventScheduledRunCompleted, j.Name()),
		JobName:   j.Name(),
		Analyzed:  stats.Analyzed,
		Finalized: stats.Finalized,
		Failed:    stats.Failed,
	}
	if err := j.eventBus.Publish(event); err != nil {
		j.log.Warn("failed to publish run completion", logger.Err(err))
	}
}

// LastRunStats returns statistics from the most recent sweep.
func (j *ScheduledAnalysisJob) LastRunStats() *ScheduledAnalysisStats {
	if stats, ok := j.lastRunStats.Load().(*ScheduledAnalysisStats); ok {
		return stats
	}
	return nil
}
