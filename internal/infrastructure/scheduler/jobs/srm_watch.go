// Package jobs contains the scheduled jobs of the experiment engine.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/integrity"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/circuitbreaker"
	"github.com/exp-hub/experiment-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SRM WATCH JOB
// Periodically runs the sample ratio check over every running experiment.
// Assignment bugs are silent: the experiment keeps serving traffic and the
// dashboards keep filling in, so nothing downstream notices until a human
// reads the split. This job is that human, on a timer.
// ══════════════════════════════════════════════════════════════════════════════

// SRMWatchJob checks running experiments for sample ratio mismatches and
// publishes an alert event for each one it finds.
type SRMWatchJob struct {
	experiments experiment.Repository
	exposures   experiment.ExposureReader
	eventBus    shared.EventBus
	breaker     *circuitbreaker.CircuitBreaker
	log         *logger.Logger
	config      SRMWatchConfig

	lastRunStats atomic.Value // *SRMWatchStats
}

// SRMWatchConfig contains configuration for the SRM watch job.
type SRMWatchConfig struct {
	// Timeout bounds one full sweep.
	Timeout time.Duration

	// PerExperimentTimeout bounds the count query for one experiment.
	PerExperimentTimeout time.Duration
}

// DefaultSRMWatchConfig returns sensible defaults.
func DefaultSRMWatchConfig() SRMWatchConfig {
	return SRMWatchConfig{
		Timeout:              2 * time.Minute,
		PerExperimentTimeout: 10 * time.Second,
	}
}

// SRMWatchStats contains statistics from one sweep.
type SRMWatchStats struct {
	StartedAt          time.Time
	CompletedAt        time.Time
	ExperimentsChecked int
	ExperimentsSkipped int
	MismatchesFound    int
}

// NewSRMWatchJob creates a new SRMWatchJob.
func NewSRMWatchJob(
	experiments experiment.Repository,
	exposures experiment.ExposureReader,
	eventBus shared.EventBus,
	log *logger.Logger,
	config SRMWatchConfig,
) *SRMWatchJob {
	if log == nil {
		log = logger.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSRMWatchConfig().Timeout
	}
	if config.PerExperimentTimeout <= 0 {
		config.PerExperimentTimeout = DefaultSRMWatchConfig().PerExperimentTimeout
	}

	j := &SRMWatchJob{
		experiments: experiments,
		exposures:   exposures,
		eventBus:    eventBus,
		log:         log.With(logger.Component("srm_watch")),
		config:      config,
	}
	j.breaker = circuitbreaker.RegistryBreaker(func(name string, from, to circuitbreaker.State) {
		j.log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})

	return j
}

// Name implements scheduler.Job.
func (j *SRMWatchJob) Name() string {
	return "srm_watch"
}

// Description implements scheduler.Job.
func (j *SRMWatchJob) Description() string {
	return "Checks running experiments for sample ratio mismatches"
}

// Run implements scheduler.Job.
func (j *SRMWatchJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stats := &SRMWatchStats{StartedAt: time.Now().UTC()}
	defer func() {
		stats.CompletedAt = time.Now().UTC()
		j.lastRunStats.Store(stats)
	}()

	var running []*experiment.Experiment
	err := j.breaker.Execute(ctx, func(ctx context.Context) error {
		var listErr error
		running, listErr = j.experiments.ListByStatus(ctx, experiment.StatusRunning)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("list running experiments: %w", err)
	}

	for _, exp := range running {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		checked, found := j.checkOne(ctx, exp)
		if !checked {
			stats.ExperimentsSkipped++
			continue
		}
		stats.ExperimentsChecked++
		if found {
			stats.MismatchesFound++
		}
	}

	j.log.Info("sweep completed",
		logger.Int("checked", stats.ExperimentsChecked),
		logger.Int("skipped", stats.ExperimentsSkipped),
		logger.Int("mismatches", stats.MismatchesFound),
	)

	return nil
}

// checkOne runs the ratio check for a single experiment. The first return
// value is false when the experiment was skipped, the second is true when a
// mismatch was found and published.
func (j *SRMWatchJob) checkOne(ctx context.Context, exp *experiment.Experiment) (bool, bool) {
	ctx, cancel := context.WithTimeout(ctx, j.config.PerExperimentTimeout)
	defer cancel()

	counts, err := j.exposures.AssignmentCounts(ctx, exp.ID)
	if err != nil {
		j.log.Warn("failed to read exposure counts",
			logger.ExperimentID(exp.ID),
			logger.Err(err),
		)
		return false, false
	}

	report, err := integrity.CheckSRM(exp, counts)
	if err != nil {
		// Young experiments have too few exposures for the chi-square
		// approximation. They get picked up on a later sweep.
		if errors.Is(err, shared.ErrInvalidInput) {
			j.log.Debug("skipping ratio check",
				logger.ExperimentID(exp.ID),
				logger.Err(err),
			)
		} else {
			j.log.Warn("ratio check failed",
				logger.ExperimentID(exp.ID),
				logger.Err(err),
			)
		}
		return false, false
	}

	if !report.HasSRM {
		return true, false
	}

	observed, expected := worstVariantRatio(report)
	event := shared.SRMDetectedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventSRMDetected, exp.ID),
		ExperimentID:  exp.ID,
		PValue:        report.PValue,
		ObservedRatio: observed,
		ExpectedRatio: expected,
	}
	if err := j.eventBus.Publish(event); err != nil {
		j.log.Error("failed to publish SRM event",
			logger.ExperimentID(exp.ID),
			logger.Err(err),
		)
	}

	return true, true
}

// worstVariantRatio returns the observed and expected share of the variant
// that deviates the most. The alert carries a single pair of ratios, so the
// worst offender is the one worth paging about.
func worstVariantRatio(report integrity.SRMReport) (observed, expected float64) {
	worst := -1.0
	for label, exp := range report.ExpectedRatio {
		obs := report.ObservedRatio[label]
		d := obs - exp
		if d < 0 {
			d = -d
		}
		if d > worst {
			worst = d
			observed, expected = obs, exp
		}
	}
	return observed, expected
}

// LastRunStats returns statistics from the most recent sweep.
func (j *SRMWatchJob) LastRunStats() *SRMWatchStats {
	if stats, ok := j.lastRunStats.Load().(*SRMWatchStats); ok {
		return stats
	}
	return nil
}
