// Package query contains read operations (CQRS - Queries).
package query

import (
	"errors"
	"fmt"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/power"
)

// ══════════════════════════════════════════════════════════════════════════════
// DESIGN EXPERIMENT QUERY
// Answers "how many subjects and how long" before an experiment is registered.
// Pure computation; no stored state is touched.
// ══════════════════════════════════════════════════════════════════════════════

// DesignExperimentQuery contains the planning inputs.
type DesignExperimentQuery struct {
	// MetricType selects the sample size formula.
	MetricType experiment.MetricType

	// Baseline is the control rate (proportions) or mean (continuous).
	Baseline float64

	// StdDev is the control standard deviation, continuous metrics only.
	StdDev float64

	// MDE is the minimum detectable effect; Relative scales it by Baseline.
	MDE      float64
	Relative bool

	// Alpha and Power; zero values take the engine defaults.
	Alpha float64
	Power float64

	// DailyTraffic is the eligible subjects per day, for the duration
	// estimate. Zero skips the estimate.
	DailyTraffic int

	// TrafficFraction is the enrolled share of eligible traffic.
	TrafficFraction float64

	// WeeklySeasonality rounds the duration up to whole weeks.
	WeeklySeasonality bool
}

// Validate validates the query.
func (q DesignExperimentQuery) Validate() error {
	if !q.MetricType.IsValid() {
		return fmt.Errorf("design_experiment: unknown metric type %q", q.MetricType)
	}
	if q.MDE == 0 {
		return errors.New("design_experiment: mde is required")
	}
	return nil
}

// DesignExperimentResult contains the sample size plan and, when traffic
// figures were supplied, the duration estimate.
type DesignExperimentResult struct {
	Plan     power.SampleSizePlan
	Duration *power.DurationEstimate
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// DesignExperimentHandler handles the DesignExperimentQuery.
type DesignExperimentHandler struct{}

// NewDesignExperimentHandler creates a new DesignExperimentHandler.
func NewDesignExperimentHandler() *DesignExperimentHandler {
	return &DesignExperimentHandler{}
}

// Handle computes the plan.
func (h *DesignExperimentHandler) Handle(q DesignExperimentQuery) (*DesignExperimentResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	plan, err := power.RequiredSampleSize(power.SampleSizeInput{
		MetricType: q.MetricType,
		Baseline:   q.Baseline,
		StdDev:     q.StdDev,
		MDE:        q.MDE,
		Relative:   q.Relative,
		Alpha:      q.Alpha,
		Power:      q.Power,
	})
	if err != nil {
		return nil, err
	}

	result := &DesignExperimentResult{Plan: plan}

	if q.DailyTraffic > 0 {
		fraction := q.TrafficFraction
		if fraction == 0 {
			fraction = 1.0
		}
		est, err := power.EstimateDuration(plan.TotalN, q.DailyTraffic, fraction, q.WeeklySeasonality)
		if err != nil {
			return nil, err
		}
		result.Duration = &est
	}

	return result, nil
}
