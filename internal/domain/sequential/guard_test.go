package sequential

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func TestAdjustedAlpha_PocockTable(t *testing.T) {
	expected := map[int]float64{
		1: 0.05,
		2: 0.0294,
		3: 0.0221,
		4: 0.0182,
		5: 0.0158,
	}
	for looks, alpha := range expected {
		got, err := AdjustedAlpha(looks)
		require.NoError(t, err)
		assert.Equal(t, alpha, got, "looks=%d", looks)
	}
}

func TestAdjustedAlpha_BeyondTable(t *testing.T) {
	got, err := AdjustedAlpha(10)
	require.NoError(t, err)
	assert.InDelta(t, 0.005, got, 1e-12)
}

func TestAdjustedAlpha_Invalid(t *testing.T) {
	_, err := AdjustedAlpha(0)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func guardExperiment(t *testing.T, plannedPeeks int) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.New(experiment.NewParams{
		ID:              "onboarding-v2",
		TrafficFraction: 1.0,
		Unit:            experiment.UnitSubject,
		Variants: []experiment.Variant{
			{Label: "control", Weight: 0.5, IsControl: true},
			{Label: "treatment", Weight: 0.5},
		},
		PrimaryMetric: experiment.Metric{Name: "activation", Type: experiment.MetricProportion},
		PlannedPeeks:  plannedPeeks,
	})
	require.NoError(t, err)
	return exp
}

func peekRequest(exp *experiment.Experiment, successesControl, successesTreatment int) analysis.Request {
	obs := func(label string, successes int) []analysis.Observation {
		out := make([]analysis.Observation, 5000)
		for i := range out {
			out[i] = analysis.Observation{SubjectID: fmt.Sprintf("%s-%d", label, i), VariantLabel: label}
			if i < successes {
				out[i].Value = 1
			}
		}
		return out
	}
	return analysis.Request{
		Experiment: exp,
		Primary: analysis.MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   obs("control", successesControl),
			Treatment: obs("treatment", successesTreatment),
		},
	}
}

func TestGuard_AppliesAdjustedAlpha(t *testing.T) {
	exp := guardExperiment(t, 2)
	guard := NewGuard(analysis.NewAnalyzer(""))

	res, err := guard.Analyze(context.Background(), peekRequest(exp, 450, 520))
	require.NoError(t, err)

	// p ≈ 0.018 clears the two-look Pocock threshold of 0.0294.
	assert.Equal(t, 0.0294, res.AlphaUsed)
	assert.Equal(t, 1, res.PeekIndex)
	assert.True(t, res.Significant)

	history := guard.History(exp.ID)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].Index)
	assert.Equal(t, 0.0294, history[0].AlphaUsed)
	assert.Equal(t, res.RunID, history[0].RunID)
	assert.True(t, history[0].Significant)
	assert.Equal(t, PhasePeeked, guard.PhaseOf(exp.ID))
}

func TestGuard_TightThresholdFlipsDecision(t *testing.T) {
	// The same data is significant at a single look but not at five.
	single := guardExperiment(t, 1)
	guard := NewGuard(analysis.NewAnalyzer(""))
	res, err := guard.Analyze(context.Background(), peekRequest(single, 450, 520))
	require.NoError(t, err)
	assert.True(t, res.Significant)

	five := guardExperiment(t, 5)
	five.ID = "onboarding-v2-five-looks"
	res, err = guard.Analyze(context.Background(), peekRequest(five, 450, 520))
	require.NoError(t, err)
	assert.Equal(t, 0.0158, res.AlphaUsed)
	assert.False(t, res.Significant)
}

func TestGuard_ExhaustsPlannedLooks(t *testing.T) {
	exp := guardExperiment(t, 2)
	guard := NewGuard(analysis.NewAnalyzer(""))

	for i := 1; i <= 2; i++ {
		res, err := guard.Analyze(context.Background(), peekRequest(exp, 500, 505))
		require.NoError(t, err)
		assert.Equal(t, i, res.PeekIndex)
	}

	_, err := guard.Analyze(context.Background(), peekRequest(exp, 500, 505))
	assert.True(t, errors.Is(err, shared.ErrInvalidState))
	assert.Len(t, guard.History(exp.ID), 2)
}

func TestGuard_FinalizeBlocksAnalysis(t *testing.T) {
	exp := guardExperiment(t, 3)
	guard := NewGuard(analysis.NewAnalyzer(""))

	res, err := guard.Analyze(context.Background(), peekRequest(exp, 450, 520))
	require.NoError(t, err)

	guard.Finalize(exp.ID, res.RunID)
	assert.Equal(t, PhaseFinalized, guard.PhaseOf(exp.ID))
	assert.Equal(t, res.RunID, guard.FinalRunID(exp.ID))

	_, err = guard.Analyze(context.Background(), peekRequest(exp, 450, 520))
	assert.True(t, errors.Is(err, shared.ErrExperimentAlreadyFinalized))
}

func TestGuard_FinalizeIdempotent(t *testing.T) {
	guard := NewGuard(analysis.NewAnalyzer(""))

	guard.Finalize("exp-x", "run-1")
	guard.Finalize("exp-x", "run-2")

	assert.Equal(t, "run-1", guard.FinalRunID("exp-x"), "the first finalizing run sticks")
	assert.Equal(t, PhaseFinalized, guard.PhaseOf("exp-x"))
}

func TestGuard_UnseenExperimentIsPlanned(t *testing.T) {
	guard := NewGuard(analysis.NewAnalyzer(""))
	assert.Equal(t, PhasePlanned, guard.PhaseOf("never-seen"))
	assert.Nil(t, guard.History("never-seen"))
	assert.Empty(t, guard.FinalRunID("never-seen"))
}

func TestGuard_ZeroPlannedPeeksMeansOneLook(t *testing.T) {
	exp := guardExperiment(t, 0)
	guard := NewGuard(analysis.NewAnalyzer(""))

	res, err := guard.Analyze(context.Background(), peekRequest(exp, 500, 505))
	require.NoError(t, err)
	assert.Equal(t, 0.05, res.AlphaUsed)

	_, err = guard.Analyze(context.Background(), peekRequest(exp, 500, 505))
	assert.True(t, errors.Is(err, shared.ErrInvalidState))
}
