package integrity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func newExperiment(t *testing.T, variants []experiment.Variant) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.New(experiment.NewParams{
		ID:              "signup-flow",
		StartAt:         time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EndAt:           time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
		TrafficFraction: 1.0,
		Unit:            experiment.UnitSubject,
		Variants:        variants,
		PrimaryMetric:   experiment.Metric{Name: "signup", Type: experiment.MetricProportion},
	})
	require.NoError(t, err)
	return exp
}

func evenSplit(t *testing.T) *experiment.Experiment {
	return newExperiment(t, []experiment.Variant{
		{Label: "control", Weight: 0.5, IsControl: true},
		{Label: "treatment", Weight: 0.5},
	})
}

func TestCheckSRM_BalancedSplit(t *testing.T) {
	exp := evenSplit(t)

	report, err := CheckSRM(exp, experiment.AssignmentCounts{
		"control":   5010,
		"treatment": 4990,
	})
	require.NoError(t, err)

	assert.False(t, report.HasSRM)
	assert.Greater(t, report.PValue, 0.5)
	assert.Equal(t, int64(10000), report.TotalObserved)
	assert.InDelta(t, 0.501, report.ObservedRatio["control"], 1e-9)
	assert.Equal(t, 0.5, report.ExpectedRatio["control"])
}

func TestCheckSRM_BiasedSplit(t *testing.T) {
	exp := evenSplit(t)

	// 52/48 on 10k exposures: chi-square = 16, p ≈ 6e-5, well past the
	// 0.001 threshold.
	report, err := CheckSRM(exp, experiment.AssignmentCounts{
		"control":   5200,
		"treatment": 4800,
	})
	require.NoError(t, err)

	assert.True(t, report.HasSRM)
	assert.Less(t, report.PValue, SRMAlpha)
	assert.InDelta(t, 16.0, report.ChiSquare, 1e-9)
	assert.InDelta(t, 0.02, report.MaxRatioDeviation(), 1e-9)
}

func TestCheckSRM_UnevenWeights(t *testing.T) {
	exp := newExperiment(t, []experiment.Variant{
		{Label: "control", Weight: 0.9, IsControl: true},
		{Label: "treatment", Weight: 0.1},
	})

	report, err := CheckSRM(exp, experiment.AssignmentCounts{
		"control":   9030,
		"treatment": 970,
	})
	require.NoError(t, err)
	assert.False(t, report.HasSRM)

	report, err = CheckSRM(exp, experiment.AssignmentCounts{
		"control":   8000,
		"treatment": 2000,
	})
	require.NoError(t, err)
	assert.True(t, report.HasSRM)
}

func TestCheckSRM_MissingVariantCountsAsZero(t *testing.T) {
	exp := evenSplit(t)

	report, err := CheckSRM(exp, experiment.AssignmentCounts{
		"control": 500,
	})
	require.NoError(t, err)

	assert.True(t, report.HasSRM, "one arm receiving no traffic is the worst SRM there is")
	assert.Equal(t, 0.0, report.ObservedRatio["treatment"])
}

func TestCheckSRM_TooFewSamples(t *testing.T) {
	exp := evenSplit(t)

	_, err := CheckSRM(exp, experiment.AssignmentCounts{
		"control":   30,
		"treatment": 20,
	})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestCheckSRM_UnknownVariant(t *testing.T) {
	exp := evenSplit(t)

	_, err := CheckSRM(exp, experiment.AssignmentCounts{
		"control":   5000,
		"treatment": 5000,
		"phantom":   100,
	})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestCheckSRM_NilExperiment(t *testing.T) {
	_, err := CheckSRM(nil, experiment.AssignmentCounts{})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestVerifyObservations(t *testing.T) {
	clean := []ObservationKey{
		{SubjectID: "u1", MetricName: "conversion"},
		{SubjectID: "u2", MetricName: "conversion"},
		{SubjectID: "u1", MetricName: "revenue"},
	}
	assert.NoError(t, VerifyObservations(clean))
	assert.NoError(t, VerifyObservations(nil))
}

func TestVerifyObservations_Duplicates(t *testing.T) {
	keys := []ObservationKey{
		{SubjectID: "u2", MetricName: "conversion"},
		{SubjectID: "u1", MetricName: "conversion"},
		{SubjectID: "u2", MetricName: "conversion"},
		{SubjectID: "u1", MetricName: "conversion"},
	}

	err := VerifyObservations(keys)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrDuplicateObservation))
	// Deterministic: the smallest duplicated key is named regardless of
	// input order.
	assert.Contains(t, err.Error(), `subject "u1"`)
	assert.Contains(t, err.Error(), "2 duplicate rows")
}
