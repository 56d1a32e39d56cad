package assignment

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func subjectExperiment(t *testing.T, variants []experiment.Variant) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.New(experiment.NewParams{
		ID:              "checkout-cta",
		StartAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndAt:           time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		TrafficFraction: 1.0,
		Unit:            experiment.UnitSubject,
		Variants:        variants,
		PrimaryMetric:   experiment.Metric{Name: "conversion", Type: experiment.MetricProportion},
	})
	require.NoError(t, err)
	return exp
}

func twoArms() []experiment.Variant {
	return []experiment.Variant{
		{Label: "control", Weight: 0.5, IsControl: true},
		{Label: "treatment", Weight: 0.5},
	}
}

func TestAssign_Deterministic(t *testing.T) {
	exp := subjectExperiment(t, twoArms())

	first, err := Assign(exp, Unit{SubjectID: "user-42"})
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		again, err := Assign(exp, Unit{SubjectID: "user-42"})
		require.NoError(t, err)
		assert.Equal(t, first.VariantLabel, again.VariantLabel)
		assert.Equal(t, first.Bucket, again.Bucket)
	}
	assert.Equal(t, StrategySimple, first.Strategy)
	assert.Equal(t, "user-42", first.UnitKey)
}

func TestAssign_WeightConservation(t *testing.T) {
	exp := subjectExperiment(t, []experiment.Variant{
		{Label: "control", Weight: 0.5, IsControl: true},
		{Label: "t1", Weight: 0.3},
		{Label: "t2", Weight: 0.2},
	})

	const n = 200000
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		a, err := Assign(exp, Unit{SubjectID: fmt.Sprintf("subject-%d", i)})
		require.NoError(t, err)
		counts[a.VariantLabel]++
	}

	for _, v := range exp.Variants {
		share := float64(counts[v.Label]) / n
		assert.InDeltaf(t, v.Weight, share, 0.005,
			"variant %s: expected share %.2f, got %.4f", v.Label, v.Weight, share)
	}
}

func TestAssign_SaltChangesAssignments(t *testing.T) {
	exp := subjectExperiment(t, twoArms())
	salted := subjectExperiment(t, twoArms())
	salted.Salt = "rerun-2"

	moved := 0
	const n = 1000
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("subject-%d", i)
		a, err := Assign(exp, Unit{SubjectID: id})
		require.NoError(t, err)
		b, err := Assign(salted, Unit{SubjectID: id})
		require.NoError(t, err)
		if a.VariantLabel != b.VariantLabel {
			moved++
		}
	}

	// With independent hashes about half the subjects land elsewhere.
	assert.Greater(t, moved, n/4)
}

func TestAssign_StratifiedUsesStratumKey(t *testing.T) {
	exp := subjectExperiment(t, twoArms())

	plain, err := Assign(exp, Unit{SubjectID: "user-7"})
	require.NoError(t, err)
	strat, err := Assign(exp, Unit{SubjectID: "user-7", Stratum: "mobile"})
	require.NoError(t, err)

	assert.Equal(t, StrategySimple, plain.Strategy)
	assert.Equal(t, StrategyStratified, strat.Strategy)
	assert.Equal(t, "mobile:user-7", strat.UnitKey)
	assert.NotEqual(t, plain.Bucket, strat.Bucket)
}

func TestAssign_ClusterInheritsAssignment(t *testing.T) {
	exp, err := experiment.New(experiment.NewParams{
		ID:              "store-layout",
		TrafficFraction: 1.0,
		Unit:            experiment.UnitCluster,
		Variants:        twoArms(),
		PrimaryMetric:   experiment.Metric{Name: "revenue", Type: experiment.MetricContinuous},
	})
	require.NoError(t, err)

	first, err := Assign(exp, Unit{ClusterID: "store-314", SubjectID: "a"})
	require.NoError(t, err)
	second, err := Assign(exp, Unit{ClusterID: "store-314", SubjectID: "b"})
	require.NoError(t, err)

	assert.Equal(t, first.VariantLabel, second.VariantLabel)
	assert.Equal(t, "store-314", first.UnitKey)
	assert.Equal(t, StrategyCluster, first.Strategy)
}

func TestAssign_SwitchbackSharesWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	exp, err := experiment.New(experiment.NewParams{
		ID:               "surge-pricing",
		StartAt:          start,
		TrafficFraction:  1.0,
		Unit:             experiment.UnitTimeWindow,
		SwitchbackWindow: time.Hour,
		Variants:         twoArms(),
		PrimaryMetric:    experiment.Metric{Name: "eta", Type: experiment.MetricContinuous},
	})
	require.NoError(t, err)

	early, err := Assign(exp, Unit{At: start.Add(10 * time.Minute)})
	require.NoError(t, err)
	late, err := Assign(exp, Unit{At: start.Add(50 * time.Minute)})
	require.NoError(t, err)
	next, err := Assign(exp, Unit{At: start.Add(70 * time.Minute)})
	require.NoError(t, err)

	assert.Equal(t, early.VariantLabel, late.VariantLabel)
	assert.Equal(t, "w0", early.UnitKey)
	assert.Equal(t, "w1", next.UnitKey)
	assert.Equal(t, StrategySwitchback, early.Strategy)
}

func TestAssign_MissingKeysRejected(t *testing.T) {
	subject := subjectExperiment(t, twoArms())
	_, err := Assign(subject, Unit{})
	assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration))

	cluster, err := experiment.New(experiment.NewParams{
		ID:              "cluster-exp",
		TrafficFraction: 1.0,
		Unit:            experiment.UnitCluster,
		Variants:        twoArms(),
		PrimaryMetric:   experiment.Metric{Name: "conversion", Type: experiment.MetricProportion},
	})
	require.NoError(t, err)
	_, err = Assign(cluster, Unit{SubjectID: "user-1"})
	assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration))

	_, err = Assign(nil, Unit{SubjectID: "user-1"})
	assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration))
}

func TestAssign_BadWeightsRejected(t *testing.T) {
	exp := subjectExperiment(t, twoArms())
	exp.Variants[0].Weight = 0.7 // corrupt after construction

	_, err := Assign(exp, Unit{SubjectID: "user-1"})
	assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration))
}

func TestVariantFor_BucketBoundaries(t *testing.T) {
	exp := subjectExperiment(t, []experiment.Variant{
		{Label: "a-control", Weight: 0.25, IsControl: true},
		{Label: "b-treatment", Weight: 0.75},
	})

	// Ranges are laid out in label order: a-control owns [0, 0.25).
	assert.Equal(t, "a-control", variantFor(exp, 0.0))
	assert.Equal(t, "a-control", variantFor(exp, 0.2499))
	assert.Equal(t, "b-treatment", variantFor(exp, 0.25))
	assert.Equal(t, "b-treatment", variantFor(exp, 0.9999))
}

func TestBucketOf_Range(t *testing.T) {
	for i := 0; i < 1000; i++ {
		b := bucketOf("exp", fmt.Sprintf("key-%d", i), "")
		assert.GreaterOrEqual(t, b, 0.0)
		assert.Less(t, b, 1.0)

		// Every bucket is k/BucketCount for an integer k. The quotient is
		// not exactly representable, so compare against the rounded scale
		// rather than flooring it.
		scaled := b * BucketCount
		assert.InDelta(t, math.Round(scaled), scaled, 1e-9)
	}
}
