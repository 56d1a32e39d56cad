package power

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func TestRequiredSampleSize_Proportion(t *testing.T) {
	// Detecting a 1pp absolute lift over a 10% baseline at the defaults
	// needs roughly 14.75k subjects per arm.
	plan, err := RequiredSampleSize(SampleSizeInput{
		MetricType: experiment.MetricProportion,
		Baseline:   0.10,
		MDE:        0.01,
	})
	require.NoError(t, err)

	assert.InDelta(t, 14751, plan.NPerArm, 60)
	assert.Equal(t, 2*plan.NPerArm, plan.TotalN)
	assert.Equal(t, 0.01, plan.MDEAbsolute)
	assert.GreaterOrEqual(t, plan.AchievedPower, 0.80)
	assert.Less(t, plan.AchievedPower, 0.82)
}

func TestRequiredSampleSize_RelativeMDE(t *testing.T) {
	absolute, err := RequiredSampleSize(SampleSizeInput{
		MetricType: experiment.MetricProportion,
		Baseline:   0.10,
		MDE:        0.01,
	})
	require.NoError(t, err)

	relative, err := RequiredSampleSize(SampleSizeInput{
		MetricType: experiment.MetricProportion,
		Baseline:   0.10,
		MDE:        0.10,
		Relative:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, absolute.NPerArm, relative.NPerArm)
	assert.InDelta(t, 0.01, relative.MDEAbsolute, 1e-12)
}

func TestRequiredSampleSize_Continuous(t *testing.T) {
	// d = 0.1 at the defaults: n = 2*((1.96+0.8416)/0.1)^2 ≈ 1570.
	plan, err := RequiredSampleSize(SampleSizeInput{
		MetricType: experiment.MetricContinuous,
		Baseline:   25.0,
		StdDev:     4.0,
		MDE:        0.4,
	})
	require.NoError(t, err)

	assert.InDelta(t, 1570, plan.NPerArm, 10)
	assert.GreaterOrEqual(t, plan.AchievedPower, 0.80)
}

func TestRequiredSampleSize_Monotonicity(t *testing.T) {
	base := SampleSizeInput{
		MetricType: experiment.MetricProportion,
		Baseline:   0.10,
		MDE:        0.01,
	}

	small, err := RequiredSampleSize(base)
	require.NoError(t, err)

	bigger := base
	bigger.MDE = 0.02
	large, err := RequiredSampleSize(bigger)
	require.NoError(t, err)
	assert.Less(t, large.NPerArm, small.NPerArm, "a larger effect needs fewer subjects")

	strict := base
	strict.Power = 0.90
	powered, err := RequiredSampleSize(strict)
	require.NoError(t, err)
	assert.Greater(t, powered.NPerArm, small.NPerArm, "more power needs more subjects")

	tight := base
	tight.Alpha = 0.01
	conservative, err := RequiredSampleSize(tight)
	require.NoError(t, err)
	assert.Greater(t, conservative.NPerArm, small.NPerArm, "a stricter alpha needs more subjects")
}

func TestRequiredSampleSize_InvalidInputs(t *testing.T) {
	cases := []struct {
		name string
		in   SampleSizeInput
	}{
		{"zero mde", SampleSizeInput{MetricType: experiment.MetricProportion, Baseline: 0.1}},
		{"baseline at zero", SampleSizeInput{MetricType: experiment.MetricProportion, Baseline: 0, MDE: 0.01}},
		{"baseline at one", SampleSizeInput{MetricType: experiment.MetricProportion, Baseline: 1, MDE: 0.01}},
		{"treatment rate reaches one", SampleSizeInput{MetricType: experiment.MetricProportion, Baseline: 0.95, MDE: 0.06}},
		{"zero stddev", SampleSizeInput{MetricType: experiment.MetricContinuous, Baseline: 10, MDE: 0.5}},
		{"alpha out of range", SampleSizeInput{MetricType: experiment.MetricProportion, Baseline: 0.1, MDE: 0.01, Alpha: 1.5}},
		{"power out of range", SampleSizeInput{MetricType: experiment.MetricProportion, Baseline: 0.1, MDE: 0.01, Power: -0.2}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RequiredSampleSize(tc.in)
			assert.True(t, errors.Is(err, shared.ErrInvalidInput), "expected invalid input, got %v", err)
		})
	}
}

func TestAchievedPower_GrowsWithN(t *testing.T) {
	in := PowerInput{
		MetricType: experiment.MetricProportion,
		Baseline:   0.10,
		MDE:        0.01,
	}

	low, err := AchievedPower(5000, in)
	require.NoError(t, err)
	high, err := AchievedPower(20000, in)
	require.NoError(t, err)

	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, MaxReportedPower)
}

func TestAchievedPower_Capped(t *testing.T) {
	p, err := AchievedPower(10_000_000, PowerInput{
		MetricType: experiment.MetricProportion,
		Baseline:   0.10,
		MDE:        0.05,
	})
	require.NoError(t, err)
	assert.Equal(t, MaxReportedPower, p)
}

func TestEstimateDuration(t *testing.T) {
	est, err := EstimateDuration(29502, 10000, 0.5, false)
	require.NoError(t, err)

	assert.Equal(t, 6, est.Days)
	assert.Equal(t, 5000, est.EffectiveDailyTraffic)
	assert.NotEmpty(t, est.Warning, "sub-week runs carry a seasonality warning")
}

func TestEstimateDuration_WeeklySeasonality(t *testing.T) {
	est, err := EstimateDuration(29502, 10000, 0.5, true)
	require.NoError(t, err)

	assert.Equal(t, 7, est.Days)
	assert.Equal(t, 1.0, est.Weeks)
	assert.Empty(t, est.Warning)
}

func TestEstimateDuration_LongRunWarning(t *testing.T) {
	est, err := EstimateDuration(1_000_000, 10000, 0.1, false)
	require.NoError(t, err)

	assert.Greater(t, est.Days, 90)
	assert.NotEmpty(t, est.Warning)
}

func TestEstimateDuration_InvalidInputs(t *testing.T) {
	_, err := EstimateDuration(0, 1000, 0.5, false)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	_, err = EstimateDuration(1000, 1000, 0, false)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	_, err = EstimateDuration(1000, 0, 0.5, false)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}
