package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func TestWelchTTest_DetectsShift(t *testing.T) {
	control := []float64{9.1, 10.2, 9.8, 10.5, 9.9, 10.1, 9.7, 10.3, 9.6, 10.0}
	treatment := []float64{11.0, 12.1, 11.8, 12.4, 11.5, 12.0, 11.3, 12.2, 11.7, 11.9}

	res, err := WelchTTest(control, treatment, 0.05)
	require.NoError(t, err)

	assert.True(t, res.Welch)
	assert.InDelta(t, 9.92, res.MeanControl, 1e-9)
	assert.InDelta(t, 11.79, res.MeanTreatment, 1e-9)
	assert.InDelta(t, 1.87, res.MeanDiff, 1e-9)
	assert.Less(t, res.PValue, 0.001)
	assert.Greater(t, res.DiffCI[0], 0.0)
	assert.Equal(t, EffectLarge, InterpretEffectSize(res.CohensD))
	assert.Greater(t, res.DegreesOfFreedom, 10.0)
	assert.Less(t, res.DegreesOfFreedom, 18.5)
}

func TestWelchTTest_NoShift(t *testing.T) {
	control := []float64{10.1, 9.9, 10.0, 10.2, 9.8, 10.05, 9.95, 10.1}
	treatment := []float64{10.0, 10.1, 9.9, 10.15, 9.85, 10.05, 10.0, 9.95}

	res, err := WelchTTest(control, treatment, 0.05)
	require.NoError(t, err)

	assert.Greater(t, res.PValue, 0.05)
	assert.Less(t, res.DiffCI[0], 0.0)
	assert.Greater(t, res.DiffCI[1], 0.0)
}

func TestStudentTTest_PooledDegreesOfFreedom(t *testing.T) {
	control := []float64{1, 2, 3, 4, 5}
	treatment := []float64{2, 3, 4, 5, 6}

	res, err := StudentTTest(control, treatment, 0.05)
	require.NoError(t, err)

	assert.False(t, res.Welch)
	assert.Equal(t, 8.0, res.DegreesOfFreedom)
	assert.InDelta(t, 1.0, res.MeanDiff, 1e-9)
}

func TestWelchTTest_UnequalVariances(t *testing.T) {
	// One tight arm, one noisy arm: Welch df falls well below n1+n2-2.
	control := []float64{10.0, 10.01, 9.99, 10.02, 9.98, 10.0, 10.01, 9.99}
	treatment := []float64{8, 14, 9, 13, 10, 12, 7, 15}

	res, err := WelchTTest(control, treatment, 0.05)
	require.NoError(t, err)
	assert.Less(t, res.DegreesOfFreedom, 9.0)
}

func TestTTest_ZeroVarianceBothArms(t *testing.T) {
	_, err := WelchTTest([]float64{5, 5, 5}, []float64{7, 7, 7}, 0.05)
	assert.True(t, errors.Is(err, shared.ErrIndeterminate))
}

func TestTTest_TooFewObservations(t *testing.T) {
	_, err := WelchTTest([]float64{5}, []float64{7, 8}, 0.05)
	assert.True(t, errors.Is(err, shared.ErrIndeterminate))
}

func TestTTest_InvalidAlpha(t *testing.T) {
	_, err := WelchTTest([]float64{1, 2, 3}, []float64{2, 3, 4}, 0)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestSummarize(t *testing.T) {
	obs := []Observation{
		{SubjectID: "a", Value: 1},
		{SubjectID: "b", Value: 0},
		{SubjectID: "c", Value: 1},
		{SubjectID: "d", Value: 0},
	}

	s := Summarize(obs)
	assert.Equal(t, 4, s.N)
	assert.Equal(t, 0.5, s.Mean)
	assert.Equal(t, 2, s.Successes)
	assert.InDelta(t, 1.0/3.0, s.Variance, 1e-9)

	assert.Equal(t, Sample{}, Summarize(nil))
}
