package analysis

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func TestTwoProportionZTest_DetectsLift(t *testing.T) {
	// 9.0% control vs 10.4% treatment on 5000 per arm.
	res, err := TwoProportionZTest(450, 5000, 520, 5000, 0.05)
	require.NoError(t, err)

	assert.InDelta(t, 0.090, res.RateControl, 1e-9)
	assert.InDelta(t, 0.104, res.RateTreatment, 1e-9)
	assert.InDelta(t, 0.014, res.AbsoluteDiff, 1e-9)
	assert.InDelta(t, 2.365, res.ZScore, 0.05)
	assert.InDelta(t, 0.018, res.PValue, 0.005)
	assert.InDelta(t, 0.1556, res.RelativeLift, 1e-3)

	assert.Greater(t, res.LiftCI[0], 0.0, "lift interval should exclude zero")
	assert.Greater(t, res.DiffCI[0], 0.0)
	assert.Less(t, res.DiffCI[0], res.DiffCI[1])
}

func TestTwoProportionZTest_NoDifference(t *testing.T) {
	res, err := TwoProportionZTest(500, 5000, 500, 5000, 0.05)
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.AbsoluteDiff)
	assert.Equal(t, 0.0, res.ZScore)
	assert.InDelta(t, 1.0, res.PValue, 1e-9)
	assert.Less(t, res.DiffCI[0], 0.0)
	assert.Greater(t, res.DiffCI[1], 0.0)
}

func TestTwoProportionZTest_ZeroBaseline(t *testing.T) {
	res, err := TwoProportionZTest(0, 1000, 30, 1000, 0.05)
	require.NoError(t, err)

	assert.True(t, math.IsInf(res.RelativeLift, 1))
	assert.Greater(t, res.AbsoluteDiff, 0.0)
	assert.Less(t, res.PValue, 0.05)
}

func TestTwoProportionZTest_BothZero(t *testing.T) {
	// Zero conversions in both arms: the pooled rate has no variance.
	_, err := TwoProportionZTest(0, 1000, 0, 1000, 0.05)
	assert.True(t, errors.Is(err, shared.ErrIndeterminate))
}

func TestTwoProportionZTest_EmptyArm(t *testing.T) {
	_, err := TwoProportionZTest(0, 0, 50, 1000, 0.05)
	assert.True(t, errors.Is(err, shared.ErrIndeterminate))
}

func TestTwoProportionZTest_InvalidInputs(t *testing.T) {
	_, err := TwoProportionZTest(1500, 1000, 50, 1000, 0.05)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	_, err = TwoProportionZTest(100, 1000, 50, 1000, 1.5)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestCohensH_Buckets(t *testing.T) {
	assert.Equal(t, EffectNegligible, InterpretEffectSize(CohensH(0.10, 0.104)))
	assert.Equal(t, EffectLarge, InterpretEffectSize(CohensH(0.10, 0.50)))
	assert.Less(t, CohensH(0.2, 0.1), 0.0, "a drop yields a negative effect size")
}
