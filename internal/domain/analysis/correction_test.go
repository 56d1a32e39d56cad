package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func TestAdjustPValues_None(t *testing.T) {
	in := []float64{0.01, 0.04, 0.03}
	out, err := AdjustPValues(in, CorrectionNone)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestAdjustPValues_Bonferroni(t *testing.T) {
	out, err := AdjustPValues([]float64{0.01, 0.04, 0.5}, CorrectionBonferroni)
	require.NoError(t, err)

	assert.InDelta(t, 0.03, out[0], 1e-12)
	assert.InDelta(t, 0.12, out[1], 1e-12)
	assert.Equal(t, 1.0, out[2], "adjusted values clamp at 1")
}

func TestAdjustPValues_BenjaminiHochberg(t *testing.T) {
	// Classic step-up example: adjusted p_i = p_i * m / rank_i, then
	// monotonicity enforced from the top.
	out, err := AdjustPValues([]float64{0.01, 0.04, 0.03, 0.005}, CorrectionBenjaminiHochberg)
	require.NoError(t, err)

	// Sorted raw: 0.005, 0.01, 0.03, 0.04 with ranks 1..4.
	assert.InDelta(t, 0.02, out[3], 1e-12)  // 0.005*4/1
	assert.InDelta(t, 0.02, out[0], 1e-12)  // 0.01*4/2
	assert.InDelta(t, 0.04, out[2], 1e-12)  // 0.03*4/3 = 0.04 -> capped by 0.04*4/4
	assert.InDelta(t, 0.04, out[1], 1e-12)  // 0.04*4/4
}

func TestAdjustPValues_BHMonotonicity(t *testing.T) {
	out, err := AdjustPValues([]float64{0.02, 0.021, 0.8}, CorrectionBenjaminiHochberg)
	require.NoError(t, err)

	// A smaller raw p never receives a larger adjusted p.
	assert.LessOrEqual(t, out[0], out[1])
	assert.LessOrEqual(t, out[1], out[2])
}

func TestAdjustPValues_SingleValueUnchanged(t *testing.T) {
	for _, method := range []CorrectionMethod{CorrectionNone, CorrectionBonferroni, CorrectionBenjaminiHochberg} {
		out, err := AdjustPValues([]float64{0.018}, method)
		require.NoError(t, err)
		assert.InDelta(t, 0.018, out[0], 1e-12, "method %s", method)
	}
}

func TestAdjustPValues_Empty(t *testing.T) {
	out, err := AdjustPValues(nil, CorrectionBenjaminiHochberg)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestAdjustPValues_Invalid(t *testing.T) {
	_, err := AdjustPValues([]float64{0.5}, CorrectionMethod("holm"))
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	_, err = AdjustPValues([]float64{1.5}, CorrectionBonferroni)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestAdjustPValues_InputNotModified(t *testing.T) {
	in := []float64{0.04, 0.01, 0.03}
	_, err := AdjustPValues(in, CorrectionBenjaminiHochberg)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.04, 0.01, 0.03}, in)
}
