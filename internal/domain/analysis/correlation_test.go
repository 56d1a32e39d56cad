package analysis

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func TestCorrelate_PearsonPerfect(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{2, 4, 6, 8, 10}

	res, err := Correlate(x, y, CorrelationPearson)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, res.R, 1e-9)
	assert.True(t, math.IsInf(res.TStatistic, 1))
	assert.Equal(t, 0.0, res.PValue)
	assert.Equal(t, 5, res.N)
}

func TestCorrelate_PearsonNoise(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	y := []float64{3, 1, 4, 1, 5, 9, 2, 6}

	res, err := Correlate(x, y, CorrelationPearson)
	require.NoError(t, err)

	assert.Greater(t, res.PValue, 0.05)
	assert.Less(t, math.Abs(res.R), 0.7)
}

func TestCorrelate_DefaultsToPearson(t *testing.T) {
	res, err := Correlate([]float64{1, 2, 3}, []float64{1, 2, 3}, "")
	require.NoError(t, err)
	assert.Equal(t, CorrelationPearson, res.Method)
}

func TestCorrelate_SpearmanMonotonic(t *testing.T) {
	// Exponential growth is monotonic but not linear: Spearman sees a
	// perfect association where Pearson does not.
	x := []float64{1, 2, 3, 4, 5, 6}
	y := []float64{1, 2, 4, 8, 16, 32}

	spearman, err := Correlate(x, y, CorrelationSpearman)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, spearman.R, 1e-9)

	pearson, err := Correlate(x, y, CorrelationPearson)
	require.NoError(t, err)
	assert.Less(t, pearson.R, spearman.R)
}

func TestCorrelate_SpearmanTies(t *testing.T) {
	x := []float64{1, 2, 2, 3}
	y := []float64{10, 20, 20, 30}

	res, err := Correlate(x, y, CorrelationSpearman)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.R, 1e-9)
}

func TestCorrelate_Errors(t *testing.T) {
	_, err := Correlate([]float64{1, 2}, []float64{1, 2, 3}, CorrelationPearson)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput), "length mismatch")

	_, err = Correlate([]float64{1, 2}, []float64{1, 2}, CorrelationPearson)
	assert.True(t, errors.Is(err, shared.ErrIndeterminate), "too few pairs")

	_, err = Correlate([]float64{1, 1, 1}, []float64{1, 2, 3}, CorrelationPearson)
	assert.True(t, errors.Is(err, shared.ErrIndeterminate), "zero variance")

	_, err = Correlate([]float64{1, 2, 3}, []float64{1, 2, 3}, CorrelationMethod("kendall"))
	assert.True(t, errors.Is(err, shared.ErrInvalidInput), "unknown method")
}
