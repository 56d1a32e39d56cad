package analysis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func TestChiSquareIndependence_Independent(t *testing.T) {
	// Rows proportional to each other: no association.
	res, err := ChiSquareIndependence([][]float64{
		{100, 200},
		{50, 100},
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.0, res.ChiSquare, 1e-9)
	assert.InDelta(t, 1.0, res.PValue, 1e-9)
	assert.Equal(t, 1, res.DegreesOfFreedom)
	assert.Equal(t, 450.0, res.Total)
	assert.InDelta(t, 0.0, res.CramersV, 1e-9)
}

func TestChiSquareIndependence_Associated(t *testing.T) {
	res, err := ChiSquareIndependence([][]float64{
		{90, 10},
		{40, 60},
	})
	require.NoError(t, err)

	assert.Less(t, res.PValue, 0.001)
	assert.Greater(t, res.CramersV, 0.4)
}

func TestChiSquareIndependence_ThreeByTwo(t *testing.T) {
	res, err := ChiSquareIndependence([][]float64{
		{30, 20},
		{25, 25},
		{20, 30},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.DegreesOfFreedom)
}

func TestChiSquareIndependence_LowExpectedCount(t *testing.T) {
	_, err := ChiSquareIndependence([][]float64{
		{2, 100},
		{3, 100},
	})
	assert.True(t, errors.Is(err, shared.ErrInsufficientExpectedCount))
}

func TestChiSquareIndependence_InvalidTables(t *testing.T) {
	_, err := ChiSquareIndependence([][]float64{{1, 2}})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput), "single row")

	_, err = ChiSquareIndependence([][]float64{{1}, {2}})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput), "single column")

	_, err = ChiSquareIndependence([][]float64{{1, 2}, {3}})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput), "ragged")

	_, err = ChiSquareIndependence([][]float64{{1, -2}, {3, 4}})
	assert.True(t, errors.Is(err, shared.ErrInvalidInput), "negative cell")

	_, err = ChiSquareIndependence([][]float64{{0, 0}, {0, 0}})
	assert.True(t, errors.Is(err, shared.ErrIndeterminate), "empty table")
}
