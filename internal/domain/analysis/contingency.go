package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// MinExpectedCellCount is the threshold below which the chi-square
// approximation is unreliable for an RxC table.
const MinExpectedCellCount = 5.0

// ContingencyResult is the outcome of an RxC chi-square test of independence.
type ContingencyResult struct {
	// ChiSquare is the test statistic.
	ChiSquare float64 `json:"chi_square"`

	// DegreesOfFreedom is (rows-1)*(cols-1).
	DegreesOfFreedom int `json:"degrees_of_freedom"`

	// PValue is the probability of a table at least this extreme under
	// independence.
	PValue float64 `json:"p_value"`

	// CramersV is the effect size, in [0, 1].
	CramersV float64 `json:"cramers_v"`

	// Total is the grand total of the table.
	Total float64 `json:"total"`
}

// ChiSquareIndependence tests whether the row and column factors of a
// contingency table are independent. Fails with ErrInsufficientExpectedCount
// when any expected cell falls below MinExpectedCellCount.
func ChiSquareIndependence(table [][]float64) (ContingencyResult, error) {
	const op = "ChiSquareIndependence"

	rows := len(table)
	if rows < 2 {
		return ContingencyResult{}, invalid(op, "table needs at least two rows")
	}
	cols := len(table[0])
	if cols < 2 {
		return ContingencyResult{}, invalid(op, "table needs at least two columns")
	}

	rowTotals := make([]float64, rows)
	colTotals := make([]float64, cols)
	total := 0.0
	for i, row := range table {
		if len(row) != cols {
			return ContingencyResult{}, invalid(op, "ragged table")
		}
		for j, cell := range row {
			if cell < 0 {
				return ContingencyResult{}, invalid(op, "negative cell count")
			}
			rowTotals[i] += cell
			colTotals[j] += cell
			total += cell
		}
	}
	if total == 0 {
		return ContingencyResult{}, indeterminate(op, "empty table")
	}

	chi := 0.0
	for i := range table {
		for j := range table[i] {
			expected := rowTotals[i] * colTotals[j] / total
			if expected < MinExpectedCellCount {
				return ContingencyResult{}, shared.NewDomainError("analysis", op,
					shared.ErrInsufficientExpectedCount,
					fmt.Sprintf("expected count %.2f in cell (%d,%d) below %.0f", expected, i, j, MinExpectedCellCount))
			}
			diff := table[i][j] - expected
			chi += diff * diff / expected
		}
	}

	df := (rows - 1) * (cols - 1)
	dist := distuv.ChiSquared{K: float64(df)}
	p := 1 - dist.CDF(chi)
	if p < 0 {
		p = 0
	}

	minDim := rows - 1
	if cols-1 < minDim {
		minDim = cols - 1
	}
	v := math.Sqrt(chi / (total * float64(minDim)))

	return ContingencyResult{
		ChiSquare:        chi,
		DegreesOfFreedom: df,
		PValue:           p,
		CramersV:         v,
		Total:            total,
	}, nil
}
