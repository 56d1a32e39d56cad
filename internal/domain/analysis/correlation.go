package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// CorrelationMethod selects the correlation coefficient.
type CorrelationMethod string

const (
	// CorrelationPearson measures linear association on the raw values.
	CorrelationPearson CorrelationMethod = "pearson"

	// CorrelationSpearman is the rank-based fallback for monotonic but
	// non-linear relationships or heavy-tailed data.
	CorrelationSpearman CorrelationMethod = "spearman"
)

// CorrelationResult pairs a correlation coefficient with its significance.
type CorrelationResult struct {
	// Method is the coefficient computed.
	Method CorrelationMethod `json:"method"`

	// R is the correlation coefficient, in [-1, 1].
	R float64 `json:"r"`

	// TStatistic is the t statistic of the null r=0 test.
	TStatistic float64 `json:"t_statistic"`

	// PValue is the two-sided p-value with n-2 degrees of freedom.
	PValue float64 `json:"p_value"`

	// N is the number of paired observations.
	N int `json:"n"`
}

// Correlate computes the requested correlation between two paired series with
// a t-based significance test.
func Correlate(x, y []float64, method CorrelationMethod) (CorrelationResult, error) {
	const op = "Correlate"

	if len(x) != len(y) {
		return CorrelationResult{}, invalid(op, "series must have equal length")
	}
	n := len(x)
	if n < 3 {
		return CorrelationResult{}, indeterminate(op, "need at least three pairs")
	}

	switch method {
	case CorrelationSpearman:
		x = ranks(x)
		y = ranks(y)
	case CorrelationPearson, "":
		method = CorrelationPearson
	default:
		return CorrelationResult{}, invalid(op, "unknown correlation method")
	}

	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return CorrelationResult{}, indeterminate(op, "a series has zero variance")
	}

	// Guard the degenerate |r|=1 case before the t transform divides by zero.
	df := float64(n - 2)
	var t, p float64
	if math.Abs(r) >= 1 {
		t = math.Inf(1) * math.Copysign(1, r)
		p = 0
	} else {
		t = r * math.Sqrt(df/(1-r*r))
		tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
		p = 2 * (1 - tDist.CDF(math.Abs(t)))
	}

	return CorrelationResult{
		Method:     method,
		R:          r,
		TStatistic: t,
		PValue:     p,
		N:          n,
	}, nil
}

// ranks replaces values with their 1-based ranks, averaging ties.
func ranks(values []float64) []float64 {
	n := len(values)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	out := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[idx[j+1]] == values[idx[i]] {
			j++
		}
		// Tied values share the average of their rank range.
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			out[idx[k]] = avg
		}
		i = j + 1
	}
	return out
}
