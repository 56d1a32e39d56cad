package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// TTestResult is the outcome of a two-sample t-test.
type TTestResult struct {
	// MeanControl and MeanTreatment are the sample means.
	MeanControl   float64 `json:"mean_control"`
	MeanTreatment float64 `json:"mean_treatment"`

	// MeanDiff is treatment minus control.
	MeanDiff float64 `json:"mean_diff"`

	// DiffCI is the two-sided confidence interval on the mean difference.
	DiffCI [2]float64 `json:"diff_ci"`

	// TStatistic is the test statistic.
	TStatistic float64 `json:"t_statistic"`

	// DegreesOfFreedom is Welch-Satterthwaite by default, n1+n2-2 when
	// the pooled variant was requested.
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`

	// PValue is the two-sided p-value.
	PValue float64 `json:"p_value"`

	// CohensD is the standardized effect size.
	CohensD float64 `json:"cohens_d"`

	// Welch is true when unequal variances were assumed.
	Welch bool `json:"welch"`
}

// WelchTTest compares means without assuming equal variances. This is the
// default for continuous metrics: real outcome distributions rarely have
// equal variances across arms, and Welch costs nothing when they do.
func WelchTTest(control, treatment []float64, alpha float64) (TTestResult, error) {
	return tTest(control, treatment, alpha, true)
}

// StudentTTest is the pooled-variance variant, opt-in for callers that have
// established variance homogeneity.
func StudentTTest(control, treatment []float64, alpha float64) (TTestResult, error) {
	return tTest(control, treatment, alpha, false)
}

func tTest(control, treatment []float64, alpha float64, welch bool) (TTestResult, error) {
	const op = "TTest"

	if len(control) < 2 || len(treatment) < 2 {
		return TTestResult{}, indeterminate(op, "each arm needs at least two observations")
	}
	if alpha <= 0 || alpha >= 1 {
		return TTestResult{}, invalid(op, "alpha must be in (0, 1)")
	}

	s1 := summarizeValues(control)
	s2 := summarizeValues(treatment)
	n1 := float64(s1.N)
	n2 := float64(s2.N)

	if s1.Variance == 0 && s2.Variance == 0 {
		return TTestResult{}, indeterminate(op, "both arms have zero variance")
	}

	var se, df float64
	if welch {
		v1 := s1.Variance / n1
		v2 := s2.Variance / n2
		se = math.Sqrt(v1 + v2)
		df = (v1 + v2) * (v1 + v2) / (v1*v1/(n1-1) + v2*v2/(n2-1))
	} else {
		pooled := ((n1-1)*s1.Variance + (n2-1)*s2.Variance) / (n1 + n2 - 2)
		se = math.Sqrt(pooled * (1/n1 + 1/n2))
		df = n1 + n2 - 2
	}
	if se == 0 {
		return TTestResult{}, indeterminate(op, "zero standard error")
	}

	diff := s2.Mean - s1.Mean
	t := diff / se

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	pValue := 2 * (1 - tDist.CDF(math.Abs(t)))
	tCrit := tDist.Quantile(1 - alpha/2)

	// Cohen's d on the average variance, matching the planning formula.
	d := diff / math.Sqrt((s1.Variance+s2.Variance)/2)

	return TTestResult{
		MeanControl:      s1.Mean,
		MeanTreatment:    s2.Mean,
		MeanDiff:         diff,
		DiffCI:           [2]float64{diff - tCrit*se, diff + tCrit*se},
		TStatistic:       t,
		DegreesOfFreedom: df,
		PValue:           pValue,
		CohensD:          d,
		Welch:            welch,
	}, nil
}

func summarizeValues(values []float64) Sample {
	obs := make([]Observation, len(values))
	for i, v := range values {
		obs[i].Value = v
	}
	return Summarize(obs)
}
