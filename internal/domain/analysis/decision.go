package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
)

// CheckGuardrail runs a one-sided non-inferiority check of a guardrail
// metric: the guardrail passes when the one-sided lower confidence bound on
// the treatment-minus-control difference, at the given alpha, stays above
// -MaxRegression. A guardrail therefore fails only when the data actively
// supports a regression beyond the budget.
func CheckGuardrail(metric experiment.Metric, control, treatment []Observation, alpha float64) (GuardrailResult, error) {
	const op = "CheckGuardrail"

	if alpha <= 0 || alpha >= 1 {
		return GuardrailResult{}, invalid(op, "alpha must be in (0, 1)")
	}

	res := GuardrailResult{
		MetricName:    metric.Name,
		MaxRegression: metric.MaxRegression,
	}

	switch metric.Type {
	case experiment.MetricProportion:
		sc := Summarize(control)
		st := Summarize(treatment)
		prop, err := TwoProportionZTest(sc.Successes, sc.N, st.Successes, st.N, alpha)
		if err != nil {
			return GuardrailResult{}, err
		}
		n1 := float64(sc.N)
		n2 := float64(st.N)
		se := math.Sqrt(prop.RateControl*(1-prop.RateControl)/n1 + prop.RateTreatment*(1-prop.RateTreatment)/n2)
		zOne := stdNormal.Quantile(1 - alpha)
		res.Diff = prop.AbsoluteDiff
		res.LowerBound = prop.AbsoluteDiff - zOne*se
		res.PValue = prop.PValue

	case experiment.MetricContinuous, experiment.MetricCount:
		tt, err := WelchTTest(Values(control), Values(treatment), alpha)
		if err != nil {
			return GuardrailResult{}, err
		}
		tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: tt.DegreesOfFreedom}
		// Recover the standard error from the two-sided CI half-width.
		se := (tt.DiffCI[1] - tt.DiffCI[0]) / (2 * tDist.Quantile(1-alpha/2))
		tOne := tDist.Quantile(1 - alpha)
		res.Diff = tt.MeanDiff
		res.LowerBound = tt.MeanDiff - tOne*se
		res.PValue = tt.PValue

	default:
		return GuardrailResult{}, invalid(op, "unsupported guardrail metric type")
	}

	res.Passed = res.LowerBound > -metric.MaxRegression
	return res, nil
}

// DecisionInput aggregates everything the decision rule looks at.
type DecisionInput struct {
	// Significant is the corrected primary significance.
	Significant bool

	// EffectExcludesZero is whether the primary effect interval rules out
	// zero (lift CI for proportions, mean-diff CI for continuous).
	EffectExcludesZero bool

	// GuardrailsPassed is whether every guardrail held.
	GuardrailsPassed bool

	// ReachedPlannedN is whether the smaller arm reached the planned
	// per-arm sample size.
	ReachedPlannedN bool
}

// Decide applies the decision rule.
func Decide(in DecisionInput) Recommendation {
	if in.Significant && in.EffectExcludesZero && in.GuardrailsPassed {
		return RecommendationShip
	}
	if in.ReachedPlannedN && !in.Significant {
		return RecommendationNoDetectedEffect
	}
	return RecommendationContinue
}
