package analysis

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// ProportionResult is the outcome of a two-proportion z-test.
type ProportionResult struct {
	// RateControl and RateTreatment are the observed conversion rates.
	RateControl   float64 `json:"rate_control"`
	RateTreatment float64 `json:"rate_treatment"`

	// AbsoluteDiff is treatment minus control.
	AbsoluteDiff float64 `json:"absolute_diff"`

	// DiffCI is the two-sided confidence interval on the absolute
	// difference, at the test's alpha.
	DiffCI [2]float64 `json:"diff_ci"`

	// RelativeLift is (treatment - control) / control.
	RelativeLift float64 `json:"relative_lift"`

	// LiftCI is the delta-method confidence interval on the relative lift.
	LiftCI [2]float64 `json:"lift_ci"`

	// ZScore is the pooled-variance test statistic.
	ZScore float64 `json:"z_score"`

	// PValue is the two-sided p-value.
	PValue float64 `json:"p_value"`
}

// TwoProportionZTest compares conversion rates between control and treatment
// with a pooled-variance z-test. The difference CI uses the unpooled standard
// error; the relative-lift CI uses the delta-method approximation
// Var(R) = Var(p_t)/p_c^2 + p_t^2 * Var(p_c)/p_c^4.
//
// Returns ErrIndeterminate when either arm is empty or the pooled rate has
// zero variance (all conversions or none across both arms).
func TwoProportionZTest(successesControl, nControl, successesTreatment, nTreatment int, alpha float64) (ProportionResult, error) {
	const op = "TwoProportionZTest"

	if nControl <= 0 || nTreatment <= 0 {
		return ProportionResult{}, indeterminate(op, "empty arm")
	}
	if successesControl < 0 || successesControl > nControl ||
		successesTreatment < 0 || successesTreatment > nTreatment {
		return ProportionResult{}, invalid(op, "success count outside [0, n]")
	}
	if alpha <= 0 || alpha >= 1 {
		return ProportionResult{}, invalid(op, "alpha must be in (0, 1)")
	}

	n1 := float64(nControl)
	n2 := float64(nTreatment)
	p1 := float64(successesControl) / n1
	p2 := float64(successesTreatment) / n2

	pPooled := float64(successesControl+successesTreatment) / (n1 + n2)
	sePooled := math.Sqrt(pPooled * (1 - pPooled) * (1/n1 + 1/n2))
	if sePooled == 0 {
		return ProportionResult{}, indeterminate(op, "pooled rate has zero variance")
	}

	diff := p2 - p1
	z := diff / sePooled
	pValue := 2 * (1 - stdNormal.CDF(math.Abs(z)))

	zCrit := stdNormal.Quantile(1 - alpha/2)
	seUnpooled := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)

	res := ProportionResult{
		RateControl:   p1,
		RateTreatment: p2,
		AbsoluteDiff:  diff,
		DiffCI:        [2]float64{diff - zCrit*seUnpooled, diff + zCrit*seUnpooled},
		ZScore:        z,
		PValue:        pValue,
	}

	if p1 == 0 {
		// Lift is undefined against a zero baseline; the absolute results
		// above still stand.
		res.RelativeLift = math.Inf(1)
		if p2 == 0 {
			res.RelativeLift = 0
		}
		res.LiftCI = [2]float64{res.RelativeLift, res.RelativeLift}
		return res, nil
	}

	lift := diff / p1
	varP1 := p1 * (1 - p1) / n1
	varP2 := p2 * (1 - p2) / n2
	varLift := varP2/(p1*p1) + (p2*p2)*varP1/math.Pow(p1, 4)
	seLift := math.Sqrt(varLift)

	res.RelativeLift = lift
	res.LiftCI = [2]float64{lift - zCrit*seLift, lift + zCrit*seLift}

	return res, nil
}
