// Package power implements sample-size and statistical-power planning.
//
// All functions here are pure: they take baseline statistics and a minimum
// detectable effect and return the sample size an experiment needs (or the
// power an available sample size buys). Estimating baselines from raw data is
// an analysis concern, not a planning one.
package power

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/timeutil"
)

// MaxReportedPower caps achieved power so the calculator never reports
// certainty.
const MaxReportedPower = 0.999

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// ══════════════════════════════════════════════════════════════════════════════
// SAMPLE SIZE
// ══════════════════════════════════════════════════════════════════════════════

// SampleSizeInput carries the planning parameters.
type SampleSizeInput struct {
	// MetricType selects the formula family (proportion or continuous).
	MetricType experiment.MetricType

	// Baseline is the control conversion rate for proportions, or the
	// control mean for continuous metrics.
	Baseline float64

	// StdDev is the control standard deviation estimate (continuous only).
	StdDev float64

	// MDE is the minimum detectable effect. Interpreted as an absolute
	// difference unless Relative is set.
	MDE float64

	// Relative marks the MDE as relative; it is converted to absolute via
	// Baseline * MDE before any formula runs.
	Relative bool

	// Alpha is the significance level (default 0.05).
	Alpha float64

	// Power is the target power (default 0.80).
	Power float64
}

// SampleSizePlan is the planning result.
type SampleSizePlan struct {
	// NPerArm is the required sample size per arm.
	NPerArm int `json:"n_per_arm"`

	// TotalN is the required sample across both arms.
	TotalN int `json:"total_n"`

	// MDEAbsolute is the absolute effect the plan targets.
	MDEAbsolute float64 `json:"mde_absolute"`

	// AchievedPower is the power the rounded-up sample size actually buys.
	AchievedPower float64 `json:"achieved_power"`
}

// RequiredSampleSize computes the per-arm sample size needed to detect the
// MDE at the requested alpha and power.
func RequiredSampleSize(in SampleSizeInput) (SampleSizePlan, error) {
	in = withDefaults(in)
	mdeAbs, err := validate(in)
	if err != nil {
		return SampleSizePlan{}, err
	}

	var nPerArm int
	switch in.MetricType {
	case experiment.MetricProportion:
		nPerArm = sampleSizeProportions(in.Baseline, mdeAbs, in.Alpha, in.Power)
	case experiment.MetricContinuous:
		nPerArm = sampleSizeContinuous(in.StdDev, mdeAbs, in.Alpha, in.Power)
	default:
		return SampleSizePlan{}, shared.NewDomainError("power", "RequiredSampleSize", shared.ErrInvalidInput, "unsupported metric type for planning")
	}

	plan := SampleSizePlan{
		NPerArm:     nPerArm,
		TotalN:      2 * nPerArm,
		MDEAbsolute: mdeAbs,
	}

	achieved, err := AchievedPower(nPerArm, PowerInput{
		MetricType: in.MetricType,
		Baseline:   in.Baseline,
		StdDev:     in.StdDev,
		MDE:        mdeAbs,
		Alpha:      in.Alpha,
	})
	if err != nil {
		return SampleSizePlan{}, err
	}
	plan.AchievedPower = achieved

	return plan, nil
}

// sampleSizeProportions is the pooled two-proportion z-test formula.
func sampleSizeProportions(pControl, mdeAbs, alpha, power float64) int {
	pTreatment := pControl + mdeAbs
	pPooled := (pControl + pTreatment) / 2

	zAlpha := stdNormal.Quantile(1 - alpha/2)
	zBeta := stdNormal.Quantile(power)

	numerator := zAlpha*math.Sqrt(2*pPooled*(1-pPooled)) +
		zBeta*math.Sqrt(pControl*(1-pControl)+pTreatment*(1-pTreatment))
	numerator *= numerator

	return int(math.Ceil(numerator / (mdeAbs * mdeAbs)))
}

// sampleSizeContinuous is the Cohen's-d based formula n = 2*((z_a+z_b)/d)^2.
func sampleSizeContinuous(stdControl, mdeAbs, alpha, power float64) int {
	d := mdeAbs / stdControl

	zAlpha := stdNormal.Quantile(1 - alpha/2)
	zBeta := stdNormal.Quantile(power)

	n := 2 * math.Pow((zAlpha+zBeta)/d, 2)
	return int(math.Ceil(n))
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVED POWER
// ══════════════════════════════════════════════════════════════════════════════

// PowerInput carries the parameters for a power evaluation at a fixed n.
type PowerInput struct {
	MetricType experiment.MetricType
	Baseline   float64
	StdDev     float64
	MDE        float64 // absolute
	Alpha      float64
}

// AchievedPower returns the power a given per-arm sample size buys against
// the absolute MDE. Normal approximation; capped at MaxReportedPower.
func AchievedPower(nPerArm int, in PowerInput) (float64, error) {
	if in.Alpha == 0 {
		in.Alpha = experiment.DefaultAlpha
	}
	if nPerArm <= 0 {
		return 0, shared.NewDomainError("power", "AchievedPower", shared.ErrInvalidInput, "sample size must be positive")
	}
	if in.MDE <= 0 {
		return 0, shared.NewDomainError("power", "AchievedPower", shared.ErrInvalidInput, "mde must be positive")
	}

	var p float64
	switch in.MetricType {
	case experiment.MetricProportion:
		if in.Baseline <= 0 || in.Baseline >= 1 {
			return 0, shared.NewDomainError("power", "AchievedPower", shared.ErrInvalidInput, "baseline must be in (0, 1)")
		}
		if in.Baseline+in.MDE >= 1 {
			return 0, shared.NewDomainError("power", "AchievedPower", shared.ErrInvalidInput, "treatment rate would reach 1.0")
		}
		p = powerProportions(nPerArm, in.Baseline, in.MDE, in.Alpha)
	case experiment.MetricContinuous:
		if in.StdDev <= 0 {
			return 0, shared.NewDomainError("power", "AchievedPower", shared.ErrInvalidInput, "control standard deviation must be positive")
		}
		p = powerContinuous(nPerArm, in.StdDev, in.MDE, in.Alpha)
	default:
		return 0, shared.NewDomainError("power", "AchievedPower", shared.ErrInvalidInput, "unsupported metric type for planning")
	}

	if p > MaxReportedPower {
		p = MaxReportedPower
	}
	if p < 0 {
		p = 0
	}
	return p, nil
}

// powerProportions evaluates power under the normal approximation, using the
// null standard error for the critical value and the alternative standard
// error for the detection probability.
func powerProportions(nPerArm int, pControl, mdeAbs, alpha float64) float64 {
	pTreatment := pControl + mdeAbs
	pPooled := (pControl + pTreatment) / 2

	zAlpha := stdNormal.Quantile(1 - alpha/2)

	n := float64(nPerArm)
	seNull := math.Sqrt(2 * pPooled * (1 - pPooled) / n)
	seAlt := math.Sqrt((pControl*(1-pControl) + pTreatment*(1-pTreatment)) / n)

	critical := zAlpha * seNull
	zPower := (critical - mdeAbs) / seAlt

	return 1 - stdNormal.CDF(zPower)
}

func powerContinuous(nPerArm int, stdControl, mdeAbs, alpha float64) float64 {
	d := mdeAbs / stdControl
	zAlpha := stdNormal.Quantile(1 - alpha/2)
	return stdNormal.CDF(d*math.Sqrt(float64(nPerArm)/2) - zAlpha)
}

// ══════════════════════════════════════════════════════════════════════════════
// DURATION
// ══════════════════════════════════════════════════════════════════════════════

// DurationEstimate is the derived runtime estimate for a planned experiment.
type DurationEstimate struct {
	// Days is the whole-day runtime estimate.
	Days int `json:"days_needed"`

	// Weeks is Days expressed in weeks, one decimal of precision.
	Weeks float64 `json:"weeks_needed"`

	// EffectiveDailyTraffic is the enrolled traffic per day.
	EffectiveDailyTraffic int `json:"effective_daily_traffic"`

	// Warning flags runs that are too short to cover weekly patterns or
	// long enough that a larger MDE should be considered. Empty when the
	// estimate raises no concern.
	Warning string `json:"warning,omitempty"`
}

// Duration warning thresholds, in days.
const (
	minRecommendedDays = 7
	maxRecommendedDays = 90
)

// EstimateDuration converts a total sample size into a runtime estimate given
// daily eligible traffic and the enrolled traffic fraction. When
// weeklySeasonality is set the estimate is rounded up to whole weeks.
func EstimateDuration(totalN int, dailyTraffic int, trafficFraction float64, weeklySeasonality bool) (DurationEstimate, error) {
	if totalN <= 0 {
		return DurationEstimate{}, shared.NewDomainError("power", "EstimateDuration", shared.ErrInvalidInput, "total sample size must be positive")
	}
	if trafficFraction <= 0 || trafficFraction > 1 {
		return DurationEstimate{}, shared.NewDomainError("power", "EstimateDuration", shared.ErrInvalidInput, "traffic fraction must be in (0, 1]")
	}
	effective := float64(dailyTraffic) * trafficFraction
	if effective <= 0 {
		return DurationEstimate{}, shared.NewDomainError("power", "EstimateDuration", shared.ErrInvalidInput, "no eligible traffic")
	}

	days := timeutil.CeilDays(float64(totalN) / effective)
	if weeklySeasonality {
		days = timeutil.CeilToWholeWeeks(days)
	}

	est := DurationEstimate{
		Days:                  days,
		Weeks:                 math.Round(float64(days)/7*10) / 10,
		EffectiveDailyTraffic: int(effective),
	}

	switch {
	case days < minRecommendedDays:
		est.Warning = "experiment shorter than one week may miss weekly patterns"
	case days > maxRecommendedDays:
		est.Warning = "long experiment duration; consider a larger MDE or more traffic"
	}

	return est, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ══════════════════════════════════════════════════════════════════════════════

func withDefaults(in SampleSizeInput) SampleSizeInput {
	if in.Alpha == 0 {
		in.Alpha = experiment.DefaultAlpha
	}
	if in.Power == 0 {
		in.Power = experiment.DefaultPower
	}
	return in
}

// validate checks the planning inputs and returns the absolute MDE.
func validate(in SampleSizeInput) (float64, error) {
	if in.MDE <= 0 {
		return 0, shared.NewDomainError("power", "RequiredSampleSize", shared.ErrInvalidInput, "mde must be positive")
	}
	if in.Alpha <= 0 || in.Alpha >= 1 {
		return 0, shared.NewDomainError("power", "RequiredSampleSize", shared.ErrInvalidInput, "alpha must be in (0, 1)")
	}
	if in.Power <= 0 || in.Power >= 1 {
		return 0, shared.NewDomainError("power", "RequiredSampleSize", shared.ErrInvalidInput, "power must be in (0, 1)")
	}

	mdeAbs := in.MDE
	if in.Relative {
		mdeAbs = in.Baseline * in.MDE
	}

	switch in.MetricType {
	case experiment.MetricProportion:
		if in.Baseline <= 0 || in.Baseline >= 1 {
			return 0, shared.NewDomainError("power", "RequiredSampleSize", shared.ErrInvalidInput, "baseline must be in (0, 1)")
		}
		if in.Baseline+mdeAbs >= 1 {
			return 0, shared.NewDomainError("power", "RequiredSampleSize", shared.ErrInvalidInput, "treatment rate would reach 1.0")
		}
	case experiment.MetricContinuous:
		if in.StdDev <= 0 {
			return 0, shared.NewDomainError("power", "RequiredSampleSize", shared.ErrInvalidInput, "control standard deviation must be positive")
		}
	}

	return mdeAbs, nil
}
