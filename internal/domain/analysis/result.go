package analysis

import (
	"math"
	"time"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
)

// Recommendation is the action the engine derives from a completed analysis.
type Recommendation string

const (
	// RecommendationShip: significant after correction, the lift interval
	// excludes zero, and every guardrail holds.
	RecommendationShip Recommendation = "ship"

	// RecommendationNoDetectedEffect: the planned sample size was reached
	// without a significant result.
	RecommendationNoDetectedEffect Recommendation = "no-detected-effect"

	// RecommendationContinue: not enough evidence either way yet.
	RecommendationContinue Recommendation = "continue"

	// RecommendationIndeterminate: the data could not support a test
	// (empty arm, zero variance). Statistical fields are not populated.
	RecommendationIndeterminate Recommendation = "indeterminate"
)

// EffectMagnitude is the qualitative bucket of a standardized effect size.
type EffectMagnitude string

const (
	EffectNegligible EffectMagnitude = "negligible"
	EffectSmall      EffectMagnitude = "small"
	EffectMedium     EffectMagnitude = "medium"
	EffectLarge      EffectMagnitude = "large"
)

// InterpretEffectSize buckets a standardized effect size at the conventional
// 0.2 / 0.5 / 0.8 thresholds.
func InterpretEffectSize(d float64) EffectMagnitude {
	abs := math.Abs(d)
	switch {
	case abs < 0.2:
		return EffectNegligible
	case abs < 0.5:
		return EffectSmall
	case abs < 0.8:
		return EffectMedium
	default:
		return EffectLarge
	}
}

// CohensH is the standardized effect size for a difference of proportions,
// comparable against the same buckets as Cohen's d.
func CohensH(p1, p2 float64) float64 {
	return 2 * (math.Asin(math.Sqrt(p2)) - math.Asin(math.Sqrt(p1)))
}

// GuardrailResult is the outcome of one guardrail non-inferiority check.
type GuardrailResult struct {
	// MetricName identifies the guardrail metric.
	MetricName string `json:"metric_name"`

	// MaxRegression is the largest acceptable absolute regression.
	MaxRegression float64 `json:"max_regression"`

	// Diff is the observed treatment-minus-control difference.
	Diff float64 `json:"diff"`

	// LowerBound is the one-sided lower confidence bound on Diff.
	LowerBound float64 `json:"lower_bound"`

	// Passed is true when LowerBound > -MaxRegression: the data rules out
	// a regression beyond the budget.
	Passed bool `json:"passed"`

	// PValue is the two-sided p-value of the underlying test, included in
	// the correction family for reporting.
	PValue float64 `json:"p_value"`
}

// Result is one completed analysis run. Results are immutable once produced;
// the audit log appends, never updates.
type Result struct {
	// RunID uniquely identifies this analysis run.
	RunID string `json:"run_id"`

	// ExperimentID is the analyzed experiment.
	ExperimentID string `json:"experiment_id"`

	// MetricName and MetricType describe the primary metric analyzed.
	MetricName string                `json:"metric_name"`
	MetricType experiment.MetricType `json:"metric_type"`

	// TreatmentLabel names the treatment arm this run compared against the
	// control, empty for two-arm experiments.
	TreatmentLabel string `json:"treatment_label,omitempty"`

	// PeekIndex is the 1-based sequential look this run corresponds to,
	// zero for fixed-horizon analyses.
	PeekIndex int `json:"peek_index"`

	// AlphaUsed is the significance threshold actually applied, after any
	// sequential adjustment.
	AlphaUsed float64 `json:"alpha_used"`

	// Correction is the multiple-comparison method applied.
	Correction CorrectionMethod `json:"correction"`

	// NControl and NTreatment are the arm sizes.
	NControl   int `json:"n_control"`
	NTreatment int `json:"n_treatment"`

	// PValue is the raw primary p-value; AdjustedPValue is after
	// correction across the metric family.
	PValue         float64 `json:"p_value"`
	AdjustedPValue float64 `json:"adjusted_p_value"`

	// Significant is AdjustedPValue < AlphaUsed.
	Significant bool `json:"significant"`

	// EffectSize is standardized (Cohen's d for continuous, Cohen's h for
	// proportions); EffectMagnitude is its qualitative bucket.
	EffectSize      float64         `json:"effect_size"`
	EffectMagnitude EffectMagnitude `json:"effect_magnitude"`

	// Proportion carries the full two-proportion test output when the
	// primary metric is a proportion; TTest when it is continuous.
	Proportion *ProportionResult `json:"proportion,omitempty"`
	TTest      *TTestResult      `json:"t_test,omitempty"`

	// Guardrails are the non-inferiority outcomes, in declaration order.
	Guardrails []GuardrailResult `json:"guardrails,omitempty"`

	// Recommendation is the derived action.
	Recommendation Recommendation `json:"recommendation"`

	// AnalyzedAt is when the run completed.
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// GuardrailsPassed reports whether every guardrail held. Vacuously true with
// no guardrails.
func (r *Result) GuardrailsPassed() bool {
	for _, g := range r.Guardrails {
		if !g.Passed {
			return false
		}
	}
	return true
}
