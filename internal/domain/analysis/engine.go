package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZER
// ══════════════════════════════════════════════════════════════════════════════

// MetricData bundles a metric with its per-arm observations.
type MetricData struct {
	Metric    experiment.Metric
	Control   []Observation
	Treatment []Observation
}

// Request describes one analysis run.
type Request struct {
	// Experiment supplies the planned sample size and default alpha.
	Experiment *experiment.Experiment

	// Primary is the decision metric.
	Primary MetricData

	// Guardrails are the metrics that must not regress.
	Guardrails []MetricData

	// Alpha overrides the experiment's alpha; the sequential guard uses
	// this to pass the peek-adjusted threshold. Zero means use the
	// experiment's.
	Alpha float64

	// PeekIndex stamps the result with the sequential look number, zero
	// for fixed-horizon runs.
	PeekIndex int

	// Correction overrides the analyzer's default method when non-empty.
	Correction CorrectionMethod

	// PooledVariance switches continuous metrics from Welch to the pooled
	// Student's t-test.
	PooledVariance bool
}

// Analyzer runs hypothesis tests over observation sets and derives a
// recommendation. Stateless and safe for concurrent use.
type Analyzer struct {
	defaultCorrection CorrectionMethod
}

// NewAnalyzer builds an analyzer with the given default correction method.
// Benjamini-Hochberg when empty.
func NewAnalyzer(defaultCorrection CorrectionMethod) *Analyzer {
	if defaultCorrection == "" {
		defaultCorrection = CorrectionBenjaminiHochberg
	}
	return &Analyzer{defaultCorrection: defaultCorrection}
}

// Analyze tests the primary metric, checks every guardrail, corrects the
// p-value family, and derives the recommendation. Context is checked between
// metrics so a batch over many guardrails can be cancelled mid-run.
//
// Data that cannot support a test (an empty arm, zero variance everywhere)
// yields a Result with RecommendationIndeterminate rather than an error:
// indeterminate is an answer, not a failure.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	if req.Experiment == nil {
		return nil, invalid("Analyze", "experiment is nil")
	}

	alpha := req.Alpha
	if alpha == 0 {
		alpha = req.Experiment.Alpha
	}
	correction := req.Correction
	if correction == "" {
		correction = a.defaultCorrection
	}
	if !correction.IsValid() {
		return nil, invalid("Analyze", "unknown correction method")
	}

	res := &Result{
		RunID:        uuid.NewString(),
		ExperimentID: req.Experiment.ID,
		MetricName:   req.Primary.Metric.Name,
		MetricType:   req.Primary.Metric.Type,
		PeekIndex:    req.PeekIndex,
		AlphaUsed:    alpha,
		Correction:   correction,
		NControl:     len(req.Primary.Control),
		NTreatment:   len(req.Primary.Treatment),
		AnalyzedAt:   time.Now().UTC(),
	}

	effectExcludesZero, err := a.testPrimary(res, req, alpha)
	if err != nil {
		if shared.IsIndeterminate(err) {
			res.Recommendation = RecommendationIndeterminate
			return res, nil
		}
		return nil, err
	}

	for _, g := range req.Guardrails {
		if err := ctx.Err(); err != nil {
			return nil, shared.WrapError("analysis", "Analyze", shared.ErrTimeout, "cancelled between metrics", err)
		}
		gr, err := CheckGuardrail(g.Metric, g.Control, g.Treatment, alpha)
		if err != nil {
			if shared.IsIndeterminate(err) {
				res.Recommendation = RecommendationIndeterminate
				return res, nil
			}
			return nil, err
		}
		res.Guardrails = append(res.Guardrails, gr)
	}

	if err := a.applyCorrection(res, correction); err != nil {
		return nil, err
	}
	res.Significant = res.AdjustedPValue < alpha

	planned := req.Experiment.PlannedSamplePerArm
	reached := planned > 0 &&
		res.NControl >= planned && res.NTreatment >= planned

	res.Recommendation = Decide(DecisionInput{
		Significant:        res.Significant,
		EffectExcludesZero: effectExcludesZero,
		GuardrailsPassed:   res.GuardrailsPassed(),
		ReachedPlannedN:    reached,
	})

	return res, nil
}

// testPrimary runs the primary metric's test and fills the statistical
// fields. Returns whether the effect interval excludes zero.
func (a *Analyzer) testPrimary(res *Result, req Request, alpha float64) (bool, error) {
	switch req.Primary.Metric.Type {
	case experiment.MetricProportion:
		sc := Summarize(req.Primary.Control)
		st := Summarize(req.Primary.Treatment)
		prop, err := TwoProportionZTest(sc.Successes, sc.N, st.Successes, st.N, alpha)
		if err != nil {
			return false, err
		}
		res.Proportion = &prop
		res.PValue = prop.PValue
		res.EffectSize = CohensH(prop.RateControl, prop.RateTreatment)
		res.EffectMagnitude = InterpretEffectSize(res.EffectSize)
		return prop.LiftCI[0] > 0 || prop.LiftCI[1] < 0, nil

	case experiment.MetricContinuous, experiment.MetricCount:
		var tt TTestResult
		var err error
		control := Values(req.Primary.Control)
		treatment := Values(req.Primary.Treatment)
		if req.PooledVariance {
			tt, err = StudentTTest(control, treatment, alpha)
		} else {
			tt, err = WelchTTest(control, treatment, alpha)
		}
		if err != nil {
			return false, err
		}
		res.TTest = &tt
		res.PValue = tt.PValue
		res.EffectSize = tt.CohensD
		res.EffectMagnitude = InterpretEffectSize(tt.CohensD)
		return tt.DiffCI[0] > 0 || tt.DiffCI[1] < 0, nil

	default:
		return false, invalid("Analyze", "unsupported primary metric type")
	}
}

// applyCorrection adjusts the primary p-value within the family of all
// p-values this run produced (primary plus guardrails).
func (a *Analyzer) applyCorrection(res *Result, method CorrectionMethod) error {
	family := make([]float64, 0, 1+len(res.Guardrails))
	family = append(family, res.PValue)
	for _, g := range res.Guardrails {
		family = append(family, g.PValue)
	}

	adjusted, err := AdjustPValues(family, method)
	if err != nil {
		return err
	}
	res.AdjustedPValue = adjusted[0]
	return nil
}
