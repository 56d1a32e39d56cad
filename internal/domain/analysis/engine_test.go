package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
)

// binaryObservations builds n observations with the given number of
// successes, in the shape ingestion produces for proportion metrics.
func binaryObservations(metric, label string, successes, n int) []Observation {
	out := make([]Observation, n)
	for i := range out {
		out[i] = Observation{
			SubjectID:    fmt.Sprintf("%s-%d", label, i),
			MetricName:   metric,
			VariantLabel: label,
			ObservedAt:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		}
		if i < successes {
			out[i].Value = 1
		}
	}
	return out
}

func conversionExperiment(t *testing.T, plannedPerArm int) *experiment.Experiment {
	t.Helper()
	exp, err := experiment.New(experiment.NewParams{
		ID:              "pricing-page",
		TrafficFraction: 1.0,
		Unit:            experiment.UnitSubject,
		Variants: []experiment.Variant{
			{Label: "control", Weight: 0.5, IsControl: true},
			{Label: "treatment", Weight: 0.5},
		},
		PrimaryMetric: experiment.Metric{Name: "conversion", Type: experiment.MetricProportion},
	})
	require.NoError(t, err)
	exp.PlannedSamplePerArm = plannedPerArm
	return exp
}

func TestAnalyze_RecommendsShip(t *testing.T) {
	exp := conversionExperiment(t, 5000)
	analyzer := NewAnalyzer("")

	res, err := analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Primary: MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   binaryObservations("conversion", "control", 450, 5000),
			Treatment: binaryObservations("conversion", "treatment", 520, 5000),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, RecommendationShip, res.Recommendation)
	assert.True(t, res.Significant)
	assert.InDelta(t, 0.018, res.PValue, 0.005)
	assert.Equal(t, res.PValue, res.AdjustedPValue, "single metric: correction is a no-op")
	assert.Equal(t, 0.05, res.AlphaUsed)
	assert.Equal(t, 0, res.PeekIndex)
	assert.Equal(t, 5000, res.NControl)
	assert.Equal(t, 5000, res.NTreatment)
	assert.NotEmpty(t, res.RunID)
	require.NotNil(t, res.Proportion)
	assert.InDelta(t, 0.1556, res.Proportion.RelativeLift, 1e-3)
	assert.Nil(t, res.TTest)
}

// TestAnalyze_DecisionExampleStatistics pins the canonical 450/5000 vs
// 520/5000 run to its exact pooled-formula statistics. The pooled z is
// 2.365, not the 2.31 an unpooled standard error would give; the pooled
// variant is the deliberate choice here.
func TestAnalyze_DecisionExampleStatistics(t *testing.T) {
	exp := conversionExperiment(t, 5000)
	analyzer := NewAnalyzer("")

	res, err := analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Primary: MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   binaryObservations("conversion", "control", 450, 5000),
			Treatment: binaryObservations("conversion", "treatment", 520, 5000),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Proportion)

	assert.InDelta(t, 0.090, res.Proportion.RateControl, 1e-12)
	assert.InDelta(t, 0.104, res.Proportion.RateTreatment, 1e-12)
	assert.InDelta(t, 0.014, res.Proportion.AbsoluteDiff, 1e-12)
	assert.InDelta(t, 2.3652, res.Proportion.ZScore, 5e-4)
	assert.InDelta(t, 0.0180, res.Proportion.PValue, 5e-4)
	assert.InDelta(t, 0.15556, res.Proportion.RelativeLift, 1e-4)
	assert.True(t, res.Significant)
	assert.Equal(t, RecommendationShip, res.Recommendation)
}

func TestAnalyze_NoDetectedEffectAtPlannedN(t *testing.T) {
	exp := conversionExperiment(t, 5000)
	analyzer := NewAnalyzer("")

	res, err := analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Primary: MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   binaryObservations("conversion", "control", 500, 5000),
			Treatment: binaryObservations("conversion", "treatment", 503, 5000),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, RecommendationNoDetectedEffect, res.Recommendation)
	assert.False(t, res.Significant)
}

func TestAnalyze_ContinueBeforePlannedN(t *testing.T) {
	exp := conversionExperiment(t, 5000)
	analyzer := NewAnalyzer("")

	res, err := analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Primary: MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   binaryObservations("conversion", "control", 50, 500),
			Treatment: binaryObservations("conversion", "treatment", 53, 500),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, RecommendationContinue, res.Recommendation)
}

func TestAnalyze_IndeterminateOnEmptyArm(t *testing.T) {
	exp := conversionExperiment(t, 0)
	analyzer := NewAnalyzer("")

	res, err := analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Primary: MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   binaryObservations("conversion", "control", 10, 100),
			Treatment: nil,
		},
	})
	require.NoError(t, err, "indeterminate is an answer, not a failure")

	assert.Equal(t, RecommendationIndeterminate, res.Recommendation)
	assert.False(t, res.Significant)
	assert.Nil(t, res.Proportion)
}

func TestAnalyze_FailedGuardrailBlocksShip(t *testing.T) {
	exp := conversionExperiment(t, 5000)
	exp.Guardrails = []experiment.Metric{
		{Name: "retention", Type: experiment.MetricProportion, MaxRegression: 0.01},
	}
	analyzer := NewAnalyzer("")

	res, err := analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Primary: MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   binaryObservations("conversion", "control", 450, 5000),
			Treatment: binaryObservations("conversion", "treatment", 520, 5000),
		},
		Guardrails: []MetricData{{
			Metric:    exp.Guardrails[0],
			Control:   binaryObservations("retention", "control", 1000, 5000),
			Treatment: binaryObservations("retention", "treatment", 800, 5000),
		}},
	})
	require.NoError(t, err)

	require.Len(t, res.Guardrails, 1)
	assert.False(t, res.Guardrails[0].Passed)
	assert.Less(t, res.Guardrails[0].LowerBound, -0.01)
	assert.NotEqual(t, RecommendationShip, res.Recommendation)
}

func TestAnalyze_PassingGuardrail(t *testing.T) {
	exp := conversionExperiment(t, 5000)
	exp.Guardrails = []experiment.Metric{
		{Name: "retention", Type: experiment.MetricProportion, MaxRegression: 0.02},
	}
	analyzer := NewAnalyzer("")

	res, err := analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Primary: MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   binaryObservations("conversion", "control", 450, 5000),
			Treatment: binaryObservations("conversion", "treatment", 520, 5000),
		},
		Guardrails: []MetricData{{
			Metric:    exp.Guardrails[0],
			Control:   binaryObservations("retention", "control", 1000, 5000),
			Treatment: binaryObservations("retention", "treatment", 1005, 5000),
		}},
	})
	require.NoError(t, err)

	require.Len(t, res.Guardrails, 1)
	assert.True(t, res.Guardrails[0].Passed)
	assert.Equal(t, RecommendationShip, res.Recommendation)
}

func TestAnalyze_AlphaOverride(t *testing.T) {
	exp := conversionExperiment(t, 0)
	analyzer := NewAnalyzer("")

	// p ≈ 0.018 passes 0.05 but not a peek-adjusted 0.0158.
	res, err := analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Alpha:      0.0158,
		PeekIndex:  3,
		Primary: MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   binaryObservations("conversion", "control", 450, 5000),
			Treatment: binaryObservations("conversion", "treatment", 520, 5000),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0.0158, res.AlphaUsed)
	assert.Equal(t, 3, res.PeekIndex)
	assert.False(t, res.Significant)
}

func TestAnalyze_ContinuousUsesWelch(t *testing.T) {
	exp, err := experiment.New(experiment.NewParams{
		ID:              "latency-cut",
		TrafficFraction: 1.0,
		Unit:            experiment.UnitSubject,
		Variants: []experiment.Variant{
			{Label: "control", Weight: 0.5, IsControl: true},
			{Label: "treatment", Weight: 0.5},
		},
		PrimaryMetric: experiment.Metric{Name: "session_minutes", Type: experiment.MetricContinuous},
	})
	require.NoError(t, err)

	control := make([]Observation, 0, 40)
	treatment := make([]Observation, 0, 40)
	for i := 0; i < 40; i++ {
		control = append(control, Observation{SubjectID: fmt.Sprintf("c%d", i), Value: 10 + float64(i%5)})
		treatment = append(treatment, Observation{SubjectID: fmt.Sprintf("t%d", i), Value: 13 + float64(i%5)})
	}

	analyzer := NewAnalyzer("")
	res, err := analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Primary:    MetricData{Metric: exp.PrimaryMetric, Control: control, Treatment: treatment},
	})
	require.NoError(t, err)

	require.NotNil(t, res.TTest)
	assert.True(t, res.TTest.Welch)
	assert.Nil(t, res.Proportion)
	assert.InDelta(t, 3.0, res.TTest.MeanDiff, 1e-9)
	assert.True(t, res.Significant)
}

func TestAnalyze_InvalidRequests(t *testing.T) {
	analyzer := NewAnalyzer("")

	_, err := analyzer.Analyze(context.Background(), Request{})
	assert.Error(t, err, "nil experiment")

	exp := conversionExperiment(t, 0)
	_, err = analyzer.Analyze(context.Background(), Request{
		Experiment: exp,
		Correction: CorrectionMethod("holm"),
		Primary: MetricData{
			Metric:    exp.PrimaryMetric,
			Control:   binaryObservations("conversion", "control", 10, 100),
			Treatment: binaryObservations("conversion", "treatment", 12, 100),
		},
	})
	assert.Error(t, err, "unknown correction")
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name string
		in   DecisionInput
		want Recommendation
	}{
		{"all green", DecisionInput{Significant: true, EffectExcludesZero: true, GuardrailsPassed: true}, RecommendationShip},
		{"guardrail broken", DecisionInput{Significant: true, EffectExcludesZero: true}, RecommendationContinue},
		{"planned n without signal", DecisionInput{GuardrailsPassed: true, ReachedPlannedN: true}, RecommendationNoDetectedEffect},
		{"still collecting", DecisionInput{GuardrailsPassed: true}, RecommendationContinue},
		{"significant but interval spans zero", DecisionInput{Significant: true, GuardrailsPassed: true}, RecommendationContinue},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.in))
		})
	}
}
