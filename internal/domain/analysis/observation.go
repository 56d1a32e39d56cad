// Package analysis implements the statistical analysis engine: hypothesis
// tests, effect sizes, confidence intervals, multiple-comparison correction,
// and the ship/continue decision rule. Everything here is pure computation
// over in-memory observations; persistence and scheduling live in
// infrastructure.
package analysis

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// Observation is one measured value for one subject under one metric.
// For proportion metrics Value is 0 or 1.
type Observation struct {
	// SubjectID is the randomization unit the value belongs to.
	SubjectID string `json:"subject_id"`

	// MetricName identifies the metric.
	MetricName string `json:"metric_name"`

	// VariantLabel is the arm the subject was assigned to.
	VariantLabel string `json:"variant_label"`

	// Value is the measured outcome.
	Value float64 `json:"value"`

	// ObservedAt is when the outcome was recorded.
	ObservedAt time.Time `json:"observed_at"`
}

// Sample is the per-arm summary the tests consume.
type Sample struct {
	// N is the number of observations.
	N int

	// Mean is the sample mean. For proportion metrics this is the
	// conversion rate.
	Mean float64

	// Variance is the unbiased sample variance.
	Variance float64

	// Successes is the success count (proportion metrics only).
	Successes int
}

// Summarize reduces raw observations to a Sample.
func Summarize(obs []Observation) Sample {
	if len(obs) == 0 {
		return Sample{}
	}
	values := make([]float64, len(obs))
	successes := 0
	for i, o := range obs {
		values[i] = o.Value
		if o.Value > 0 {
			successes++
		}
	}
	mean, variance := stat.MeanVariance(values, nil)
	return Sample{
		N:         len(obs),
		Mean:      mean,
		Variance:  variance,
		Successes: successes,
	}
}

// Values extracts the raw outcome values of a set of observations.
func Values(obs []Observation) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = o.Value
	}
	return out
}

func indeterminate(op, msg string) error {
	return shared.NewDomainError("analysis", op, shared.ErrIndeterminate, msg)
}

func invalid(op, msg string) error {
	return shared.NewDomainError("analysis", op, shared.ErrInvalidInput, msg)
}
