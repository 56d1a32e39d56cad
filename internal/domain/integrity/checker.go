// Package integrity validates that a running experiment's data can be
// trusted before any analysis runs. A sample ratio mismatch (SRM) means the
// observed traffic split deviates from the configured weights by more than
// chance allows, which almost always signals an instrumentation or targeting
// bug; analysis results computed on top of it are invalid.
package integrity

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// SRMAlpha is the flag threshold for the sample ratio check. Deliberately
// far below the analysis alpha: the check runs repeatedly over an
// experiment's lifetime and a looser threshold would fire on noise.
const SRMAlpha = 0.001

// MinSamplesForSRM is the minimum total exposure count before the chi-square
// approximation is considered reliable.
const MinSamplesForSRM = 100

// ══════════════════════════════════════════════════════════════════════════════
// SAMPLE RATIO MISMATCH
// ══════════════════════════════════════════════════════════════════════════════

// SRMReport is the outcome of a sample ratio check.
type SRMReport struct {
	// ExperimentID identifies the checked experiment.
	ExperimentID string `json:"experiment_id"`

	// HasSRM is true when the observed split is incompatible with the
	// configured weights at SRMAlpha.
	HasSRM bool `json:"has_srm"`

	// ChiSquare is the goodness-of-fit statistic.
	ChiSquare float64 `json:"chi_square"`

	// PValue is the probability of a split at least this extreme under the
	// configured weights.
	PValue float64 `json:"p_value"`

	// TotalObserved is the summed exposure count across variants.
	TotalObserved int64 `json:"total_observed"`

	// ObservedRatio maps variant label to its observed traffic share.
	ObservedRatio map[string]float64 `json:"observed_ratio"`

	// ExpectedRatio maps variant label to its configured weight.
	ExpectedRatio map[string]float64 `json:"expected_ratio"`
}

// CheckSRM runs a chi-square goodness-of-fit test of observed exposure counts
// against the experiment's configured weights.
func CheckSRM(exp *experiment.Experiment, counts experiment.AssignmentCounts) (SRMReport, error) {
	if exp == nil {
		return SRMReport{}, shared.NewDomainError("integrity", "CheckSRM", shared.ErrInvalidInput, "experiment is nil")
	}
	for label := range counts {
		if !exp.HasVariant(label) {
			return SRMReport{}, shared.NewDomainError("integrity", "CheckSRM",
				shared.ErrInvalidInput, fmt.Sprintf("count for unknown variant %q", label))
		}
	}

	var total int64
	for _, v := range exp.Variants {
		total += counts[v.Label]
	}
	if total < MinSamplesForSRM {
		return SRMReport{}, shared.NewDomainError("integrity", "CheckSRM",
			shared.ErrInvalidInput, fmt.Sprintf("need at least %d exposures, have %d", MinSamplesForSRM, total))
	}

	report := SRMReport{
		ExperimentID:  exp.ID,
		TotalObserved: total,
		ObservedRatio: make(map[string]float64, len(exp.Variants)),
		ExpectedRatio: make(map[string]float64, len(exp.Variants)),
	}

	chi := 0.0
	for _, v := range exp.Variants {
		observed := float64(counts[v.Label])
		expected := v.Weight * float64(total)
		if expected <= 0 {
			return SRMReport{}, shared.NewDomainError("integrity", "CheckSRM",
				shared.ErrInvalidInput, fmt.Sprintf("variant %q has zero expected count", v.Label))
		}
		diff := observed - expected
		chi += diff * diff / expected

		report.ObservedRatio[v.Label] = observed / float64(total)
		report.ExpectedRatio[v.Label] = v.Weight
	}

	df := float64(len(exp.Variants) - 1)
	dist := distuv.ChiSquared{K: df}
	p := 1 - dist.CDF(chi)
	if p < 0 {
		p = 0
	}

	report.ChiSquare = chi
	report.PValue = p
	report.HasSRM = p < SRMAlpha

	return report, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OBSERVATION DEDUPLICATION
// ══════════════════════════════════════════════════════════════════════════════

// ObservationKey identifies one observation row for deduplication purposes.
type ObservationKey struct {
	SubjectID  string
	MetricName string
}

// VerifyObservations enforces one observation per subject per metric. The
// returned error names the first duplicated subject found, in deterministic
// order, and wraps shared.ErrDuplicateObservation.
func VerifyObservations(keys []ObservationKey) error {
	seen := make(map[ObservationKey]struct{}, len(keys))
	var dups []ObservationKey
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			dups = append(dups, k)
			continue
		}
		seen[k] = struct{}{}
	}
	if len(dups) == 0 {
		return nil
	}

	sort.Slice(dups, func(i, j int) bool {
		if dups[i].SubjectID != dups[j].SubjectID {
			return dups[i].SubjectID < dups[j].SubjectID
		}
		return dups[i].MetricName < dups[j].MetricName
	})

	first := dups[0]
	return shared.NewDomainError("integrity", "VerifyObservations",
		shared.ErrDuplicateObservation,
		fmt.Sprintf("subject %q has multiple observations for metric %q (%d duplicate rows total)",
			first.SubjectID, first.MetricName, len(dups)))
}

// MaxRatioDeviation returns the largest absolute gap between an observed
// share and its configured weight. Useful as a severity signal alongside the
// p-value when an SRM fires.
func (r SRMReport) MaxRatioDeviation() float64 {
	worst := 0.0
	for label, expected := range r.ExpectedRatio {
		if d := math.Abs(r.ObservedRatio[label] - expected); d > worst {
			worst = d
		}
	}
	return worst
}
