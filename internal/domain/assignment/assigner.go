// Package assignment implements deterministic variant assignment.
//
// Assignment is a pure function of (experiment id, unit key, salt): a 64-bit
// hash is reduced onto a fixed bucket grid in [0, 1), and the bucket is mapped
// onto contiguous ranges laid out in the experiment's frozen variant ordering.
// No state is stored; recomputing an assignment always yields the same variant,
// so retries and audits need no persistence.
package assignment

import (
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/timeutil"
)

// BucketCount is the resolution of the unit interval. 10,000 buckets keep
// the worst-case weight quantization error at 0.01%.
const BucketCount = 10000

// Strategy names the four interchangeable randomization strategies.
type Strategy string

const (
	// StrategySimple hashes the subject id directly.
	StrategySimple Strategy = "simple"

	// StrategyStratified hashes stratum + subject id, guaranteeing balance
	// only within declared strata, not globally.
	StrategyStratified Strategy = "stratified"

	// StrategyCluster hashes the cluster id; all subjects in a cluster
	// inherit one assignment.
	StrategyCluster Strategy = "cluster"

	// StrategySwitchback hashes a discretized time bucket instead of the
	// subject, for experiments where spillover between concurrently
	// assigned subjects is unacceptable.
	StrategySwitchback Strategy = "switchback"
)

// Unit identifies the entity being assigned.
type Unit struct {
	// SubjectID is required for subject-level randomization.
	SubjectID string

	// Stratum, when non-empty, switches subject randomization to the
	// stratified strategy.
	Stratum string

	// ClusterID is required for cluster randomization.
	ClusterID string

	// At is the exposure timestamp, required for switchback randomization.
	At time.Time
}

// Assignment records the outcome of one assignment computation.
type Assignment struct {
	// ExperimentID is the experiment the unit was assigned under.
	ExperimentID string `json:"experiment_id"`

	// UnitKey is the hashed key (subject, stratum:subject, cluster, or
	// window index), kept for audit.
	UnitKey string `json:"unit_key"`

	// Strategy is the randomization strategy that produced the assignment.
	Strategy Strategy `json:"strategy"`

	// VariantLabel is the assigned arm.
	VariantLabel string `json:"variant_label"`

	// Bucket is the unit-interval position the key hashed to.
	Bucket float64 `json:"bucket"`

	// AssignedAt is when the computation ran. Recomputing yields the same
	// variant with a fresh timestamp.
	AssignedAt time.Time `json:"assigned_at"`
}

// Assign maps a unit to a variant of the experiment.
// Safe to call concurrently from arbitrarily many callers; no coordination.
func Assign(exp *experiment.Experiment, unit Unit) (Assignment, error) {
	if exp == nil {
		return Assignment{}, shared.NewDomainError("assignment", "Assign", shared.ErrInvalidConfiguration, "experiment is nil")
	}
	if err := checkWeights(exp); err != nil {
		return Assignment{}, err
	}

	strategy, key, err := resolveKey(exp, unit)
	if err != nil {
		return Assignment{}, err
	}

	bucket := bucketOf(exp.ID, key, exp.Salt)
	label := variantFor(exp, bucket)

	return Assignment{
		ExperimentID: exp.ID,
		UnitKey:      key,
		Strategy:     strategy,
		VariantLabel: label,
		Bucket:       bucket,
		AssignedAt:   time.Now().UTC(),
	}, nil
}

// resolveKey picks the strategy for the experiment's randomization unit and
// builds the hash key for it.
func resolveKey(exp *experiment.Experiment, unit Unit) (Strategy, string, error) {
	switch exp.Unit {
	case experiment.UnitSubject:
		if unit.SubjectID == "" {
			return "", "", shared.NewDomainError("assignment", "Assign", shared.ErrInvalidConfiguration, "subject randomization requires a subject id")
		}
		if unit.Stratum != "" {
			return StrategyStratified, unit.Stratum + ":" + unit.SubjectID, nil
		}
		return StrategySimple, unit.SubjectID, nil

	case experiment.UnitCluster:
		if unit.ClusterID == "" {
			return "", "", shared.NewDomainError("assignment", "Assign", shared.ErrInvalidConfiguration, "cluster randomization requires a cluster id")
		}
		return StrategyCluster, unit.ClusterID, nil

	case experiment.UnitTimeWindow:
		if unit.At.IsZero() {
			return "", "", shared.NewDomainError("assignment", "Assign", shared.ErrInvalidConfiguration, "switchback randomization requires a timestamp")
		}
		idx, err := timeutil.WindowIndex(unit.At, exp.StartAt, exp.SwitchbackWindow)
		if err != nil {
			return "", "", shared.WrapError("assignment", "Assign", shared.ErrInvalidConfiguration, "cannot discretize exposure time", err)
		}
		return StrategySwitchback, "w" + strconv.FormatInt(idx, 10), nil

	default:
		return "", "", shared.NewDomainError("assignment", "Assign", shared.ErrInvalidConfiguration, "unknown randomization unit")
	}
}

// bucketOf hashes experiment id, unit key, and salt onto [0, 1).
func bucketOf(experimentID, key, salt string) float64 {
	d := xxhash.New()
	d.WriteString(experimentID)
	d.WriteString(":")
	d.WriteString(key)
	if salt != "" {
		d.WriteString(":")
		d.WriteString(salt)
	}
	return float64(d.Sum64()%BucketCount) / float64(BucketCount)
}

// variantFor walks the frozen variant ordering and returns the variant whose
// cumulative weight range contains the bucket.
func variantFor(exp *experiment.Experiment, bucket float64) string {
	ordered := exp.OrderedVariants()
	cum := 0.0
	for _, v := range ordered {
		cum += v.Weight
		if bucket < cum {
			return v.Label
		}
	}
	// Cumulative floating error can leave a sliver at the top of the
	// interval; it belongs to the last range.
	return ordered[len(ordered)-1].Label
}

func checkWeights(exp *experiment.Experiment) error {
	sum := 0.0
	for _, v := range exp.Variants {
		sum += v.Weight
	}
	if math.Abs(sum-1.0) > experiment.WeightTolerance {
		return shared.NewDomainError("assignment", "Assign", shared.ErrInvalidConfiguration, "variant weights must sum to 1.0")
	}
	return nil
}
