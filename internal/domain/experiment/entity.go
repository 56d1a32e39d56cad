// Package experiment defines the experiment aggregate: the immutable
// definition of a controlled test as supplied by the registry collaborator.
// Once an experiment is running, its definition is a recorded fact; the only
// mutable runtime state in the engine lives in the bandit package.
package experiment

import (
	"math"
	"sort"
	"time"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// WeightTolerance is the floating tolerance for variant weights summing to 1.0.
const WeightTolerance = 1e-6

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// MetricType classifies how a metric's observations are analyzed.
type MetricType string

const (
	// MetricProportion is a binary conversion-style metric (value 0 or 1).
	MetricProportion MetricType = "proportion"

	// MetricContinuous is a real-valued metric (latency, revenue, duration).
	MetricContinuous MetricType = "continuous"

	// MetricCount is an event-count metric.
	MetricCount MetricType = "count"
)

// IsValid checks the metric type is one of the supported kinds.
func (t MetricType) IsValid() bool {
	switch t {
	case MetricProportion, MetricContinuous, MetricCount:
		return true
	default:
		return false
	}
}

// RandomizationUnit determines what entity a bucket hash is computed over.
type RandomizationUnit string

const (
	// UnitSubject randomizes individual subjects.
	UnitSubject RandomizationUnit = "subject"

	// UnitCluster randomizes whole clusters; every subject in a cluster
	// inherits the cluster's assignment.
	UnitCluster RandomizationUnit = "cluster"

	// UnitTimeWindow randomizes discretized time buckets (switchback).
	UnitTimeWindow RandomizationUnit = "time-window"
)

// IsValid checks the randomization unit is supported.
func (u RandomizationUnit) IsValid() bool {
	switch u {
	case UnitSubject, UnitCluster, UnitTimeWindow:
		return true
	default:
		return false
	}
}

// Status tracks where an experiment is in its lifecycle.
type Status string

const (
	// StatusDraft is a registered but not yet started experiment.
	StatusDraft Status = "draft"

	// StatusRunning is an experiment currently receiving exposures.
	StatusRunning Status = "running"

	// StatusCompleted is an experiment past its planned end with a final analysis.
	StatusCompleted Status = "completed"

	// StatusAborted is an experiment stopped early (e.g., on SRM detection).
	StatusAborted Status = "aborted"
)

// IsValid checks the status value.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusRunning, StatusCompleted, StatusAborted:
		return true
	default:
		return false
	}
}

// IsFinal returns true if the status is terminal.
func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// ══════════════════════════════════════════════════════════════════════════════
// VARIANT
// ══════════════════════════════════════════════════════════════════════════════

// Variant is a single arm of an experiment.
type Variant struct {
	// Label uniquely identifies the variant within its experiment.
	Label string `json:"label"`

	// Weight is the target traffic share in (0, 1].
	Weight float64 `json:"weight"`

	// IsControl marks the control arm. Exactly one variant carries it.
	IsControl bool `json:"is_control"`
}

// Metric is a metric definition attached to an experiment.
type Metric struct {
	// Name identifies the metric in observation batches.
	Name string `json:"name"`

	// Type selects the analysis family.
	Type MetricType `json:"type"`

	// MaxRegression is the tolerated regression for guardrail metrics,
	// expressed in the metric's own units (absolute). Zero for the primary
	// metric.
	MaxRegression float64 `json:"max_regression,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT
// ══════════════════════════════════════════════════════════════════════════════

// Experiment is the full definition of a controlled test.
type Experiment struct {
	// ID uniquely identifies the experiment.
	ID string `json:"experiment_id"`

	// StartAt / EndAt bound the planned exposure window.
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`

	// TrafficFraction is the share of eligible traffic enrolled, in (0, 1].
	TrafficFraction float64 `json:"traffic_fraction"`

	// Unit selects the randomization strategy family.
	Unit RandomizationUnit `json:"randomization_unit"`

	// Salt is mixed into the bucket hash so reruns of the same experiment id
	// produce an independent assignment.
	Salt string `json:"salt,omitempty"`

	// SwitchbackWindow is the time-bucket width for switchback experiments.
	SwitchbackWindow time.Duration `json:"switchback_window,omitempty"`

	// Variants are the arms. Exactly one is the control.
	Variants []Variant `json:"variants"`

	// PrimaryMetric drives the ship/no-ship decision.
	PrimaryMetric Metric `json:"primary_metric"`

	// Guardrails are non-regression metrics checked alongside the primary.
	Guardrails []Metric `json:"guardrails,omitempty"`

	// Alpha is the significance level (default 0.05).
	Alpha float64 `json:"alpha"`

	// Power is the target statistical power (default 0.80).
	Power float64 `json:"power"`

	// PlannedSamplePerArm is the per-arm sample size the experiment was
	// powered for. Zero means no fixed horizon was declared.
	PlannedSamplePerArm int `json:"planned_sample_per_arm,omitempty"`

	// PlannedPeeks is the number of interim looks budgeted for the
	// sequential guard. Zero means a single final analysis.
	PlannedPeeks int `json:"planned_peeks,omitempty"`

	// Adaptive switches the runtime path from static assignment to the
	// bandit allocator.
	Adaptive bool `json:"adaptive"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultAlpha and DefaultPower are applied when the registry omits them.
const (
	DefaultAlpha = 0.05
	DefaultPower = 0.80
)

// NewParams carries the registry-supplied fields for constructing an Experiment.
type NewParams struct {
	ID               string
	StartAt          time.Time
	EndAt            time.Time
	TrafficFraction  float64
	Unit             RandomizationUnit
	Salt             string
	SwitchbackWindow time.Duration
	Variants         []Variant
	PrimaryMetric    Metric
	Guardrails       []Metric
	Alpha            float64
	Power            float64
	PlannedPeeks     int
	Adaptive         bool
}

// New validates a registry definition and constructs an Experiment.
func New(params NewParams) (*Experiment, error) {
	if params.ID == "" {
		return nil, shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "experiment id is required")
	}
	if !params.Unit.IsValid() {
		return nil, shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "unknown randomization unit")
	}
	if params.Unit == UnitTimeWindow && params.SwitchbackWindow <= 0 {
		return nil, shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "switchback experiments require a window width")
	}
	if params.TrafficFraction <= 0 || params.TrafficFraction > 1 {
		return nil, shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "traffic fraction must be in (0, 1]")
	}
	if err := validateVariants(params.Variants); err != nil {
		return nil, err
	}
	if !params.PrimaryMetric.Type.IsValid() || params.PrimaryMetric.Name == "" {
		return nil, shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "primary metric is missing or malformed")
	}
	for _, g := range params.Guardrails {
		if !g.Type.IsValid() || g.Name == "" {
			return nil, shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "guardrail metric is missing or malformed")
		}
	}

	alpha := params.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if alpha <= 0 || alpha >= 1 {
		return nil, shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "alpha must be in (0, 1)")
	}

	power := params.Power
	if power == 0 {
		power = DefaultPower
	}
	if power <= 0 || power >= 1 {
		return nil, shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "power must be in (0, 1)")
	}

	if params.PlannedPeeks < 0 {
		return nil, shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "planned peeks cannot be negative")
	}

	now := time.Now().UTC()

	return &Experiment{
		ID:               params.ID,
		StartAt:          params.StartAt,
		EndAt:            params.EndAt,
		TrafficFraction:  params.TrafficFraction,
		Unit:             params.Unit,
		Salt:             params.Salt,
		SwitchbackWindow: params.SwitchbackWindow,
		Variants:         params.Variants,
		PrimaryMetric:    params.PrimaryMetric,
		Guardrails:       params.Guardrails,
		Alpha:            alpha,
		Power:            power,
		PlannedPeeks:     params.PlannedPeeks,
		Adaptive:         params.Adaptive,
		Status:           StatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func validateVariants(variants []Variant) error {
	if len(variants) < 2 {
		return shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "experiment needs at least two variants")
	}

	seen := make(map[string]struct{}, len(variants))
	controls := 0
	sum := 0.0
	for _, v := range variants {
		if v.Label == "" {
			return shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "variant label cannot be empty")
		}
		if _, dup := seen[v.Label]; dup {
			return shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "duplicate variant label: "+v.Label)
		}
		seen[v.Label] = struct{}{}
		if v.Weight <= 0 || v.Weight > 1 {
			return shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "variant weight must be in (0, 1]: "+v.Label)
		}
		if v.IsControl {
			controls++
		}
		sum += v.Weight
	}

	if controls != 1 {
		return shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "exactly one variant must be marked control")
	}
	if math.Abs(sum-1.0) > WeightTolerance {
		return shared.NewDomainError("experiment", "New", shared.ErrInvalidConfiguration, "variant weights must sum to 1.0")
	}
	return nil
}

// Control returns the control variant.
func (e *Experiment) Control() Variant {
	for _, v := range e.Variants {
		if v.IsControl {
			return v
		}
	}
	// Unreachable for experiments built through New.
	return Variant{}
}

// Treatments returns all non-control variants.
func (e *Experiment) Treatments() []Variant {
	out := make([]Variant, 0, len(e.Variants)-1)
	for _, v := range e.Variants {
		if !v.IsControl {
			out = append(out, v)
		}
	}
	return out
}

// OrderedVariants returns the variants sorted lexicographically by label.
// This ordering is frozen for the lifetime of the experiment: bucket ranges
// are laid out in this order, so changing one variant's weight never silently
// reassigns subjects whose bucket falls in an untouched range.
func (e *Experiment) OrderedVariants() []Variant {
	out := make([]Variant, len(e.Variants))
	copy(out, e.Variants)
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// VariantWeights returns a label -> weight map.
func (e *Experiment) VariantWeights() map[string]float64 {
	weights := make(map[string]float64, len(e.Variants))
	for _, v := range e.Variants {
		weights[v.Label] = v.Weight
	}
	return weights
}

// HasVariant reports whether a label belongs to this experiment.
func (e *Experiment) HasVariant(label string) bool {
	for _, v := range e.Variants {
		if v.Label == label {
			return true
		}
	}
	return false
}

// AllMetrics returns the primary metric followed by the guardrails.
func (e *Experiment) AllMetrics() []Metric {
	out := make([]Metric, 0, 1+len(e.Guardrails))
	out = append(out, e.PrimaryMetric)
	out = append(out, e.Guardrails...)
	return out
}

// Start transitions the experiment into the running state.
func (e *Experiment) Start() error {
	if e.Status != StatusDraft {
		return shared.NewDomainError("experiment", "Start", shared.ErrStateTransition, "only draft experiments can start")
	}
	e.Status = StatusRunning
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete transitions the experiment into the completed state.
func (e *Experiment) Complete() error {
	if e.Status != StatusRunning {
		return shared.NewDomainError("experiment", "Complete", shared.ErrStateTransition, "only running experiments can complete")
	}
	e.Status = StatusCompleted
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// Abort stops the experiment early, e.g. after SRM detection.
func (e *Experiment) Abort() error {
	if e.Status.IsFinal() {
		return shared.NewDomainError("experiment", "Abort", shared.ErrStateTransition, "experiment already finalized")
	}
	e.Status = StatusAborted
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// PastPlannedEnd reports whether the planned exposure window has elapsed.
func (e *Experiment) PastPlannedEnd(now time.Time) bool {
	return !e.EndAt.IsZero() && now.After(e.EndAt)
}
