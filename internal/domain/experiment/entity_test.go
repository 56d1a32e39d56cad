package experiment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func validParams() NewParams {
	return NewParams{
		ID:              "search-ranking",
		StartAt:         time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		EndAt:           time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC),
		TrafficFraction: 0.5,
		Unit:            UnitSubject,
		Variants: []Variant{
			{Label: "control", Weight: 0.5, IsControl: true},
			{Label: "treatment", Weight: 0.5},
		},
		PrimaryMetric: Metric{Name: "ctr", Type: MetricProportion},
	}
}

func TestNew_Defaults(t *testing.T) {
	exp, err := New(validParams())
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, exp.Status)
	assert.Equal(t, DefaultAlpha, exp.Alpha)
	assert.Equal(t, DefaultPower, exp.Power)
	assert.False(t, exp.CreatedAt.IsZero())
}

func TestNew_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*NewParams)
	}{
		{"missing id", func(p *NewParams) { p.ID = "" }},
		{"unknown unit", func(p *NewParams) { p.Unit = "household" }},
		{"traffic fraction zero", func(p *NewParams) { p.TrafficFraction = 0 }},
		{"traffic fraction above one", func(p *NewParams) { p.TrafficFraction = 1.2 }},
		{"single variant", func(p *NewParams) { p.Variants = p.Variants[:1] }},
		{"no control", func(p *NewParams) { p.Variants[0].IsControl = false }},
		{"two controls", func(p *NewParams) { p.Variants[1].IsControl = true }},
		{"duplicate labels", func(p *NewParams) { p.Variants[1].Label = "control" }},
		{"weights off", func(p *NewParams) { p.Variants[0].Weight = 0.6 }},
		{"zero weight", func(p *NewParams) { p.Variants[0].Weight = 0; p.Variants[1].Weight = 1 }},
		{"missing primary metric", func(p *NewParams) { p.PrimaryMetric = Metric{} }},
		{"bad guardrail", func(p *NewParams) { p.Guardrails = []Metric{{Name: "g"}} }},
		{"alpha out of range", func(p *NewParams) { p.Alpha = 1.0 }},
		{"power out of range", func(p *NewParams) { p.Power = -0.5 }},
		{"negative peeks", func(p *NewParams) { p.PlannedPeeks = -1 }},
		{"switchback without window", func(p *NewParams) { p.Unit = UnitTimeWindow }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := New(p)
			assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration), "got %v", err)
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	exp, err := New(validParams())
	require.NoError(t, err)

	assert.Error(t, exp.Complete(), "draft cannot complete")
	require.NoError(t, exp.Start())
	assert.Equal(t, StatusRunning, exp.Status)

	err = exp.Start()
	assert.True(t, errors.Is(err, shared.ErrStateTransition), "running cannot restart")

	require.NoError(t, exp.Complete())
	assert.Equal(t, StatusCompleted, exp.Status)
	assert.True(t, exp.Status.IsFinal())

	err = exp.Abort()
	assert.True(t, errors.Is(err, shared.ErrStateTransition), "final states are terminal")
}

func TestAbortFromAnyOpenState(t *testing.T) {
	draft, err := New(validParams())
	require.NoError(t, err)
	require.NoError(t, draft.Abort())

	running, err := New(validParams())
	require.NoError(t, err)
	require.NoError(t, running.Start())
	require.NoError(t, running.Abort())
	assert.Equal(t, StatusAborted, running.Status)
}

func TestOrderedVariants_Frozen(t *testing.T) {
	p := validParams()
	p.Variants = []Variant{
		{Label: "z-treatment", Weight: 0.3},
		{Label: "a-control", Weight: 0.5, IsControl: true},
		{Label: "m-treatment", Weight: 0.2},
	}
	exp, err := New(p)
	require.NoError(t, err)

	ordered := exp.OrderedVariants()
	assert.Equal(t, "a-control", ordered[0].Label)
	assert.Equal(t, "m-treatment", ordered[1].Label)
	assert.Equal(t, "z-treatment", ordered[2].Label)
	// The experiment's own slice is untouched.
	assert.Equal(t, "z-treatment", exp.Variants[0].Label)
}

func TestControlAndTreatments(t *testing.T) {
	exp, err := New(validParams())
	require.NoError(t, err)

	assert.Equal(t, "control", exp.Control().Label)
	treatments := exp.Treatments()
	require.Len(t, treatments, 1)
	assert.Equal(t, "treatment", treatments[0].Label)
	assert.True(t, exp.HasVariant("treatment"))
	assert.False(t, exp.HasVariant("phantom"))
}

func TestPastPlannedEnd(t *testing.T) {
	exp, err := New(validParams())
	require.NoError(t, err)

	assert.False(t, exp.PastPlannedEnd(exp.EndAt.Add(-time.Hour)))
	assert.True(t, exp.PastPlannedEnd(exp.EndAt.Add(time.Hour)))

	exp.EndAt = time.Time{}
	assert.False(t, exp.PastPlannedEnd(time.Now()), "no planned end means never overdue")
}

func TestAllMetrics(t *testing.T) {
	p := validParams()
	p.Guardrails = []Metric{{Name: "latency", Type: MetricContinuous, MaxRegression: 5}}
	exp, err := New(p)
	require.NoError(t, err)

	all := exp.AllMetrics()
	require.Len(t, all, 2)
	assert.Equal(t, "ctr", all[0].Name)
	assert.Equal(t, "latency", all[1].Name)
}
