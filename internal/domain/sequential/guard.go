// Package sequential guards against the peeking problem: repeatedly testing
// an experiment at a fixed alpha inflates the false positive rate far beyond
// the nominal level. The guard spends alpha across a planned number of looks
// (Pocock boundaries) and enforces a one-way lifecycle so no analysis can run
// after finalization.
package sequential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// pocockAlpha is the per-look two-sided significance threshold that holds the
// overall type I error at 0.05 for k equally spaced looks. Beyond five looks
// the guard falls back to the Bonferroni-style alpha/k.
var pocockAlpha = map[int]float64{
	1: 0.05,
	2: 0.0294,
	3: 0.0221,
	4: 0.0182,
	5: 0.0158,
}

// AdjustedAlpha returns the per-look threshold for the given number of
// planned looks.
func AdjustedAlpha(plannedLooks int) (float64, error) {
	if plannedLooks < 1 {
		return 0, shared.NewDomainError("sequential", "AdjustedAlpha",
			shared.ErrInvalidInput, "planned looks must be at least 1")
	}
	if a, ok := pocockAlpha[plannedLooks]; ok {
		return a, nil
	}
	return 0.05 / float64(plannedLooks), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Phase is the guard's lifecycle state for one experiment.
type Phase string

const (
	// PhasePlanned: no look has been taken yet.
	PhasePlanned Phase = "planned"

	// PhasePeeked: at least one look has been taken.
	PhasePeeked Phase = "peeked"

	// PhaseFinalized: the experiment is closed to further analysis.
	PhaseFinalized Phase = "finalized"
)

// Peek is one audit entry in the look history.
type Peek struct {
	// Index is the 1-based look number.
	Index int `json:"index"`

	// AlphaUsed is the adjusted threshold this look was judged against.
	AlphaUsed float64 `json:"alpha_used"`

	// RunID references the analysis result produced at this look.
	RunID string `json:"run_id"`

	// Significant is whether the look crossed its boundary.
	Significant bool `json:"significant"`

	// PeekedAt is when the look ran.
	PeekedAt time.Time `json:"peeked_at"`
}

// track is the guard's per-experiment state.
type track struct {
	phase        Phase
	plannedLooks int
	history      []Peek
	finalRunID   string
}

// ══════════════════════════════════════════════════════════════════════════════
// GUARD
// ══════════════════════════════════════════════════════════════════════════════

// Guard wraps the analyzer with alpha spending and the peek lifecycle.
// Safe for concurrent use; each experiment's looks are serialized.
type Guard struct {
	analyzer *analysis.Analyzer

	mu     sync.Mutex
	tracks map[string]*track
}

// NewGuard builds a guard over the given analyzer.
func NewGuard(analyzer *analysis.Analyzer) *Guard {
	return &Guard{
		analyzer: analyzer,
		tracks:   make(map[string]*track),
	}
}

// Analyze takes the next look at the experiment: it computes the adjusted
// alpha for this look, delegates to the analyzer, and records the peek in the
// audit history. The returned result is stamped with the peek index and the
// alpha actually used.
//
// Fails with ErrExperimentAlreadyFinalized once Finalize has been called, and
// with ErrInvalidState when the planned number of looks is exhausted.
func (g *Guard) Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error) {
	if req.Experiment == nil {
		return nil, shared.NewDomainError("sequential", "Analyze", shared.ErrInvalidInput, "experiment is nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.trackFor(req.Experiment)
	if t.phase == PhaseFinalized {
		return nil, shared.NewDomainError("sequential", "Analyze",
			shared.ErrExperimentAlreadyFinalized,
			fmt.Sprintf("experiment %q is finalized; no further analysis is allowed", req.Experiment.ID))
	}

	lookIndex := len(t.history) + 1
	if lookIndex > t.plannedLooks {
		return nil, shared.NewDomainError("sequential", "Analyze",
			shared.ErrInvalidState,
			fmt.Sprintf("all %d planned looks already taken", t.plannedLooks))
	}

	adjusted, err := AdjustedAlpha(t.plannedLooks)
	if err != nil {
		return nil, err
	}

	req.Alpha = adjusted
	req.PeekIndex = lookIndex

	res, err := g.analyzer.Analyze(ctx, req)
	if err != nil {
		return nil, err
	}

	t.phase = PhasePeeked
	t.history = append(t.history, Peek{
		Index:       lookIndex,
		AlphaUsed:   adjusted,
		RunID:       res.RunID,
		Significant: res.Significant,
		PeekedAt:    res.AnalyzedAt,
	})

	return res, nil
}

// Finalize closes the experiment to further analysis, recording the run that
// finalized it. Idempotent: repeat calls with any run id succeed without
// changing the recorded final run.
func (g *Guard) Finalize(experimentID, runID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tracks[experimentID]
	if !ok {
		t = &track{plannedLooks: 1}
		g.tracks[experimentID] = t
	}
	if t.phase == PhaseFinalized {
		return
	}
	t.phase = PhaseFinalized
	t.finalRunID = runID
}

// PhaseOf reports the guard's lifecycle state for an experiment. Experiments
// the guard has never seen are PhasePlanned.
func (g *Guard) PhaseOf(experimentID string) Phase {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.tracks[experimentID]; ok {
		return t.phase
	}
	return PhasePlanned
}

// History returns a copy of the peek audit trail for an experiment.
func (g *Guard) History(experimentID string) []Peek {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tracks[experimentID]
	if !ok {
		return nil
	}
	out := make([]Peek, len(t.history))
	copy(out, t.history)
	return out
}

// FinalRunID returns the run that finalized the experiment, empty when it is
// still open.
func (g *Guard) FinalRunID(experimentID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if t, ok := g.tracks[experimentID]; ok {
		return t.finalRunID
	}
	return ""
}

func (g *Guard) trackFor(exp *experiment.Experiment) *track {
	t, ok := g.tracks[exp.ID]
	if !ok {
		planned := exp.PlannedPeeks
		if planned < 1 {
			planned = 1
		}
		t = &track{phase: PhasePlanned, plannedLooks: planned}
		g.tracks[exp.ID] = t
	}
	return t
}
