package bandit

import (
	"sync"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Thompson allocates traffic by posterior sampling: each arm's conversion
// rate gets a Beta(successes+priorA, failures+priorB) posterior, one draw is
// taken per arm, and the highest draw wins. Exploration falls out of the
// posterior width, so uncertain arms keep getting traffic until the data
// rules them out.
//
// Selection is intentionally randomized; two calls on identical state may
// pick different arms.
type Thompson struct {
	mu  sync.Mutex
	src rand.Source
}

// NewThompson builds a Thompson sampler seeded for reproducible simulation.
func NewThompson(seed uint64) *Thompson {
	return &Thompson{src: rand.NewSource(seed)}
}

// SelectArm draws one sample from each arm's posterior and returns the label
// of the largest draw.
func (t *Thompson) SelectArm(state *State) (string, error) {
	if state == nil {
		return "", unknownArm("SelectArm", "")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	best := ""
	bestDraw := -1.0
	for _, label := range state.order {
		arm := state.arms[label]
		posterior := distuv.Beta{
			Alpha: float64(arm.successes.Load()) + state.priorA,
			Beta:  float64(arm.failures.Load()) + state.priorB,
			Src:   t.src,
		}
		if draw := posterior.Rand(); draw > bestDraw {
			bestDraw = draw
			best = label
		}
	}
	return best, nil
}

// Update records a Bernoulli reward for the selected arm.
func (t *Thompson) Update(state *State, label string, success bool) error {
	return state.RecordBinary(label, success)
}
