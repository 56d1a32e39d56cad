package bandit

import (
	"sync"

	"golang.org/x/exp/rand"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// DefaultEpsilon is the conventional 10% exploration rate.
const DefaultEpsilon = 0.1

// EpsilonGreedy allocates traffic to the arm with the best running mean
// reward, except with probability epsilon it explores a uniformly random arm.
// Unlike Thompson sampling it works with arbitrary-valued rewards.
type EpsilonGreedy struct {
	epsilon float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEpsilonGreedy builds an epsilon-greedy allocator. Epsilon must be in
// [0, 1]; zero disables exploration entirely.
func NewEpsilonGreedy(epsilon float64, seed uint64) (*EpsilonGreedy, error) {
	if epsilon < 0 || epsilon > 1 {
		return nil, shared.NewDomainError("bandit", "NewEpsilonGreedy",
			shared.ErrInvalidConfiguration, "epsilon must be in [0, 1]")
	}
	return &EpsilonGreedy{
		epsilon: epsilon,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// SelectArm explores with probability epsilon, otherwise exploits the arm
// with the highest running mean. Ties resolve to the first arm in the frozen
// label order, so unplayed arms (mean zero) lose ties deterministically.
func (e *EpsilonGreedy) SelectArm(state *State) (string, error) {
	if state == nil {
		return "", unknownArm("SelectArm", "")
	}

	e.mu.Lock()
	explore := e.rng.Float64() < e.epsilon
	var pick int
	if explore {
		pick = e.rng.Intn(len(state.order))
	}
	e.mu.Unlock()

	if explore {
		return state.order[pick], nil
	}

	best := state.order[0]
	bestMean := armMean(state.arms[best])
	for _, label := range state.order[1:] {
		if m := armMean(state.arms[label]); m > bestMean {
			bestMean = m
			best = label
		}
	}
	return best, nil
}

// Update folds a reward into the selected arm's running mean.
func (e *EpsilonGreedy) Update(state *State, label string, reward float64) error {
	return state.RecordReward(label, reward)
}

func armMean(a *Arm) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meanReward
}
