// Package bandit implements adaptive traffic allocation: Thompson sampling
// over Beta posteriors for binary rewards, and epsilon-greedy over running
// means for arbitrary rewards. Counters are lock-free per arm so reward
// recording never serializes across arms.
package bandit

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// Default Beta prior: uniform, one pseudo-success and one pseudo-failure.
const (
	DefaultPriorA = 1.0
	DefaultPriorB = 1.0
)

// Arm holds the reward history of one variant.
type Arm struct {
	label string

	// Binary reward counters, updated lock-free.
	successes atomic.Int64
	failures  atomic.Int64

	// Running mean for arbitrary-valued rewards. Guarded by mu; the
	// incremental update reads and writes both fields together.
	mu          sync.Mutex
	rewardCount int64
	meanReward  float64
}

// Label returns the arm's variant label.
func (a *Arm) Label() string { return a.label }

// ArmCounts is a point-in-time copy of one arm's counters.
type ArmCounts struct {
	Successes   int64   `json:"successes"`
	Failures    int64   `json:"failures"`
	RewardCount int64   `json:"reward_count"`
	MeanReward  float64 `json:"mean_reward"`
}

// State is the allocator's view of one experiment's arms. The arm set and
// its order are frozen at construction.
type State struct {
	arms   map[string]*Arm
	order  []string
	priorA float64
	priorB float64
}

// NewState builds allocator state for the given variant labels. Priors of
// zero fall back to the uniform Beta(1, 1).
func NewState(labels []string, priorA, priorB float64) (*State, error) {
	if len(labels) < 2 {
		return nil, shared.NewDomainError("bandit", "NewState",
			shared.ErrInvalidConfiguration, "need at least two arms")
	}
	if priorA == 0 {
		priorA = DefaultPriorA
	}
	if priorB == 0 {
		priorB = DefaultPriorB
	}
	if priorA < 0 || priorB < 0 {
		return nil, shared.NewDomainError("bandit", "NewState",
			shared.ErrInvalidConfiguration, "priors must be non-negative")
	}

	s := &State{
		arms:   make(map[string]*Arm, len(labels)),
		order:  make([]string, 0, len(labels)),
		priorA: priorA,
		priorB: priorB,
	}
	for _, label := range labels {
		if _, dup := s.arms[label]; dup {
			return nil, shared.NewDomainError("bandit", "NewState",
				shared.ErrInvalidConfiguration, fmt.Sprintf("duplicate arm label %q", label))
		}
		s.arms[label] = &Arm{label: label}
		s.order = append(s.order, label)
	}
	sort.Strings(s.order)
	return s, nil
}

// Labels returns the frozen arm ordering.
func (s *State) Labels() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// RecordBinary records a Bernoulli reward for an arm.
func (s *State) RecordBinary(label string, success bool) error {
	arm, ok := s.arms[label]
	if !ok {
		return unknownArm("RecordBinary", label)
	}
	if success {
		arm.successes.Add(1)
	} else {
		arm.failures.Add(1)
	}
	return nil
}

// RecordReward folds an arbitrary-valued reward into the arm's running mean.
func (s *State) RecordReward(label string, reward float64) error {
	arm, ok := s.arms[label]
	if !ok {
		return unknownArm("RecordReward", label)
	}
	arm.mu.Lock()
	arm.rewardCount++
	arm.meanReward += (reward - arm.meanReward) / float64(arm.rewardCount)
	arm.mu.Unlock()
	return nil
}

// Counts returns a snapshot of every arm's counters, keyed by label.
func (s *State) Counts() map[string]ArmCounts {
	out := make(map[string]ArmCounts, len(s.arms))
	for label, arm := range s.arms {
		arm.mu.Lock()
		c := ArmCounts{
			Successes:   arm.successes.Load(),
			Failures:    arm.failures.Load(),
			RewardCount: arm.rewardCount,
			MeanReward:  arm.meanReward,
		}
		arm.mu.Unlock()
		out[label] = c
	}
	return out
}

// Seed overwrites an arm's binary counters, used to restore state from the
// persistent store on startup.
func (s *State) Seed(label string, successes, failures int64) error {
	arm, ok := s.arms[label]
	if !ok {
		return unknownArm("Seed", label)
	}
	arm.successes.Store(successes)
	arm.failures.Store(failures)
	return nil
}

func unknownArm(op, label string) error {
	return shared.NewDomainError("bandit", op, shared.ErrInvalidInput,
		fmt.Sprintf("unknown arm %q", label))
}
