// Package service wires domain components into long-lived runtime services.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/exp-hub/experiment-engine/internal/domain/bandit"
	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/logger"
)

// Selector is the strategy interface both bandit algorithms satisfy for
// binary rewards.
type Selector interface {
	SelectArm(state *bandit.State) (string, error)
}

// CounterStore mirrors arm counters to a persistent store. Implemented by
// the Redis bandit store; nil disables mirroring.
type CounterStore interface {
	RecordBinary(ctx context.Context, experimentID, label string, success bool) error
	Load(ctx context.Context, experimentID string, state *bandit.State) error
}

// AllocatorService owns the per-experiment bandit state for every adaptive
// experiment the process serves. Selection and reward recording go through
// here so the in-memory counters and the persistent mirror stay in step.
type AllocatorService struct {
	epsilon  float64
	seed     uint64
	store    CounterStore
	log      *logger.Logger
	thompson *bandit.Thompson

	mu     sync.RWMutex
	states map[string]*bandit.State
	greedy map[string]*bandit.EpsilonGreedy
}

// AllocatorConfig carries the tunables for the allocator service.
type AllocatorConfig struct {
	// Epsilon is the exploration rate for epsilon-greedy experiments.
	Epsilon float64

	// Seed makes allocation reproducible in simulation. Zero picks an
	// arbitrary fixed seed.
	Seed uint64
}

// NewAllocatorService builds an allocator. The counter store may be nil when
// persistence of arm counters is disabled.
func NewAllocatorService(cfg AllocatorConfig, store CounterStore, log *logger.Logger) *AllocatorService {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = bandit.DefaultEpsilon
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	return &AllocatorService{
		epsilon:  cfg.Epsilon,
		seed:     cfg.Seed,
		store:    store,
		log:      log,
		thompson: bandit.NewThompson(cfg.Seed),
		states:   make(map[string]*bandit.State),
		greedy:   make(map[string]*bandit.EpsilonGreedy),
	}
}

// Register creates allocator state for an adaptive experiment and restores
// persisted counters. Idempotent: re-registering an experiment keeps the
// existing state.
func (s *AllocatorService) Register(ctx context.Context, exp *experiment.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[exp.ID]; ok {
		return nil
	}

	labels := make([]string, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		labels = append(labels, v.Label)
	}

	state, err := bandit.NewState(labels, bandit.DefaultPriorA, bandit.DefaultPriorB)
	if err != nil {
		return err
	}

	if s.store != nil {
		if err := s.store.Load(ctx, exp.ID, state); err != nil {
			return err
		}
	}

	eg, err := bandit.NewEpsilonGreedy(s.epsilon, s.seed)
	if err != nil {
		return err
	}

	s.states[exp.ID] = state
	s.greedy[exp.ID] = eg
	s.log.Info("registered adaptive experiment",
		logger.ExperimentID(exp.ID),
		logger.Int("arms", len(labels)),
	)
	return nil
}

// SelectArm picks the arm to serve next for an adaptive experiment using
// Thompson sampling.
func (s *AllocatorService) SelectArm(experimentID string) (string, error) {
	state, err := s.stateFor(experimentID)
	if err != nil {
		return "", err
	}
	return s.thompson.SelectArm(state)
}

// SelectArmGreedy picks the next arm with the epsilon-greedy policy, for
// experiments whose reward is not binary.
func (s *AllocatorService) SelectArmGreedy(experimentID string) (string, error) {
	state, err := s.stateFor(experimentID)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	eg := s.greedy[experimentID]
	s.mu.RUnlock()

	return eg.SelectArm(state)
}

// RecordBinary records a Bernoulli reward in memory and mirrors it to the
// counter store.
func (s *AllocatorService) RecordBinary(ctx context.Context, experimentID, label string, success bool) error {
	state, err := s.stateFor(experimentID)
	if err != nil {
		return err
	}
	if err := state.RecordBinary(label, success); err != nil {
		return err
	}

	if s.store != nil {
		if err := s.store.RecordBinary(ctx, experimentID, label, success); err != nil {
			// The in-memory counter already advanced; a lost mirror write
			// costs at most one increment after a restart.
			s.log.Warn("failed to mirror arm counter",
				logger.ExperimentID(experimentID),
				logger.VariantLabel(label),
				logger.Err(err),
			)
		}
	}
	return nil
}

// RecordReward folds an arbitrary-valued reward into the arm's running mean.
func (s *AllocatorService) RecordReward(experimentID, label string, reward float64) error {
	state, err := s.stateFor(experimentID)
	if err != nil {
		return err
	}
	return state.RecordReward(label, reward)
}

// Counts returns a snapshot of the arm counters for an experiment.
func (s *AllocatorService) Counts(experimentID string) (map[string]bandit.ArmCounts, error) {
	state, err := s.stateFor(experimentID)
	if err != nil {
		return nil, err
	}
	return state.Counts(), nil
}

// Unregister drops allocator state, used when an experiment finalizes.
func (s *AllocatorService) Unregister(experimentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, experimentID)
	delete(s.greedy, experimentID)
}

func (s *AllocatorService) stateFor(experimentID string) (*bandit.State, error) {
	s.mu.RLock()
	state, ok := s.states[experimentID]
	s.mu.RUnlock()
	if !ok {
		return nil, shared.NewDomainError("bandit", "stateFor", shared.ErrNotFound,
			fmt.Sprintf("experiment %s has no allocator state", experimentID))
	}
	return state, nil
}
