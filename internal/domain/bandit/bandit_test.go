package bandit

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

func TestNewState_Validation(t *testing.T) {
	_, err := NewState([]string{"only"}, 0, 0)
	assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration), "one arm")

	_, err = NewState([]string{"a", "a"}, 0, 0)
	assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration), "duplicate label")

	_, err = NewState([]string{"a", "b"}, -1, 1)
	assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration), "negative prior")

	state, err := NewState([]string{"b", "a", "c"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, state.Labels(), "ordering is frozen and sorted")
}

func TestState_RecordBinary(t *testing.T) {
	state, err := NewState([]string{"control", "treatment"}, 0, 0)
	require.NoError(t, err)

	require.NoError(t, state.RecordBinary("control", true))
	require.NoError(t, state.RecordBinary("control", true))
	require.NoError(t, state.RecordBinary("control", false))

	counts := state.Counts()
	assert.Equal(t, int64(2), counts["control"].Successes)
	assert.Equal(t, int64(1), counts["control"].Failures)
	assert.Equal(t, int64(0), counts["treatment"].Successes)

	err = state.RecordBinary("phantom", true)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))
}

func TestState_RecordRewardRunningMean(t *testing.T) {
	state, err := NewState([]string{"control", "treatment"}, 0, 0)
	require.NoError(t, err)

	for _, r := range []float64{2, 4, 6} {
		require.NoError(t, state.RecordReward("treatment", r))
	}

	counts := state.Counts()
	assert.Equal(t, int64(3), counts["treatment"].RewardCount)
	assert.InDelta(t, 4.0, counts["treatment"].MeanReward, 1e-9)
}

func TestState_Seed(t *testing.T) {
	state, err := NewState([]string{"control", "treatment"}, 0, 0)
	require.NoError(t, err)

	require.NoError(t, state.Seed("treatment", 120, 880))
	counts := state.Counts()
	assert.Equal(t, int64(120), counts["treatment"].Successes)
	assert.Equal(t, int64(880), counts["treatment"].Failures)

	assert.Error(t, state.Seed("phantom", 1, 1))
}

func TestState_ConcurrentRecording(t *testing.T) {
	state, err := NewState([]string{"control", "treatment"}, 0, 0)
	require.NoError(t, err)

	const perWorker = 1000
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			label := "control"
			if worker%2 == 1 {
				label = "treatment"
			}
			for i := 0; i < perWorker; i++ {
				_ = state.RecordBinary(label, i%3 == 0)
				_ = state.RecordReward(label, float64(i%5))
			}
		}(w)
	}
	wg.Wait()

	counts := state.Counts()
	for _, label := range []string{"control", "treatment"} {
		c := counts[label]
		assert.Equal(t, int64(4*perWorker), c.Successes+c.Failures, label)
		assert.Equal(t, int64(4*perWorker), c.RewardCount, label)
		assert.InDelta(t, 2.0, c.MeanReward, 1e-9, label)
	}
}

func TestThompson_ConvergesToBestArm(t *testing.T) {
	state, err := NewState([]string{"a", "b", "c"}, 0, 0)
	require.NoError(t, err)

	trueRates := map[string]float64{"a": 0.10, "b": 0.15, "c": 0.08}
	sampler := NewThompson(42)
	rewards := rand.New(rand.NewSource(7))

	const trials = 5000
	pulls := make(map[string]int)
	for i := 0; i < trials; i++ {
		label, err := sampler.SelectArm(state)
		require.NoError(t, err)
		pulls[label]++
		require.NoError(t, sampler.Update(state, label, rewards.Float64() < trueRates[label]))
	}

	assert.Greater(t, pulls["b"], pulls["a"], "best arm out-pulls the runner-up")
	assert.Greater(t, pulls["b"], pulls["c"])
	assert.Greater(t, float64(pulls["b"])/trials, 0.4, "best arm takes an outsized share")

	counts := state.Counts()
	var total int64
	for _, c := range counts {
		total += c.Successes + c.Failures
	}
	assert.Equal(t, int64(trials), total)
}

func TestThompson_NilState(t *testing.T) {
	sampler := NewThompson(1)
	_, err := sampler.SelectArm(nil)
	assert.Error(t, err)
}

func TestEpsilonGreedy_ExploitsBestMean(t *testing.T) {
	state, err := NewState([]string{"a", "b"}, 0, 0)
	require.NoError(t, err)

	require.NoError(t, state.RecordReward("a", 1.0))
	require.NoError(t, state.RecordReward("b", 5.0))

	// Zero epsilon: pure exploitation, fully deterministic.
	eg, err := NewEpsilonGreedy(0, 1)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		label, err := eg.SelectArm(state)
		require.NoError(t, err)
		assert.Equal(t, "b", label)
	}
}

func TestEpsilonGreedy_TiesGoToFirstLabel(t *testing.T) {
	state, err := NewState([]string{"b", "a"}, 0, 0)
	require.NoError(t, err)

	eg, err := NewEpsilonGreedy(0, 1)
	require.NoError(t, err)
	label, err := eg.SelectArm(state)
	require.NoError(t, err)
	assert.Equal(t, "a", label, "unplayed arms tie and resolve to the frozen order")
}

func TestEpsilonGreedy_Explores(t *testing.T) {
	state, err := NewState([]string{"a", "b"}, 0, 0)
	require.NoError(t, err)
	require.NoError(t, state.RecordReward("a", 10.0))

	eg, err := NewEpsilonGreedy(1.0, 99)
	require.NoError(t, err)

	seen := make(map[string]int)
	for i := 0; i < 200; i++ {
		label, err := eg.SelectArm(state)
		require.NoError(t, err)
		seen[label]++
	}
	assert.Greater(t, seen["b"], 0, "full exploration reaches the losing arm")
}

func TestNewEpsilonGreedy_InvalidEpsilon(t *testing.T) {
	_, err := NewEpsilonGreedy(1.5, 1)
	assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration))
	_, err = NewEpsilonGreedy(-0.1, 1)
	assert.True(t, errors.Is(err, shared.ErrInvalidConfiguration))
}
