package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/exp-hub/experiment-engine/internal/domain/bandit"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
	"github.com/exp-hub/experiment-engine/pkg/retry"
)

// Hash field suffixes. Each arm owns two fields in the experiment's counter
// hash: "<label>:successes" and "<label>:failures".
const (
	fieldSuccesses = "successes"
	fieldFailures  = "failures"
)

// BanditStore mirrors bandit arm counters into Redis so allocator state
// survives process restarts. Increments go through HINCRBY, so concurrent
// writers from multiple processes never lose updates.
type BanditStore struct {
	cache   *Cache
	retrier *retry.Retrier
}

// NewBanditStore creates a new bandit counter store.
func NewBanditStore(cache *Cache) *BanditStore {
	return &BanditStore{
		cache:   cache,
		retrier: retry.RedisRetrier(),
	}
}

// RecordBinary increments the persistent counter for one arm. HINCRBY is
// idempotent per delivery, not per call, so the retry covers only failed
// round trips, never acknowledged ones.
func (s *BanditStore) RecordBinary(ctx context.Context, experimentID, label string, success bool) error {
	field := armField(label, fieldFailures)
	if success {
		field = armField(label, fieldSuccesses)
	}

	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		if _, err := s.cache.HIncrBy(ctx, BanditKey(experimentID), field, 1); err != nil {
			return retry.Retryable(err)
		}
		return nil
	})
	if err != nil {
		return shared.WrapError("bandit", "RecordBinary", shared.ErrExternalService,
			"failed to increment arm counter", err)
	}
	return nil
}

// Load restores persisted counters into allocator state. Arms with no
// persisted counters keep their zero values; fields for unknown arms are
// ignored so stale labels from a redefined experiment cannot fail a restart.
func (s *BanditStore) Load(ctx context.Context, experimentID string, state *bandit.State) error {
	fields, err := s.cache.HGetAll(ctx, BanditKey(experimentID))
	if err != nil {
		return shared.WrapError("bandit", "Load", shared.ErrExternalService,
			"failed to read arm counters", err)
	}
	if len(fields) == 0 {
		return nil
	}

	type counters struct {
		successes int64
		failures  int64
	}
	byLabel := make(map[string]*counters)

	for field, raw := range fields {
		label, kind, ok := splitArmField(field)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return shared.WrapError("bandit", "Load", shared.ErrExternalService,
				fmt.Sprintf("malformed counter field %q", field), err)
		}

		c := byLabel[label]
		if c == nil {
			c = &counters{}
			byLabel[label] = c
		}
		switch kind {
		case fieldSuccesses:
			c.successes = n
		case fieldFailures:
			c.failures = n
		}
	}

	for _, label := range state.Labels() {
		c, ok := byLabel[label]
		if !ok {
			continue
		}
		if err := state.Seed(label, c.successes, c.failures); err != nil {
			return err
		}
	}

	return nil
}

// Snapshot writes the full in-memory counter state to Redis, replacing any
// persisted values. Used when seeding a fresh experiment.
func (s *BanditStore) Snapshot(ctx context.Context, experimentID string, state *bandit.State) error {
	counts := state.Counts()
	values := make([]interface{}, 0, len(counts)*4)
	for label, c := range counts {
		values = append(values,
			armField(label, fieldSuccesses), c.Successes,
			armField(label, fieldFailures), c.Failures,
		)
	}

	if err := s.cache.HSet(ctx, BanditKey(experimentID), values...); err != nil {
		return shared.WrapError("bandit", "Snapshot", shared.ErrExternalService,
			"failed to write arm counters", err)
	}
	return nil
}

// Clear removes an experiment's persisted counters.
func (s *BanditStore) Clear(ctx context.Context, experimentID string) error {
	if err := s.cache.Delete(ctx, BanditKey(experimentID)); err != nil {
		return shared.WrapError("bandit", "Clear", shared.ErrExternalService,
			"failed to delete arm counters", err)
	}
	return nil
}

func armField(label, kind string) string {
	return label + ":" + kind
}

// splitArmField parses "<label>:<kind>". Labels may themselves contain
// colons, so the split is on the last separator.
func splitArmField(field string) (label, kind string, ok bool) {
	i := strings.LastIndex(field, ":")
	if i <= 0 || i == len(field)-1 {
		return "", "", false
	}
	label, kind = field[:i], field[i+1:]
	if kind != fieldSuccesses && kind != fieldFailures {
		return "", "", false
	}
	return label, kind, true
}
