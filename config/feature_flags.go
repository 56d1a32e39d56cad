package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages engine behavior toggles. Flags gate entire engine
// capabilities, not statistical parameters; those live in EngineConfig.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// === Sequential analysis ===
	FeatureSequentialGuard = "sequential.guard" // alpha spending across peeks

	// === Adaptive allocation ===
	FeatureBanditAllocation = "bandit.allocation"     // Thompson / epsilon-greedy arms
	FeatureBanditRedisStore = "bandit.redis_store"    // mirror counters to Redis

	// === Integrity ===
	FeatureSRMWatch       = "integrity.srm_watch"      // scheduled sample ratio checks
	FeatureStrictDedupe   = "integrity.strict_dedupe"  // fail analyses on duplicate rows

	// === Analysis ===
	FeatureResultCache = "analysis.result_cache" // cache latest results in Redis
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features: make(map[string]*Feature),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureSequentialGuard] = &Feature{
		Name:        FeatureSequentialGuard,
		Description: "Adjust alpha across planned interim looks",
		Enabled:     true,
	}

	ff.features[FeatureBanditAllocation] = &Feature{
		Name:        FeatureBanditAllocation,
		Description: "Adaptive traffic allocation for flagged experiments",
		Enabled:     true,
	}

	ff.features[FeatureBanditRedisStore] = &Feature{
		Name:        FeatureBanditRedisStore,
		Description: "Mirror bandit counters to Redis for cross-process safety",
		Enabled:     true,
	}

	ff.features[FeatureSRMWatch] = &Feature{
		Name:        FeatureSRMWatch,
		Description: "Periodic sample ratio mismatch checks on running experiments",
		Enabled:     true,
	}

	ff.features[FeatureStrictDedupe] = &Feature{
		Name:        FeatureStrictDedupe,
		Description: "Reject analysis input containing duplicate observations",
		Enabled:     true,
	}

	ff.features[FeatureResultCache] = &Feature{
		Name:        FeatureResultCache,
		Description: "Cache latest analysis results in Redis",
		Enabled:     true,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false
// Example: FEATURE_SEQUENTIAL_GUARD=false
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "sequential.guard" -> "FEATURE_SEQUENTIAL_GUARD"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}
	return feature.Enabled
}

// SetEnabled updates a feature at runtime. Thread-safe for live updates.
func (ff *FeatureFlags) SetEnabled(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.Enabled = enabled
	return nil
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		// Return a copy
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
