package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: EXPERIMENT REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Experiment registry: one row per experiment, variants and metrics normalized
-- into child tables so weight and guardrail changes stay auditable.

CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    start_at TIMESTAMP WITH TIME ZONE,
    end_at TIMESTAMP WITH TIME ZONE,
    traffic_fraction DOUBLE PRECISION NOT NULL DEFAULT 1.0
        CHECK (traffic_fraction > 0 AND traffic_fraction <= 1),
    randomization_unit TEXT NOT NULL DEFAULT 'subject'
        CHECK (randomization_unit IN ('subject', 'cluster', 'time-window')),
    salt TEXT NOT NULL DEFAULT '',
    switchback_window_ms BIGINT NOT NULL DEFAULT 0
        CHECK (switchback_window_ms >= 0),
    alpha DOUBLE PRECISION NOT NULL DEFAULT 0.05
        CHECK (alpha > 0 AND alpha < 1),
    power DOUBLE PRECISION NOT NULL DEFAULT 0.80
        CHECK (power > 0 AND power < 1),
    planned_sample_per_arm BIGINT NOT NULL DEFAULT 0
        CHECK (planned_sample_per_arm >= 0),
    planned_peeks INTEGER NOT NULL DEFAULT 0
        CHECK (planned_peeks >= 0),
    adaptive BOOLEAN NOT NULL DEFAULT FALSE,
    status TEXT NOT NULL DEFAULT 'draft'
        CHECK (status IN ('draft', 'running', 'completed', 'aborted')),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_experiments_status
    ON experiments(status)
    WHERE status = 'running';

CREATE TABLE IF NOT EXISTS experiment_variants (
    experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    label TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL
        CHECK (weight >= 0 AND weight <= 1),
    is_control BOOLEAN NOT NULL DEFAULT FALSE,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (experiment_id, label)
);

-- At most one control per experiment.
CREATE UNIQUE INDEX IF NOT EXISTS idx_variants_one_control
    ON experiment_variants(experiment_id)
    WHERE is_control = TRUE;

CREATE TABLE IF NOT EXISTS experiment_metrics (
    experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    metric_type TEXT NOT NULL
        CHECK (metric_type IN ('proportion', 'continuous', 'count')),
    is_primary BOOLEAN NOT NULL DEFAULT FALSE,
    max_regression DOUBLE PRECISION NOT NULL DEFAULT 0
        CHECK (max_regression >= 0),
    PRIMARY KEY (experiment_id, name)
);

-- Exactly one primary metric per experiment is enforced at the domain layer;
-- the partial index keeps the storage honest.
CREATE UNIQUE INDEX IF NOT EXISTS idx_metrics_one_primary
    ON experiment_metrics(experiment_id)
    WHERE is_primary = TRUE;
`

const migration001Down = `
DROP TABLE IF EXISTS experiment_metrics;
DROP TABLE IF EXISTS experiment_variants;
DROP TABLE IF EXISTS experiments;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: OBSERVATIONS AND EXPOSURES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Exposures record which variant each subject was assigned. One row per
-- subject per experiment; the assignment is deterministic so re-inserts
-- are idempotent upserts.

CREATE TABLE IF NOT EXISTS exposures (
    experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    subject_id TEXT NOT NULL,
    variant_label TEXT NOT NULL,
    assigned_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (experiment_id, subject_id)
);

CREATE INDEX IF NOT EXISTS idx_exposures_variant
    ON exposures(experiment_id, variant_label);

-- Observations hold raw metric values. The unique index is the storage-level
-- guarantee behind deduplication: a subject contributes at most one row per
-- metric per experiment.

CREATE TABLE IF NOT EXISTS observations (
    id BIGSERIAL PRIMARY KEY,
    experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    subject_id TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    variant_label TEXT NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    observed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    CONSTRAINT uq_observation_subject_metric
        UNIQUE (experiment_id, subject_id, metric_name)
);

CREATE INDEX IF NOT EXISTS idx_observations_metric_variant
    ON observations(experiment_id, metric_name, variant_label);
`

const migration002Down = `
DROP TABLE IF EXISTS observations;
DROP TABLE IF EXISTS exposures;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: ANALYSIS RESULTS (APPEND-ONLY)
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Analysis results are append-only: every run gets a fresh row keyed by the
-- run UUID. Peek history stays queryable forever; there are no updates.

CREATE TABLE IF NOT EXISTS analysis_results (
    run_id UUID PRIMARY KEY,
    experiment_id TEXT NOT NULL REFERENCES experiments(id) ON DELETE CASCADE,
    metric_name TEXT NOT NULL,
    peek_index INTEGER NOT NULL DEFAULT 0
        CHECK (peek_index >= 0),
    alpha_used DOUBLE PRECISION NOT NULL,
    p_value DOUBLE PRECISION NOT NULL,
    adjusted_p_value DOUBLE PRECISION NOT NULL,
    significant BOOLEAN NOT NULL,
    recommendation TEXT NOT NULL
        CHECK (recommendation IN ('ship', 'no-detected-effect', 'continue', 'indeterminate')),
    result JSONB NOT NULL,
    analyzed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_results_experiment_time
    ON analysis_results(experiment_id, analyzed_at DESC);

CREATE INDEX IF NOT EXISTS idx_results_experiment_peek
    ON analysis_results(experiment_id, peek_index);
`

const migration003Down = `
DROP TABLE IF EXISTS analysis_results;
`
