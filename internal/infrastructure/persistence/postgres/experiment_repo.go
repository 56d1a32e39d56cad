package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/exp-hub/experiment-engine/internal/domain/experiment"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// ExperimentRepository implements experiment.Repository and
// experiment.ExposureReader using PostgreSQL.
type ExperimentRepository struct {
	conn *Connection
}

// NewExperimentRepository creates a new experiment repository.
func NewExperimentRepository(conn *Connection) *ExperimentRepository {
	return &ExperimentRepository{conn: conn}
}

// Create stores a new experiment definition together with its variants and
// metrics. The whole registration commits or rolls back as one unit.
func (r *ExperimentRepository) Create(ctx context.Context, exp *experiment.Experiment) error {
	const insertExperiment = `
		INSERT INTO experiments (
			id, start_at, end_at, traffic_fraction, randomization_unit,
			salt, switchback_window_ms, alpha, power,
			planned_sample_per_arm, planned_peeks, adaptive, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	const insertVariant = `
		INSERT INTO experiment_variants (experiment_id, label, weight, is_control, position)
		VALUES ($1, $2, $3, $4, $5)
	`

	const insertMetric = `
		INSERT INTO experiment_metrics (experiment_id, name, metric_type, is_primary, max_regression)
		VALUES ($1, $2, $3, $4, $5)
	`

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertExperiment,
			exp.ID,
			nullableTime(exp.StartAt),
			nullableTime(exp.EndAt),
			exp.TrafficFraction,
			string(exp.Unit),
			exp.Salt,
			exp.SwitchbackWindow.Milliseconds(),
			exp.Alpha,
			exp.Power,
			exp.PlannedSamplePerArm,
			exp.PlannedPeeks,
			exp.Adaptive,
			string(exp.Status),
			exp.CreatedAt,
			exp.UpdatedAt,
		)
		if err != nil {
			return err
		}

		for i, v := range exp.Variants {
			if _, err := tx.Exec(ctx, insertVariant, exp.ID, v.Label, v.Weight, v.IsControl, i); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, insertMetric,
			exp.ID, exp.PrimaryMetric.Name, string(exp.PrimaryMetric.Type), true, exp.PrimaryMetric.MaxRegression,
		); err != nil {
			return err
		}

		for _, g := range exp.Guardrails {
			if _, err := tx.Exec(ctx, insertMetric, exp.ID, g.Name, string(g.Type), false, g.MaxRegression); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("experiment", "Create", shared.ErrAlreadyExists,
				fmt.Sprintf("experiment %s is already registered", exp.ID))
		}
		return shared.WrapError("experiment", "Create", shared.ErrExternalService, "failed to store experiment", err)
	}

	return nil
}

// GetByID returns an experiment by id, with variants and metrics loaded.
func (r *ExperimentRepository) GetByID(ctx context.Context, id string) (*experiment.Experiment, error) {
	const query = `
		SELECT id, start_at, end_at, traffic_fraction, randomization_unit,
		       salt, switchback_window_ms, alpha, power,
		       planned_sample_per_arm, planned_peeks, adaptive, status,
		       created_at, updated_at
		FROM experiments
		WHERE id = $1
	`

	exp, err := scanExperiment(r.conn.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("experiment", "GetByID", shared.ErrNotFound,
				fmt.Sprintf("experiment %s not found", id))
		}
		return nil, shared.WrapError("experiment", "GetByID", shared.ErrExternalService, "failed to load experiment", err)
	}

	if err := r.loadChildren(ctx, exp); err != nil {
		return nil, err
	}

	return exp, nil
}

// ListByStatus returns experiments in the given lifecycle state.
func (r *ExperimentRepository) ListByStatus(ctx context.Context, status experiment.Status) ([]*experiment.Experiment, error) {
	const query = `
		SELECT id, start_at, end_at, traffic_fraction, randomization_unit,
		       salt, switchback_window_ms, alpha, power,
		       planned_sample_per_arm, planned_peeks, adaptive, status,
		       created_at, updated_at
		FROM experiments
		WHERE status = $1
		ORDER BY created_at
	`

	rows, err := r.conn.Query(ctx, query, string(status))
	if err != nil {
		return nil, shared.WrapError("experiment", "ListByStatus", shared.ErrExternalService, "failed to list experiments", err)
	}
	defer rows.Close()

	var experiments []*experiment.Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, shared.WrapError("experiment", "ListByStatus", shared.ErrExternalService, "failed to scan experiment row", err)
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.WrapError("experiment", "ListByStatus", shared.ErrExternalService, "row iteration failed", err)
	}

	for _, exp := range experiments {
		if err := r.loadChildren(ctx, exp); err != nil {
			return nil, err
		}
	}

	return experiments, nil
}

// UpdateStatus persists a lifecycle transition.
func (r *ExperimentRepository) UpdateStatus(ctx context.Context, id string, status experiment.Status) error {
	const query = `
		UPDATE experiments
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.conn.Exec(ctx, query, id, string(status))
	if err != nil {
		return shared.WrapError("experiment", "UpdateStatus", shared.ErrExternalService, "failed to update status", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("experiment", "UpdateStatus", shared.ErrNotFound,
			fmt.Sprintf("experiment %s not found", id))
	}

	return nil
}

// RecordExposure upserts a subject's assignment. Assignment is deterministic,
// so replays land on the same variant and the upsert is a no-op.
func (r *ExperimentRepository) RecordExposure(ctx context.Context, experimentID, subjectID, variantLabel string) error {
	const query = `
		INSERT INTO exposures (experiment_id, subject_id, variant_label)
		VALUES ($1, $2, $3)
		ON CONFLICT (experiment_id, subject_id) DO NOTHING
	`

	_, err := r.conn.Exec(ctx, query, experimentID, subjectID, variantLabel)
	if err != nil {
		return shared.WrapError("experiment", "RecordExposure", shared.ErrExternalService, "failed to record exposure", err)
	}
	return nil
}

// AssignmentCounts returns observed exposure counts per variant.
func (r *ExperimentRepository) AssignmentCounts(ctx context.Context, experimentID string) (experiment.AssignmentCounts, error) {
	const query = `
		SELECT variant_label, COUNT(*)
		FROM exposures
		WHERE experiment_id = $1
		GROUP BY variant_label
	`

	rows, err := r.conn.Query(ctx, query, experimentID)
	if err != nil {
		return nil, shared.WrapError("experiment", "AssignmentCounts", shared.ErrExternalService, "failed to count exposures", err)
	}
	defer rows.Close()

	counts := make(experiment.AssignmentCounts)
	for rows.Next() {
		var label string
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return nil, shared.WrapError("experiment", "AssignmentCounts", shared.ErrExternalService, "failed to scan count row", err)
		}
		counts[label] = n
	}

	return counts, rows.Err()
}

// loadChildren populates variants and metrics for an experiment.
func (r *ExperimentRepository) loadChildren(ctx context.Context, exp *experiment.Experiment) error {
	const variantQuery = `
		SELECT label, weight, is_control
		FROM experiment_variants
		WHERE experiment_id = $1
		ORDER BY position
	`

	rows, err := r.conn.Query(ctx, variantQuery, exp.ID)
	if err != nil {
		return shared.WrapError("experiment", "GetByID", shared.ErrExternalService, "failed to load variants", err)
	}

	exp.Variants = exp.Variants[:0]
	for rows.Next() {
		var v experiment.Variant
		if err := rows.Scan(&v.Label, &v.Weight, &v.IsControl); err != nil {
			rows.Close()
			return shared.WrapError("experiment", "GetByID", shared.ErrExternalService, "failed to scan variant row", err)
		}
		exp.Variants = append(exp.Variants, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return shared.WrapError("experiment", "GetByID", shared.ErrExternalService, "variant iteration failed", err)
	}

	const metricQuery = `
		SELECT name, metric_type, is_primary, max_regression
		FROM experiment_metrics
		WHERE experiment_id = $1
		ORDER BY is_primary DESC, name
	`

	rows, err = r.conn.Query(ctx, metricQuery, exp.ID)
	if err != nil {
		return shared.WrapError("experiment", "GetByID", shared.ErrExternalService, "failed to load metrics", err)
	}
	defer rows.Close()

	exp.Guardrails = exp.Guardrails[:0]
	for rows.Next() {
		var (
			m         experiment.Metric
			mt        string
			isPrimary bool
		)
		if err := rows.Scan(&m.Name, &mt, &isPrimary, &m.MaxRegression); err != nil {
			return shared.WrapError("experiment", "GetByID", shared.ErrExternalService, "failed to scan metric row", err)
		}
		m.Type = experiment.MetricType(mt)
		if isPrimary {
			exp.PrimaryMetric = m
		} else {
			exp.Guardrails = append(exp.Guardrails, m)
		}
	}

	return rows.Err()
}

// scanExperiment scans an experiment row from either QueryRow or Query rows.
func scanExperiment(row pgx.Row) (*experiment.Experiment, error) {
	var (
		exp          experiment.Experiment
		startAt      *time.Time
		endAt        *time.Time
		unit         string
		switchbackMS int64
		status       string
	)

	err := row.Scan(
		&exp.ID,
		&startAt,
		&endAt,
		&exp.TrafficFraction,
		&unit,
		&exp.Salt,
		&switchbackMS,
		&exp.Alpha,
		&exp.Power,
		&exp.PlannedSamplePerArm,
		&exp.PlannedPeeks,
		&exp.Adaptive,
		&status,
		&exp.CreatedAt,
		&exp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startAt != nil {
		exp.StartAt = *startAt
	}
	if endAt != nil {
		exp.EndAt = *endAt
	}
	exp.Unit = experiment.RandomizationUnit(unit)
	exp.SwitchbackWindow = time.Duration(switchbackMS) * time.Millisecond
	exp.Status = experiment.Status(status)

	return &exp, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
