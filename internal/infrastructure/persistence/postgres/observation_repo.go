package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// ObservationRepository stores raw metric observations. The unique index on
// (experiment_id, subject_id, metric_name) backs deduplication at the storage
// level; the integrity checker handles in-batch duplicates before insert.
type ObservationRepository struct {
	conn *Connection
}

// NewObservationRepository creates a new observation repository.
func NewObservationRepository(conn *Connection) *ObservationRepository {
	return &ObservationRepository{conn: conn}
}

// InsertBatch stores a batch of observations atomically and returns the number
// of rows actually inserted. Rows whose (subject, metric) key already exists
// are skipped, so replayed batches are idempotent.
func (r *ObservationRepository) InsertBatch(ctx context.Context, experimentID string, obs []analysis.Observation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	const query = `
		INSERT INTO observations (experiment_id, subject_id, metric_name, variant_label, value, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT uq_observation_subject_metric DO NOTHING
	`

	var inserted int64
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, o := range obs {
			batch.Queue(query, experimentID, o.SubjectID, o.MetricName, o.VariantLabel, o.Value, o.ObservedAt)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range obs {
			tag, err := results.Exec()
			if err != nil {
				return err
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, shared.WrapError("analysis", "InsertBatch", shared.ErrExternalService, "failed to store observations", err)
	}

	return inserted, nil
}

// InsertStrict stores a batch and fails with shared.ErrDuplicateObservation if
// any row collides with an existing (subject, metric) key. Nothing is written
// on failure.
func (r *ObservationRepository) InsertStrict(ctx context.Context, experimentID string, obs []analysis.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	const query = `
		INSERT INTO observations (experiment_id, subject_id, metric_name, variant_label, value, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, o := range obs {
			batch.Queue(query, experimentID, o.SubjectID, o.MetricName, o.VariantLabel, o.Value, o.ObservedAt)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range obs {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("analysis", "InsertStrict", shared.ErrDuplicateObservation,
				fmt.Sprintf("batch for experiment %s contains already-recorded observations", experimentID))
		}
		return shared.WrapError("analysis", "InsertStrict", shared.ErrExternalService, "failed to store observations", err)
	}

	return nil
}

// ByMetric returns all observations for one metric, grouped by variant label.
func (r *ObservationRepository) ByMetric(ctx context.Context, experimentID, metricName string) (map[string][]analysis.Observation, error) {
	const query = `
		SELECT subject_id, metric_name, variant_label, value, observed_at
		FROM observations
		WHERE experiment_id = $1 AND metric_name = $2
		ORDER BY observed_at, id
	`

	rows, err := r.conn.Query(ctx, query, experimentID, metricName)
	if err != nil {
		return nil, shared.WrapError("analysis", "ByMetric", shared.ErrExternalService, "failed to load observations", err)
	}
	defer rows.Close()

	grouped := make(map[string][]analysis.Observation)
	for rows.Next() {
		var o analysis.Observation
		if err := rows.Scan(&o.SubjectID, &o.MetricName, &o.VariantLabel, &o.Value, &o.ObservedAt); err != nil {
			return nil, shared.WrapError("analysis", "ByMetric", shared.ErrExternalService, "failed to scan observation row", err)
		}
		grouped[o.VariantLabel] = append(grouped[o.VariantLabel], o)
	}

	return grouped, rows.Err()
}

// CountByMetric returns per-variant observation counts for one metric.
func (r *ObservationRepository) CountByMetric(ctx context.Context, experimentID, metricName string) (map[string]int64, error) {
	const query = `
		SELECT variant_label, COUNT(*)
		FROM observations
		WHERE experiment_id = $1 AND metric_name = $2
		GROUP BY variant_label
	`

	rows, err := r.conn.Query(ctx, query, experimentID, metricName)
	if err != nil {
		return nil, shared.WrapError("analysis", "CountByMetric", shared.ErrExternalService, "failed to count observations", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var label string
		var n int64
		if err := rows.Scan(&label, &n); err != nil {
			return nil, shared.WrapError("analysis", "CountByMetric", shared.ErrExternalService, "failed to scan count row", err)
		}
		counts[label] = n
	}

	return counts, rows.Err()
}
