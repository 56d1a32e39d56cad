package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// ResultRepository is the append-only audit log of analysis runs. Rows are
// never updated or deleted; every run, including interim peeks, gets its own
// row keyed by the run UUID.
type ResultRepository struct {
	conn *Connection
}

// NewResultRepository creates a new result repository.
func NewResultRepository(conn *Connection) *ResultRepository {
	return &ResultRepository{conn: conn}
}

// Append stores one completed analysis run.
func (r *ResultRepository) Append(ctx context.Context, result *analysis.Result) error {
	const query = `
		INSERT INTO analysis_results (
			run_id, experiment_id, metric_name, peek_index, alpha_used,
			p_value, adjusted_p_value, significant, recommendation,
			result, analyzed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	payload, err := json.Marshal(result)
	if err != nil {
		return shared.WrapError("analysis", "Append", shared.ErrExternalService, "failed to encode result", err)
	}

	_, err = r.conn.Exec(ctx, query,
		result.RunID,
		result.ExperimentID,
		result.MetricName,
		result.PeekIndex,
		result.AlphaUsed,
		result.PValue,
		result.AdjustedPValue,
		result.Significant,
		string(result.Recommendation),
		payload,
		result.AnalyzedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("analysis", "Append", shared.ErrAlreadyExists,
				fmt.Sprintf("run %s is already recorded", result.RunID))
		}
		return shared.WrapError("analysis", "Append", shared.ErrExternalService, "failed to store analysis result", err)
	}

	return nil
}

// Latest returns the most recent analysis result for an experiment.
func (r *ResultRepository) Latest(ctx context.Context, experimentID string) (*analysis.Result, error) {
	const query = `
		SELECT result
		FROM analysis_results
		WHERE experiment_id = $1
		ORDER BY analyzed_at DESC
		LIMIT 1
	`

	var payload []byte
	if err := r.conn.QueryRow(ctx, query, experimentID).Scan(&payload); err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("analysis", "Latest", shared.ErrNotFound,
				fmt.Sprintf("no analysis results for experiment %s", experimentID))
		}
		return nil, shared.WrapError("analysis", "Latest", shared.ErrExternalService, "failed to load latest result", err)
	}

	var result analysis.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, shared.WrapError("analysis", "Latest", shared.ErrExternalService, "failed to decode stored result", err)
	}

	return &result, nil
}

// GetByRunID returns one analysis run by its UUID.
func (r *ResultRepository) GetByRunID(ctx context.Context, runID string) (*analysis.Result, error) {
	const query = `
		SELECT result
		FROM analysis_results
		WHERE run_id = $1
	`

	var payload []byte
	if err := r.conn.QueryRow(ctx, query, runID).Scan(&payload); err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("analysis", "GetByRunID", shared.ErrNotFound,
				fmt.Sprintf("analysis run %s not found", runID))
		}
		return nil, shared.WrapError("analysis", "GetByRunID", shared.ErrExternalService, "failed to load result", err)
	}

	var result analysis.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, shared.WrapError("analysis", "GetByRunID", shared.ErrExternalService, "failed to decode stored result", err)
	}

	return &result, nil
}

// History returns all runs for an experiment in peek order, oldest first.
func (r *ResultRepository) History(ctx context.Context, experimentID string) ([]*analysis.Result, error) {
	const query = `
		SELECT result
		FROM analysis_results
		WHERE experiment_id = $1
		ORDER BY analyzed_at
	`

	rows, err := r.conn.Query(ctx, query, experimentID)
	if err != nil {
		return nil, shared.WrapError("analysis", "History", shared.ErrExternalService, "failed to load result history", err)
	}
	defer rows.Close()

	var results []*analysis.Result
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, shared.WrapError("analysis", "History", shared.ErrExternalService, "failed to scan result row", err)
		}

		var result analysis.Result
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, shared.WrapError("analysis", "History", shared.ErrExternalService, "failed to decode stored result", err)
		}
		results = append(results, &result)
	}

	return results, rows.Err()
}
