package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomredd/flasharb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, opportunity_id, start_token, path_count, hops, status, fail_reason,
	flash_loan, target_block, included_block, gas_used,
	expected_profit, realized_profit, started_at, completed_at`

// Create inserts one terminal execution record.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.OpportunityID, rec.StartToken, rec.PathCount, rec.Hops,
		string(rec.Status), rec.FailReason,
		rec.FlashLoan, rec.TargetBlock, rec.IncludedBlock, rec.GasUsed,
		rec.ExpectedProfit, rec.RealizedProfit, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}
	return nil
}

// GetByID returns one execution record.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	rec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ExecutionRecord{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}
	return rec, nil
}

// ListBefore returns up to limit records started strictly before the given
// time, oldest first. Used by the archiver to page through history.
func (s *ExecutionStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM executions WHERE started_at < $1
		ORDER BY started_at ASC LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var list []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// DeleteBefore removes records started strictly before the given time and
// returns the number deleted.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE started_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanExecution reads one record from a row; works for both QueryRow and
// rows.Next cursors.
func scanExecution(row pgx.Row) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var status string
	err := row.Scan(
		&rec.ID, &rec.OpportunityID, &rec.StartToken, &rec.PathCount, &rec.Hops,
		&status, &rec.FailReason,
		&rec.FlashLoan, &rec.TargetBlock, &rec.IncludedBlock, &rec.GasUsed,
		&rec.ExpectedProfit, &rec.RealizedProfit, &rec.StartedAt, &rec.CompletedAt,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Status = domain.OpportunityState(status)
	return rec, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
