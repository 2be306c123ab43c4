package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, batch *domain.Batch) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO batches (
	id, name, status, pipeline_type, total_files, files_succeeded, files_failed,
	can_rollback, rollback_reason, max_retries_per_file, auto_rollback_on_error,
	pause_on_error, started_at, completed_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		batch.ID, batch.Name, string(batch.Status), batch.PipelineType,
		batch.TotalFiles, batch.FilesSucceeded, batch.FilesFailed,
		batch.CanRollback, batch.RollbackReason,
		batch.Config.MaxRetriesPerFile, batch.Config.AutoRollbackOnError, batch.Config.PauseOnError,
		batch.StartedAt, batch.CompletedAt, batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, name, status, pipeline_type, total_files, files_succeeded, files_failed,
	can_rollback, rollback_reason, max_retries_per_file, auto_rollback_on_error,
	pause_on_error, started_at, completed_at, created_at, updated_at
FROM batches
WHERE id = $1
`, id)

	var batch domain.Batch
	var status string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&batch.ID, &batch.Name, &status, &batch.PipelineType,
		&batch.TotalFiles, &batch.FilesSucceeded, &batch.FilesFailed,
		&batch.CanRollback, &batch.RollbackReason,
		&batch.Config.MaxRetriesPerFile, &batch.Config.AutoRollbackOnError, &batch.Config.PauseOnError,
		&startedAt, &completedAt, &batch.CreatedAt, &batch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBatchNotFound, "get batch", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	batch.Status = domain.BatchStatus(status)
	if startedAt.Valid {
		batch.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		batch.CompletedAt = &completedAt.Time
	}
	return &batch, nil
}

func (r *BatchRepository) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus, reason string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE batches
SET status = $2, rollback_reason = $3, updated_at = $4
WHERE id = $1
`, id, string(status), reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	return nil
}

func (r *BatchRepository) SetStarted(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE batches SET started_at = $2, updated_at = $2 WHERE id = $1
`, id, at)
	if err != nil {
		return fmt.Errorf("set batch started: %w", err)
	}
	return nil
}

func (r *BatchRepository) SetCompleted(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE batches SET completed_at = $2, updated_at = $2 WHERE id = $1
`, id, at)
	if err != nil {
		return fmt.Errorf("set batch completed: %w", err)
	}
	return nil
}

func (r *BatchRepository) SetTotalFiles(ctx context.Context, id string, total int) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE batches SET total_files = $2, updated_at = $3 WHERE id = $1
`, id, total, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set batch total files: %w", err)
	}
	return nil
}

// IncrementOutcome bumps the succeeded or failed counter in one statement
// so status readers never observe torn counts.
func (r *BatchRepository) IncrementOutcome(ctx context.Context, id string, succeeded bool) error {
	query := `UPDATE batches SET files_failed = files_failed + 1, updated_at = $2 WHERE id = $1`
	if succeeded {
		query = `UPDATE batches SET files_succeeded = files_succeeded + 1, updated_at = $2 WHERE id = $1`
	}
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("increment batch outcome: %w", err)
	}
	return nil
}

// DecrementFailed withdraws one failed outcome when a document is rewound
// for retry, clamped so the counter never goes negative.
func (r *BatchRepository) DecrementFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE batches SET files_failed = GREATEST(files_failed - 1, 0), updated_at = $2 WHERE id = $1
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("decrement batch failed counter: %w", err)
	}
	return nil
}

func (r *BatchRepository) ResetCounters(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE batches SET files_succeeded = 0, files_failed = 0, updated_at = $2 WHERE id = $1
`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset batch counters: %w", err)
	}
	return nil
}

func (r *BatchRepository) SetCanRollback(ctx context.Context, id string, can bool) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE batches SET can_rollback = $2, updated_at = $3 WHERE id = $1
`, id, can, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set batch can_rollback: %w", err)
	}
	return nil
}
