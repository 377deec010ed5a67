package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/mediadash/orchestrator/internal/orchestrator/domain"
)

const jobColumns = `job_id, owner_id, kind, input_ref, status, remote_handle,
	progress, result_ref, error_kind, error_message,
	retry_count, max_retries, created_at, updated_at, completed_at`

// PostgresStore implements Store on a jobs table.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, owner_id, kind, input_ref, status,
			retry_count, max_retries, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.OwnerID,
		job.Kind,
		job.InputRef,
		job.Status,
		job.RetryCount,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE job_id = $1`, jobColumns)

	err := s.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status, ownerID string, limit int) ([]domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE status = $1`, jobColumns)
	args := []interface{}{status}
	argIdx := 2

	if ownerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, ownerID)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY updated_at ASC LIMIT $%d", argIdx)
	args = append(args, limit)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}

	return jobs, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE 1=1`, jobColumns)
	args := []interface{}{}
	argIdx := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// Transition performs the optimistic status update. The WHERE clause pins
// the prior status (and optionally retry_count), so whichever actor
// commits first wins and the loser gets ErrConflict.
func (s *PostgresStore) Transition(ctx context.Context, id, fromStatus string, patch Patch) (*domain.Job, error) {
	if !domain.CanTransition(fromStatus, patch.Status) {
		return nil, fmt.Errorf("transition %s -> %s not allowed: %w", fromStatus, patch.Status, domain.ErrConflict)
	}

	sets := []string{"status = $1", "updated_at = NOW()"}
	args := []interface{}{patch.Status}
	argIdx := 2

	addSet := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if patch.RemoteHandle != nil {
		addSet("remote_handle", *patch.RemoteHandle)
	}
	if patch.Progress != nil {
		addSet("progress", *patch.Progress)
	}
	if patch.ResultRef != nil {
		addSet("result_ref", *patch.ResultRef)
	}
	if patch.ErrorKind != nil {
		addSet("error_kind", *patch.ErrorKind)
	}
	if patch.ErrorMessage != nil {
		addSet("error_message", *patch.ErrorMessage)
	}
	if patch.RetryCount != nil {
		addSet("retry_count", *patch.RetryCount)
	}
	if patch.MarkCompleted {
		sets = append(sets, "completed_at = NOW()")
	}

	where := fmt.Sprintf("job_id = $%d AND status = $%d", argIdx, argIdx+1)
	args = append(args, id, fromStatus)
	argIdx += 2

	if patch.ExpectedRetryCount != nil {
		where += fmt.Sprintf(" AND retry_count = $%d", argIdx)
		args = append(args, *patch.ExpectedRetryCount)
		argIdx++
	}

	query := fmt.Sprintf(
		"UPDATE jobs SET %s WHERE %s RETURNING %s",
		strings.Join(sets, ", "), where, jobColumns,
	)

	var job domain.Job
	err := s.db.QueryRowxContext(ctx, query, args...).StructScan(&job)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a lost race from a missing job.
			if _, getErr := s.Get(ctx, id); errors.Is(getErr, domain.ErrJobNotFound) {
				return nil, domain.ErrJobNotFound
			}
			s.logger.Warn("Job transition lost optimistic race",
				slog.String("job_id", id),
				slog.String("from_status", fromStatus),
				slog.String("to_status", patch.Status),
			)
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", id),
		slog.String("from_status", fromStatus),
		slog.String("status", job.Status),
	)

	return &job, nil
}
