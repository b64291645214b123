// Package jobpostgres is the postgres-backed state store for jobs and attempts.
// All status transitions are conditional updates keyed on the current status,
// so duplicate webhooks and racing retries can never move a terminal row.
package jobpostgres

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PostgresRepo struct {
	DB *dbpg.DB
}

func (p PostgresRepo) CreateJob(ctx context.Context, j *model.Job) error {
	query := `INSERT INTO jobs (job_uid, owner_ref, created_at)
	VALUES ($1, $2, $3)`
	_, err := p.DB.Master.ExecContext(ctx, query, j.UID, j.OwnerRef, j.CreatedAt)
	return err
}

func (p PostgresRepo) GetJob(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT job_uid, owner_ref, created_at
	FROM jobs
	WHERE job_uid = $1`
	var job model.Job

	err := p.DB.QueryRowContext(ctx, query, id).Scan(&job.UID, &job.OwnerRef, &job.CreatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrJobNotFound
		default:
			return nil, err // 500
		}
	}
	return &job, nil
}

// CreateAttempt inserts a new pending attempt. The unique partial index over
// (job_uid, kind) for non-terminal statuses is the single-in-flight gate:
// a second concurrent submission loses the insert race and gets ErrConflict.
func (p PostgresRepo) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	query := `INSERT INTO attempts (attempt_uid, job_uid, source_uid, kind, backend, status, params, source_key, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := p.DB.Master.ExecContext(ctx, query,
		a.UID, a.JobUID, a.SourceUID, a.Kind, a.Backend, a.Status, a.Params, a.SourceKey, a.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case pgUniqueViolation:
				return model.ErrConflict
			case pgForeignKeyViolation:
				return model.ErrJobNotFound
			}
		}
		return err // 500
	}
	return nil
}

func (p PostgresRepo) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	query := `SELECT attempt_uid, job_uid, source_uid, kind, backend, external_id, status, params, source_key, artifact_key, err_detail, created_at, completed_at
	FROM attempts
	WHERE attempt_uid = $1`
	var a model.Attempt

	err := p.DB.QueryRowContext(ctx, query, id).Scan(&a.UID,
		&a.JobUID,
		&a.SourceUID,
		&a.Kind,
		&a.Backend,
		&a.ExternalID,
		&a.Status,
		&a.Params,
		&a.SourceKey,
		&a.ArtifactKey,
		&a.ErrDetail,
		&a.CreatedAt,
		&a.CompletedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrAttemptNotFound
		default:
			return nil, err // 500
		}
	}
	return &a, nil
}

func (p PostgresRepo) ListJobAttempts(ctx context.Context, jobID string) ([]model.Attempt, error) {
	query := `SELECT attempt_uid, job_uid, source_uid, kind, backend, status, params, err_detail, created_at, completed_at
	FROM attempts
	WHERE job_uid = $1
	ORDER BY created_at ASC`

	rows, err := p.DB.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	attempts := make([]model.Attempt, 0)
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.UID,
			&a.JobUID,
			&a.SourceUID,
			&a.Kind,
			&a.Backend,
			&a.Status,
			&a.Params,
			&a.ErrDetail,
			&a.CreatedAt,
			&a.CompletedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return attempts, nil
}

func (p PostgresRepo) GetSelections(ctx context.Context, jobID string) ([]model.Selection, error) {
	query := `SELECT job_uid, kind, attempt_uid, attempt_created_at, updated_at
	FROM job_results
	WHERE job_uid = $1`

	rows, err := p.DB.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	selections := make([]model.Selection, 0)
	for rows.Next() {
		var s model.Selection
		if err := rows.Scan(&s.JobUID, &s.Kind, &s.AttemptUID, &s.AttemptCreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		selections = append(selections, s)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return selections, nil
}

// MarkProcessing assigns the external correlation id and moves a pending
// attempt to processing. Returns false when the row was not pending anymore.
func (p PostgresRepo) MarkProcessing(ctx context.Context, id string, externalID string) (bool, error) {
	query := `UPDATE attempts
	SET status = $1, external_id = $2
	WHERE attempt_uid = $3 AND status = $4`

	res, err := p.DB.Master.ExecContext(ctx, query, model.StatusProcessing, externalID, id, model.StatusPending)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// CompleteAttempt lands a non-terminal attempt in completed. Zero rows
// affected means the row was already terminal - the caller treats that as
// the idempotent duplicate-delivery path, not an error.
func (p PostgresRepo) CompleteAttempt(ctx context.Context, id string, artifactKey string, params model.Params) (bool, error) {
	query := `UPDATE attempts
	SET status = $1, artifact_key = $2, params = $3, completed_at = now()
	WHERE attempt_uid = $4 AND status IN ($5, $6)`

	res, err := p.DB.Master.ExecContext(ctx, query,
		model.StatusCompleted, artifactKey, params, id, model.StatusPending, model.StatusProcessing)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (p PostgresRepo) FailAttempt(ctx context.Context, id string, detail string) (bool, error) {
	query := `UPDATE attempts
	SET status = $1, err_detail = $2, completed_at = now()
	WHERE attempt_uid = $3 AND status IN ($4, $5)`

	res, err := p.DB.Master.ExecContext(ctx, query,
		model.StatusFailed, detail, id, model.StatusPending, model.StatusProcessing)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// UpdateSelection points the job at its freshest successful attempt of the
// given kind. The WHERE clause on the upsert drops late completions of
// superseded attempts instead of letting them win.
func (p PostgresRepo) UpdateSelection(ctx context.Context, jobID uuid.UUID, kind model.Kind, attemptID uuid.UUID, attemptCreatedAt time.Time) error {
	query := `INSERT INTO job_results (job_uid, kind, attempt_uid, attempt_created_at, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (job_uid, kind) DO UPDATE
	SET attempt_uid = EXCLUDED.attempt_uid, attempt_created_at = EXCLUDED.attempt_created_at, updated_at = now()
	WHERE job_results.attempt_created_at <= EXCLUDED.attempt_created_at`

	_, err := p.DB.Master.ExecContext(ctx, query, jobID, kind, attemptID, attemptCreatedAt)
	return err
}

func (p PostgresRepo) ExpiredAttempts(ctx context.Context, kind model.Kind, cutoff time.Time, limit int) ([]model.Attempt, error) {
	query := `SELECT attempt_uid, job_uid, kind, artifact_key, completed_at
	FROM attempts
	WHERE kind = $1
	AND status = $2
	AND completed_at <= $3
	ORDER BY completed_at ASC
	LIMIT $4`

	rows, err := p.DB.QueryContext(ctx, query, kind, model.StatusCompleted, cutoff, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	expired := make([]model.Attempt, 0, limit)
	for rows.Next() {
		var a model.Attempt
		if err := rows.Scan(&a.UID, &a.JobUID, &a.Kind, &a.ArtifactKey, &a.CompletedAt); err != nil {
			return nil, err
		}
		expired = append(expired, a)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return expired, nil
}

func (p PostgresRepo) DeleteAttempt(ctx context.Context, id string) error {
	query := `DELETE FROM attempts
	WHERE attempt_uid = $1`

	res, err := p.DB.Master.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrAttemptNotFound // 404
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
