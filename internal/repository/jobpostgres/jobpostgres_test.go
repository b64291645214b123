package jobpostgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/dbpg"
)

func newRepoWithMock(t *testing.T) (PostgresRepo, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	pg := &dbpg.DB{Master: db}

	repo := PostgresRepo{DB: pg}

	return repo, mock
}

// CREATEJOB - SUCCESS
func TestPostgresRepo_CreateJob_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	job := &model.Job{
		UID:       uuid.New(),
		OwnerRef:  "user-42",
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(job.UID, job.OwnerRef, job.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateJob(context.Background(), job)
	require.NoError(t, err)
}

// GETJOB - SUCCESS
func TestPostgresRepo_GetJob_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	id := uuid.New().String()

	rows := sqlmock.NewRows([]string{"job_uid", "owner_ref", "created_at"}).
		AddRow(id, "user-42", time.Now())

	mock.ExpectQuery(`SELECT job_uid`).
		WithArgs(id).
		WillReturnRows(rows)

	job, err := repo.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, job.UID.String())
}

// GETJOB - NOT FOUND
func TestPostgresRepo_GetJob_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT job_uid`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetJob(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, model.ErrJobNotFound)
}

// CREATEATTEMPT - SUCCESS
func TestPostgresRepo_CreateAttempt_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	a := &model.Attempt{
		UID:       uuid.New(),
		JobUID:    uuid.New(),
		Kind:      model.KindRestore,
		Backend:   model.BackendLocal,
		Status:    model.StatusPending,
		SourceKey: "sources/x/y.jpg",
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO attempts`).
		WithArgs(a.UID, a.JobUID, a.SourceUID, a.Kind, a.Backend, a.Status, a.Params, a.SourceKey, a.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateAttempt(context.Background(), a)
	require.NoError(t, err)
}

// CREATEATTEMPT - IN-FLIGHT DUPLICATE
func TestPostgresRepo_CreateAttempt_Conflict(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO attempts`).
		WillReturnError(&pq.Error{Code: pgUniqueViolation})

	err := repo.CreateAttempt(context.Background(), &model.Attempt{UID: uuid.New()})
	require.ErrorIs(t, err, model.ErrConflict)
}

// CREATEATTEMPT - UNKNOWN JOB
func TestPostgresRepo_CreateAttempt_UnknownJob(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT INTO attempts`).
		WillReturnError(&pq.Error{Code: pgForeignKeyViolation})

	err := repo.CreateAttempt(context.Background(), &model.Attempt{UID: uuid.New()})
	require.ErrorIs(t, err, model.ErrJobNotFound)
}

// GETATTEMPT - SUCCESS
func TestPostgresRepo_GetAttempt_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	id := uuid.New().String()
	jobID := uuid.New().String()

	rows := sqlmock.NewRows([]string{
		"attempt_uid", "job_uid", "source_uid", "kind", "backend",
		"external_id", "status", "params", "source_key", "artifact_key",
		"err_detail", "created_at", "completed_at",
	}).AddRow(
		id, jobID, nil, model.KindColorize, model.BackendHosted,
		nil, model.StatusProcessing, []byte(`{"strength":0.8}`), "sources/a.jpg", "",
		nil, time.Now(), nil,
	)

	mock.ExpectQuery(`SELECT attempt_uid`).
		WithArgs(id).
		WillReturnRows(rows)

	a, err := repo.GetAttempt(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, a.UID.String())
	require.Equal(t, model.StatusProcessing, a.Status)
	require.Equal(t, 0.8, a.Params["strength"])
}

// GETATTEMPT - NOT FOUND
func TestPostgresRepo_GetAttempt_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT attempt_uid`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetAttempt(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, model.ErrAttemptNotFound)
}

// LISTJOBATTEMPTS - SUCCESS
func TestPostgresRepo_ListJobAttempts_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	jobID := uuid.New().String()

	rows := sqlmock.NewRows([]string{
		"attempt_uid", "job_uid", "source_uid", "kind", "backend",
		"status", "params", "err_detail", "created_at", "completed_at",
	}).
		AddRow(uuid.New(), jobID, nil, model.KindRestore, model.BackendLocal, model.StatusCompleted, []byte(`{}`), nil, time.Now(), time.Now()).
		AddRow(uuid.New(), jobID, nil, model.KindAnimate, model.BackendGPU, model.StatusFailed, []byte(`{}`), "backend down", time.Now(), time.Now())

	mock.ExpectQuery(`SELECT attempt_uid`).
		WithArgs(jobID).
		WillReturnRows(rows)

	res, err := repo.ListJobAttempts(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, res, 2)
}

// GETSELECTIONS - SUCCESS
func TestPostgresRepo_GetSelections_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	jobID := uuid.New().String()

	rows := sqlmock.NewRows([]string{"job_uid", "kind", "attempt_uid", "attempt_created_at", "updated_at"}).
		AddRow(jobID, model.KindRestore, uuid.New(), time.Now(), time.Now())

	mock.ExpectQuery(`SELECT job_uid, kind`).
		WithArgs(jobID).
		WillReturnRows(rows)

	res, err := repo.GetSelections(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, model.KindRestore, res[0].Kind)
}

// MARKPROCESSING - SUCCESS
func TestPostgresRepo_MarkProcessing_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	id := uuid.New().String()

	mock.ExpectExec(`UPDATE attempts`).
		WithArgs(model.StatusProcessing, "ext-123", id, model.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkProcessing(context.Background(), id, "ext-123")
	require.NoError(t, err)
	require.True(t, ok)
}

// MARKPROCESSING - ALREADY LEFT PENDING
func TestPostgresRepo_MarkProcessing_NotPending(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE attempts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.MarkProcessing(context.Background(), uuid.New().String(), "ext-123")
	require.NoError(t, err)
	require.False(t, ok)
}

// COMPLETEATTEMPT - SUCCESS
func TestPostgresRepo_CompleteAttempt_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	id := uuid.New().String()
	params := model.Params{"metrics": map[string]any{"ms": 120}}

	mock.ExpectExec(`UPDATE attempts`).
		WithArgs(model.StatusCompleted, "results/j/a.jpg", params, id, model.StatusPending, model.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.CompleteAttempt(context.Background(), id, "results/j/a.jpg", params)
	require.NoError(t, err)
	require.True(t, ok)
}

// COMPLETEATTEMPT - TERMINAL ROW STAYS PUT
func TestPostgresRepo_CompleteAttempt_AlreadyTerminal(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE attempts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.CompleteAttempt(context.Background(), uuid.New().String(), "results/j/a.jpg", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

// FAILATTEMPT - SUCCESS
func TestPostgresRepo_FailAttempt_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	id := uuid.New().String()

	mock.ExpectExec(`UPDATE attempts`).
		WithArgs(model.StatusFailed, "backend down", id, model.StatusPending, model.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.FailAttempt(context.Background(), id, "backend down")
	require.NoError(t, err)
	require.True(t, ok)
}

// UPDATESELECTION - SUCCESS
func TestPostgresRepo_UpdateSelection_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	jobID := uuid.New()
	attemptID := uuid.New()
	createdAt := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO job_results`).
		WithArgs(jobID, model.KindColorize, attemptID, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateSelection(context.Background(), jobID, model.KindColorize, attemptID, createdAt)
	require.NoError(t, err)
}

// EXPIREDATTEMPTS - SUCCESS
func TestPostgresRepo_ExpiredAttempts_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	rows := sqlmock.NewRows([]string{"attempt_uid", "job_uid", "kind", "artifact_key", "completed_at"}).
		AddRow(uuid.New(), uuid.New(), model.KindRestore, "results/j/a.jpg", time.Now().Add(-31*24*time.Hour)).
		AddRow(uuid.New(), uuid.New(), model.KindRestore, "results/j/b.jpg", time.Now().Add(-40*24*time.Hour))

	mock.ExpectQuery(`SELECT attempt_uid`).
		WithArgs(model.KindRestore, model.StatusCompleted, cutoff, 100).
		WillReturnRows(rows)

	res, err := repo.ExpiredAttempts(context.Background(), model.KindRestore, cutoff, 100)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "results/j/a.jpg", res[0].ArtifactKey)
}

// DELETEATTEMPT - SUCCESS
func TestPostgresRepo_DeleteAttempt_OK(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM attempts`).
		WithArgs("id").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteAttempt(context.Background(), "id")
	require.NoError(t, err)
}

// DELETEATTEMPT - NOT FOUND
func TestPostgresRepo_DeleteAttempt_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM attempts`).
		WithArgs("id").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteAttempt(context.Background(), "id")
	require.ErrorIs(t, err, model.ErrAttemptNotFound)
}

// DELETEATTEMPT - DBERROR
func TestPostgresRepo_DeleteAttempt_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE FROM attempts`).
		WithArgs("id").
		WillReturnError(errors.New("db down"))

	err := repo.DeleteAttempt(context.Background(), "id")
	require.Error(t, err)
}
