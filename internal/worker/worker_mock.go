package worker

import (
	"context"
	"io"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/backend"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
)

// MOCK SERVICE

type mockWorkerService struct {
	getAttemptFn     func(ctx context.Context, id string) (*model.Attempt, error)
	markProcessingFn func(ctx context.Context, id string, externalID string) error
	completeFn       func(ctx context.Context, attempt *model.Attempt, body io.Reader, size int64, cType string, metrics map[string]any) error
	failFn           func(ctx context.Context, attempt *model.Attempt, detail string) error
}

func (m *mockWorkerService) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	return m.getAttemptFn(ctx, id)
}

func (m *mockWorkerService) MarkProcessing(ctx context.Context, id string, externalID string) error {
	return m.markProcessingFn(ctx, id, externalID)
}

func (m *mockWorkerService) CompleteFromBackend(ctx context.Context, attempt *model.Attempt, body io.Reader, size int64, cType string, metrics map[string]any) error {
	return m.completeFn(ctx, attempt, body, size, cType, metrics)
}

func (m *mockWorkerService) FailFromBackend(ctx context.Context, attempt *model.Attempt, detail string) error {
	return m.failFn(ctx, attempt, detail)
}

// MOCK STORAGE

type mockStorage struct {
	getFn     func(ctx context.Context, key string) (io.ReadCloser, string, error)
	presignFn func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return m.getFn(ctx, key)
}

func (m *mockStorage) Put(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
	return nil
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	return nil
}

func (m *mockStorage) PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return m.presignFn(ctx, key, ttl)
}

// MOCK ADAPTER

type mockAdapter struct {
	name     model.Backend
	submitFn func(ctx context.Context, sub *backend.Submission) (backend.SubmissionResult, error)
}

func (m *mockAdapter) Backend() model.Backend {
	return m.name
}

func (m *mockAdapter) Submit(ctx context.Context, sub *backend.Submission) (backend.SubmissionResult, error) {
	return m.submitFn(ctx, sub)
}
