package service

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/events"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
)

// MOCK REPOSITORY

type mockRepo struct {
	createJobFn       func(ctx context.Context, j *model.Job) error
	getJobFn          func(ctx context.Context, id string) (*model.Job, error)
	createAttemptFn   func(ctx context.Context, a *model.Attempt) error
	getAttemptFn      func(ctx context.Context, id string) (*model.Attempt, error)
	listAttemptsFn    func(ctx context.Context, jobID string) ([]model.Attempt, error)
	getSelectionsFn   func(ctx context.Context, jobID string) ([]model.Selection, error)
	markProcessingFn  func(ctx context.Context, id string, externalID string) (bool, error)
	completeAttemptFn func(ctx context.Context, id string, artifactKey string, params model.Params) (bool, error)
	failAttemptFn     func(ctx context.Context, id string, detail string) (bool, error)
	updateSelectionFn func(ctx context.Context, jobID uuid.UUID, kind model.Kind, attemptID uuid.UUID, attemptCreatedAt time.Time) error
	expiredFn         func(ctx context.Context, kind model.Kind, cutoff time.Time, limit int) ([]model.Attempt, error)
	deleteAttemptFn   func(ctx context.Context, id string) error
}

func (m *mockRepo) CreateJob(ctx context.Context, j *model.Job) error {
	return m.createJobFn(ctx, j)
}

func (m *mockRepo) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return m.getJobFn(ctx, id)
}

func (m *mockRepo) CreateAttempt(ctx context.Context, a *model.Attempt) error {
	return m.createAttemptFn(ctx, a)
}

func (m *mockRepo) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	return m.getAttemptFn(ctx, id)
}

func (m *mockRepo) ListJobAttempts(ctx context.Context, jobID string) ([]model.Attempt, error) {
	return m.listAttemptsFn(ctx, jobID)
}

func (m *mockRepo) GetSelections(ctx context.Context, jobID string) ([]model.Selection, error) {
	return m.getSelectionsFn(ctx, jobID)
}

func (m *mockRepo) MarkProcessing(ctx context.Context, id string, externalID string) (bool, error) {
	return m.markProcessingFn(ctx, id, externalID)
}

func (m *mockRepo) CompleteAttempt(ctx context.Context, id string, artifactKey string, params model.Params) (bool, error) {
	return m.completeAttemptFn(ctx, id, artifactKey, params)
}

func (m *mockRepo) FailAttempt(ctx context.Context, id string, detail string) (bool, error) {
	return m.failAttemptFn(ctx, id, detail)
}

func (m *mockRepo) UpdateSelection(ctx context.Context, jobID uuid.UUID, kind model.Kind, attemptID uuid.UUID, attemptCreatedAt time.Time) error {
	return m.updateSelectionFn(ctx, jobID, kind, attemptID, attemptCreatedAt)
}

func (m *mockRepo) ExpiredAttempts(ctx context.Context, kind model.Kind, cutoff time.Time, limit int) ([]model.Attempt, error) {
	return m.expiredFn(ctx, kind, cutoff, limit)
}

func (m *mockRepo) DeleteAttempt(ctx context.Context, id string) error {
	return m.deleteAttemptFn(ctx, id)
}

// MOCK STORAGE

type mockStorage struct {
	putFn     func(ctx context.Context, key string, size int64, ct string, r io.Reader) error
	getFn     func(ctx context.Context, key string) (io.ReadCloser, string, error)
	deleteFn  func(ctx context.Context, key string) error
	presignFn func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func (m *mockStorage) Put(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
	return m.putFn(ctx, key, size, ct, r)
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return m.getFn(ctx, key)
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	return m.deleteFn(ctx, key)
}

func (m *mockStorage) PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return m.presignFn(ctx, key, ttl)
}

// MOCK PUBLISHER

type mockPublisher struct {
	sendFn func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error
}

func (m *mockPublisher) SendWithRetry(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
	return m.sendFn(ctx, s, key, v)
}

// MOCK EVENT FAN-OUT

type mockEvents struct {
	published []events.Event
}

func (m *mockEvents) Publish(ctx context.Context, ev events.Event) {
	m.published = append(m.published, ev)
}

// MOCK RESULT FETCHER

type mockFetcher struct {
	fetchFn func(ctx context.Context, url string) (io.ReadCloser, string, int64, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, string, int64, error) {
	return m.fetchFn(ctx, url)
}

// MOCK для multipart.File
type fakeMultipartFile struct {
	*bytes.Reader
}

func (f *fakeMultipartFile) Close() error {
	return nil
}
