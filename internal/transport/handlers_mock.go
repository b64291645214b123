package transport

import (
	"context"
	"io"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/gin-gonic/gin"
)

type mockJobService struct {
	createJobFn      func(ctx context.Context, ownerRef string) (*model.Job, error)
	getJobFn         func(ctx context.Context, id string) (*model.JobView, error)
	getAttemptFn     func(ctx context.Context, id string) (*model.Attempt, error)
	submitAttemptFn  func(ctx context.Context, jobID string, raw *model.AttemptCreateData) (*model.Attempt, error)
	loadResultFn     func(ctx context.Context, id string) (io.ReadCloser, string, error)
	resultURLFn      func(ctx context.Context, id string) (string, error)
	handleCallbackFn func(ctx context.Context, id string, payload *model.CallbackPayload) error
}

func (m *mockJobService) CreateJob(ctx context.Context, ownerRef string) (*model.Job, error) {
	return m.createJobFn(ctx, ownerRef)
}

func (m *mockJobService) GetJob(ctx context.Context, id string) (*model.JobView, error) {
	return m.getJobFn(ctx, id)
}

func (m *mockJobService) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	return m.getAttemptFn(ctx, id)
}

func (m *mockJobService) SubmitAttempt(ctx context.Context, jobID string, raw *model.AttemptCreateData) (*model.Attempt, error) {
	return m.submitAttemptFn(ctx, jobID, raw)
}

func (m *mockJobService) LoadResult(ctx context.Context, id string) (io.ReadCloser, string, error) {
	return m.loadResultFn(ctx, id)
}

func (m *mockJobService) ResultURL(ctx context.Context, id string) (string, error) {
	return m.resultURLFn(ctx, id)
}

func (m *mockJobService) HandleCallback(ctx context.Context, id string, payload *model.CallbackPayload) error {
	return m.handleCallbackFn(ctx, id, payload)
}

func init() {
	gin.SetMode(gin.TestMode)
}
