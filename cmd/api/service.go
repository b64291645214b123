package main

import (
	"context"
	"io"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
)

type JobAPIService interface {
	CreateJob(ctx context.Context, ownerRef string) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.JobView, error)
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	SubmitAttempt(ctx context.Context, jobID string, raw *model.AttemptCreateData) (*model.Attempt, error)
	LoadResult(ctx context.Context, id string) (io.ReadCloser, string, error)
	ResultURL(ctx context.Context, id string) (string, error)
	HandleCallback(ctx context.Context, id string, payload *model.CallbackPayload) error
}
