package main

import (
	"context"
	"io"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/wb-go/wbf/retry"
)

type AttemptWorkerService interface {
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	MarkProcessing(ctx context.Context, id string, externalID string) error
	CompleteFromBackend(ctx context.Context, attempt *model.Attempt, body io.Reader, size int64, cType string, metrics map[string]any) error
	FailFromBackend(ctx context.Context, attempt *model.Attempt, detail string) error
}

// NoopPublisher - the worker never enqueues submissions, it only consumes them
type NoopPublisher struct{}

func (NoopPublisher) SendWithRetry(ctx context.Context, strategy retry.Strategy, k []byte, v []byte) error {
	return nil
}
