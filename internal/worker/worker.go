// Package worker contains the submit pool: it drains the durable queue and
// hands pending attempts to their configured compute backends.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/backend"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/UnendingLoop/PhotoRevive/internal/service"
	kafkago "github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

type AttemptWorkerService interface {
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	MarkProcessing(ctx context.Context, id string, externalID string) error
	CompleteFromBackend(ctx context.Context, attempt *model.Attempt, body io.Reader, size int64, cType string, metrics map[string]any) error
	FailFromBackend(ctx context.Context, attempt *model.Attempt, detail string) error
}

type Worker struct {
	storage       service.ArtifactStorage
	service       AttemptWorkerService
	registry      backend.Registry
	queue         <-chan kafkago.Message
	consumer      *wbfkafka.Consumer
	callbackBase  string
	submitTimeout time.Duration
	retryStrategy retry.Strategy
}

func NewWorkerInstance(strg service.ArtifactStorage, svc AttemptWorkerService, reg backend.Registry, q <-chan kafkago.Message, cons *wbfkafka.Consumer, callbackBase string, submitTimeout time.Duration, strategy retry.Strategy) *Worker {
	return &Worker{
		storage:       strg,
		service:       svc,
		registry:      reg,
		queue:         q,
		consumer:      cons,
		callbackBase:  callbackBase,
		submitTimeout: submitTimeout,
		retryStrategy: strategy,
	}
}

// StartPool runs a bounded number of submit workers over the shared queue
// channel and blocks until the context is canceled and all of them drain.
func (w *Worker) StartPool(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-w.queue:
			if !ok {
				log.Println("Queue channel closed, stopping worker...")
				return
			}
			id := string(msg.Key)
			if err := w.initSubmitter(ctx, id); err != nil && !errors.Is(err, model.ErrAttemptNotFound) {
				log.Printf("Submission of attempt %s failed: %v", id, err)
				continue
			}
			if err := w.consumer.Commit(ctx, msg); err != nil {
				log.Printf("Failed to commit queue-message: %v", err)
			}
		}
	}
}

func (w *Worker) initSubmitter(ctx context.Context, id string) error {
	task, err := w.service.GetAttempt(ctx, id)
	if err != nil {
		return fmt.Errorf("worker failed to fetch attempt %q from DB: %w", id, err)
	}

	// stale or redelivered queue messages: terminal rows stay terminal,
	// processing rows already sit with a provider
	if task.Status != model.StatusPending {
		return nil
	}

	adapter, err := w.registry.Resolve(task.Kind)
	if err != nil {
		if fErr := w.service.FailFromBackend(ctx, task, err.Error()); fErr != nil {
			return fmt.Errorf("failed to record misconfiguration of attempt %q: %w", id, fErr)
		}
		return nil
	}

	res, err := w.submitWithRetry(ctx, task, adapter)
	if err != nil {
		// out of retries - the attempt terminates with the recorded detail
		if fErr := w.service.FailFromBackend(ctx, task, err.Error()); fErr != nil {
			return fmt.Errorf("failed to record failure of attempt %q: %w \nAFTER\n submission error: %w", id, fErr, err)
		}
		return nil
	}

	switch r := res.(type) {
	case backend.Inline:
		defer closeFileFlow(r.Body)
		cType := r.ContentType
		if cType == "" {
			cType = model.JPEG
		}
		return w.service.CompleteFromBackend(ctx, task, r.Body, r.Size, cType, nil)
	case backend.Deferred:
		return w.service.MarkProcessing(ctx, id, r.ExternalID)
	default:
		return fmt.Errorf("adapter for kind %q returned unknown result type", task.Kind)
	}
}

// submitWithRetry re-runs the bounded submission on transport-level failures;
// validation-style errors surface immediately.
func (w *Worker) submitWithRetry(ctx context.Context, task *model.Attempt, adapter backend.Adapter) (backend.SubmissionResult, error) {
	var res backend.SubmissionResult
	var err error

	delay := w.retryStrategy.Delay
	for i := 0; i < w.retryStrategy.Attempts; i++ {
		if i > 0 {
			time.Sleep(delay)
			delay = time.Duration(float64(delay) * w.retryStrategy.Backoff)
		}
		res, err = w.submitOnce(ctx, task, adapter)
		if err == nil || !backend.IsRetryable(err) {
			break
		}
		log.Printf("Submission try #%d of attempt %q failed: %v", i+1, task.UID, err)
	}

	return res, err
}

func (w *Worker) submitOnce(ctx context.Context, task *model.Attempt, adapter backend.Adapter) (backend.SubmissionResult, error) {
	source, cType, err := w.storage.Get(ctx, task.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("worker failed to fetch source from storage: %w", err)
	}
	defer closeFileFlow(source)

	sourceURL, err := w.storage.PresignURL(ctx, task.SourceKey, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("worker failed to presign source URL: %w", err)
	}

	sub := &backend.Submission{
		AttemptUID:  task.UID.String(),
		Kind:        task.Kind,
		Source:      source,
		ContentType: cType,
		SourceURL:   sourceURL,
		Params:      task.Params,
		CallbackURL: w.callbackBase + "/webhooks/attempts/" + task.UID.String(),
	}

	// hard wall-clock budget per submission try
	sctx, cancel := context.WithTimeout(ctx, w.submitTimeout)
	defer cancel()

	return adapter.Submit(sctx, sub)
}

func closeFileFlow(res io.ReadCloser) {
	if res == nil {
		return
	}

	if err := res.Close(); err != nil {
		log.Println("Worker failed to close fileflow:", err)
	}
}
