// Package service provides business-logic for the app
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/events"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/UnendingLoop/PhotoRevive/internal/mwlogger"
	"github.com/UnendingLoop/PhotoRevive/internal/repository"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
)

type JobService struct {
	repo            repository.JobRepo
	publisher       TaskPublisher
	storage         ArtifactStorage
	events          EventPublisher
	fetcher         ResultFetcher
	backends        map[model.Kind]model.Backend
	srcKeyPrefix    string
	resultKeyPrefix string
	presignTTL      time.Duration
}

func NewJobService(rep repository.JobRepo, pub TaskPublisher, strg ArtifactStorage, ev EventPublisher, fetch ResultFetcher, backends map[model.Kind]model.Backend) *JobService {
	return &JobService{
		repo:            rep,
		publisher:       pub,
		storage:         strg,
		events:          ev,
		fetcher:         fetch,
		backends:        backends,
		srcKeyPrefix:    "sources/",
		resultKeyPrefix: "results/",
		presignTTL:      time.Hour,
	}
}

// TaskPublisher - contract for the submit queue
type TaskPublisher interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error
}

// ArtifactStorage - contract for the durable artifact store
type ArtifactStorage interface {
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (output io.ReadCloser, ctype string, err error)
	Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error
	PresignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// EventPublisher - contract for the state-transition fan-out
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event)
}

// ResultFetcher pulls a finished artifact from the URL a provider's callback
// points at.
type ResultFetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, string, int64, error)
}

var retryStrategy = retry.Strategy{
	Attempts: 5,
	Delay:    3 * time.Second,
	Backoff:  1.5,
}

func (s JobService) CreateJob(ctx context.Context, ownerRef string) (*model.Job, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	if ownerRef == "" {
		return nil, model.ErrIncorrectParams
	}

	job := &model.Job{
		UID:       uuid.New(),
		OwnerRef:  ownerRef,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		logger.Error().Err(err).Msg("Failed to create job in DB")
		return nil, model.ErrCommon500
	}
	return job, nil
}

func (s JobService) GetJob(ctx context.Context, id string) (*model.JobView, error) {
	logger := mwlogger.LoggerFromContext(ctx)
	if err := uuid.Validate(id); err != nil {
		return nil, model.ErrIncorrectID
	}

	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		if err == model.ErrJobNotFound {
			return nil, err
		}
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch job %q from DB", id))
		return nil, model.ErrCommon500
	}

	selections, err := s.repo.GetSelections(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch selections of job %q from DB", id))
		return nil, model.ErrCommon500
	}

	attempts, err := s.repo.ListJobAttempts(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch attempts of job %q from DB", id))
		return nil, model.ErrCommon500
	}

	return &model.JobView{Job: *job, Selections: selections, Attempts: attempts}, nil
}

func (s JobService) GetAttempt(ctx context.Context, id string) (*model.Attempt, error) {
	logger := mwlogger.LoggerFromContext(ctx)
	if err := uuid.Validate(id); err != nil {
		return nil, model.ErrIncorrectID
	}

	res, err := s.repo.GetAttempt(ctx, id)
	if err != nil {
		if err == model.ErrAttemptNotFound {
			return nil, err
		}
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch attempt %q from DB", id))
		return nil, model.ErrCommon500
	}

	return res, nil
}

// SubmitAttempt validates and normalizes the input, creates the pending
// attempt behind the atomic in-flight gate and hands it to the submit queue.
// The backend call itself happens in a worker; the caller returns immediately.
func (s JobService) SubmitAttempt(ctx context.Context, jobID string, raw *model.AttemptCreateData) (*model.Attempt, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	if err := uuid.Validate(jobID); err != nil {
		return nil, model.ErrIncorrectID
	}

	newAttempt := &model.Attempt{}
	if err := validateNormalizeAttemptInfo(raw, newAttempt); err != nil {
		return nil, err
	}
	newAttempt.JobUID = uuid.MustParse(jobID)
	newAttempt.Backend = s.backends[newAttempt.Kind]

	// source is either a fresh upload or a completed attempt's artifact
	var normalized []byte
	var srcCType string
	if raw.SourceAttempt != "" {
		srcAttempt, err := s.resolveSourceAttempt(ctx, jobID, raw.SourceAttempt)
		if err != nil {
			return nil, err
		}
		newAttempt.SourceUID = &srcAttempt.UID
		newAttempt.SourceKey = srcAttempt.ArtifactKey
	} else {
		var err error
		normalized, srcCType, err = normalizeSource(raw)
		if err != nil {
			return nil, err
		}
	}

	newAttempt.UID = uuid.New()
	newAttempt.Status = model.StatusPending
	newAttempt.CreatedAt = time.Now().UTC()
	if normalized != nil {
		newAttempt.SourceKey = s.srcKeyPrefix + jobID + "/" + newAttempt.UID.String() + model.GetImageFileExt[srcCType]
	}

	// the unique partial index turns a concurrent duplicate into ErrConflict
	// without a read-then-write window
	if err := s.repo.CreateAttempt(ctx, newAttempt); err != nil {
		switch err {
		case model.ErrConflict, model.ErrJobNotFound:
			return nil, err
		default:
			logger.Error().Err(err).Msg("Failed to create attempt in DB")
			return nil, model.ErrCommon500
		}
	}

	if normalized != nil {
		if err := s.storage.Put(ctx, newAttempt.SourceKey, int64(len(normalized)), srcCType, bytes.NewReader(normalized)); err != nil {
			logger.Error().Err(err).Msg("Failed to save source image in Storage")
			s.failAttempt(ctx, newAttempt, "failed to store source image")
			return nil, model.ErrCommon500
		}
	}

	if err := s.publisher.SendWithRetry(ctx, retryStrategy, []byte(newAttempt.UID.String()), nil); err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to publish attempt %q to submit-queue", newAttempt.UID))
		s.failAttempt(ctx, newAttempt, "failed to enqueue submission")
		return nil, model.ErrCommon500
	}

	return newAttempt, nil
}

func (s JobService) resolveSourceAttempt(ctx context.Context, jobID, sourceID string) (*model.Attempt, error) {
	if err := uuid.Validate(sourceID); err != nil {
		return nil, model.ErrIncorrectID
	}

	srcAttempt, err := s.repo.GetAttempt(ctx, sourceID)
	if err != nil {
		if err == model.ErrAttemptNotFound {
			return nil, err
		}
		return nil, model.ErrCommon500
	}
	if srcAttempt.JobUID.String() != jobID || srcAttempt.Status != model.StatusCompleted || srcAttempt.ArtifactKey == "" {
		return nil, model.ErrSourceNotReady
	}
	return srcAttempt, nil
}

func (s JobService) LoadResult(ctx context.Context, id string) (io.ReadCloser, string, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	res, err := s.GetAttempt(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if res.Status != model.StatusCompleted {
		return nil, "", model.ErrResultNotReady
	}

	data, cType, err := s.storage.Get(ctx, res.ArtifactKey)
	if err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch result-artifact %q from Storage", id))
		return nil, "", model.ErrCommon500
	}
	return data, cType, nil
}

// ResultURL issues a temporary download URL instead of proxying the bytes.
func (s JobService) ResultURL(ctx context.Context, id string) (string, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	res, err := s.GetAttempt(ctx, id)
	if err != nil {
		return "", err
	}
	if res.Status != model.StatusCompleted {
		return "", model.ErrResultNotReady
	}

	url, err := s.storage.PresignURL(ctx, res.ArtifactKey, s.presignTTL)
	if err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to presign result-artifact URL for attempt %q", id))
		return "", model.ErrCommon500
	}
	return url, nil
}

// MarkProcessing persists the correlation id after a deferred submission.
// A false transition means the attempt got completed before we came back
// from the provider - possible with very fast callbacks, and harmless since
// correlation is keyed on the attempt UID anyway.
func (s JobService) MarkProcessing(ctx context.Context, id string, externalID string) error {
	logger := mwlogger.LoggerFromContext(ctx)

	ok, err := s.repo.MarkProcessing(ctx, id, externalID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to mark attempt processing in DB")
		return model.ErrCommon500
	}
	if !ok {
		logger.Warn().Msg(fmt.Sprintf("Attempt %q left pending state before its correlation id %q was stored", id, externalID))
	}
	return nil
}

// CompleteFromBackend lands a finished artifact: storage first, then the
// conditional terminal transition, then the selection pointer and the event.
// The artifact key is deterministic per attempt, so a racing duplicate stores
// at most one object and loses the status update - exactly once overall.
func (s JobService) CompleteFromBackend(ctx context.Context, attempt *model.Attempt, body io.Reader, size int64, cType string, metrics map[string]any) error {
	logger := mwlogger.LoggerFromContext(ctx)

	ext := model.GetImageFileExt[cType]
	resKey := s.resultKeyPrefix + attempt.JobUID.String() + "/" + attempt.UID.String() + ext

	if err := s.storage.Put(ctx, resKey, size, cType, body); err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to store result-artifact of attempt %q", attempt.UID))
		s.failAttempt(ctx, attempt, model.ErrArtifactTransfer.Error())
		return model.ErrArtifactTransfer
	}

	params := attempt.Params
	if len(metrics) != 0 {
		if params == nil {
			params = model.Params{}
		}
		params["metrics"] = metrics
	}

	ok, err := s.repo.CompleteAttempt(ctx, attempt.UID.String(), resKey, params)
	if err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to complete attempt %q in DB", attempt.UID))
		return model.ErrCommon500
	}
	if !ok {
		logger.Debug().Msg(fmt.Sprintf("Attempt %q already terminal - skipping duplicate completion", attempt.UID))
		return nil
	}

	if err := s.repo.UpdateSelection(ctx, attempt.JobUID, attempt.Kind, attempt.UID, attempt.CreatedAt); err != nil {
		// the attempt itself is completed; a lost selection update self-heals
		// on the next successful attempt of this kind
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to update selection for job %q kind %q", attempt.JobUID, attempt.Kind))
	}

	s.events.Publish(ctx, events.Event{
		Name:       events.AttemptCompleted,
		JobUID:     attempt.JobUID,
		AttemptUID: attempt.UID,
		Kind:       attempt.Kind,
		At:         time.Now().UTC(),
	})
	return nil
}

// FailFromBackend terminates an attempt with the recorded error detail. The
// job's selection pointer is never touched on this path.
func (s JobService) FailFromBackend(ctx context.Context, attempt *model.Attempt, detail string) error {
	logger := mwlogger.LoggerFromContext(ctx)

	ok, err := s.repo.FailAttempt(ctx, attempt.UID.String(), detail)
	if err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fail attempt %q in DB", attempt.UID))
		return model.ErrCommon500
	}
	if !ok {
		logger.Debug().Msg(fmt.Sprintf("Attempt %q already terminal - skipping duplicate failure", attempt.UID))
		return nil
	}

	s.events.Publish(ctx, events.Event{
		Name:       events.AttemptFailed,
		JobUID:     attempt.JobUID,
		AttemptUID: attempt.UID,
		Kind:       attempt.Kind,
		Error:      detail,
		At:         time.Now().UTC(),
	})
	return nil
}

// failAttempt - best-effort failure marking on submission-side errors
func (s JobService) failAttempt(ctx context.Context, attempt *model.Attempt, detail string) {
	if err := s.FailFromBackend(ctx, attempt, detail); err != nil {
		logger := mwlogger.LoggerFromContext(ctx)
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to record failure of attempt %q", attempt.UID))
	}
}

// HandleCallback is the webhook receiver's core. Providers redeliver
// callbacks by design, so every branch that doesn't mutate state still
// acknowledges success; only infrastructure errors propagate (and make the
// provider retry, which is what we want then).
func (s JobService) HandleCallback(ctx context.Context, id string, payload *model.CallbackPayload) error {
	logger := mwlogger.LoggerFromContext(ctx)

	if err := uuid.Validate(id); err != nil {
		logger.Warn().Str("attempt_id", id).Msg("Orphan callback: malformed attempt id - acknowledged without state change")
		return nil
	}

	attempt, err := s.repo.GetAttempt(ctx, id)
	if err != nil {
		if err == model.ErrAttemptNotFound {
			logger.Warn().Str("attempt_id", id).Msg("Orphan callback: unknown attempt id - acknowledged without state change")
			return nil
		}
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch attempt %q for callback", id))
		return model.ErrCommon500
	}

	if attempt.Status.IsTerminal() {
		logger.Debug().Str("attempt_id", id).Msg("Duplicate callback for terminal attempt - idempotent skip")
		return nil
	}

	switch payload.Status {
	case model.CallbackCompleted:
		body, cType, size, err := s.fetcher.Fetch(ctx, payload.Output)
		if err != nil {
			logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch callback output for attempt %q", id))
			s.failAttempt(ctx, attempt, model.ErrArtifactTransfer.Error()+": "+err.Error())
			return nil
		}
		defer func() {
			if err := body.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close callback output stream")
			}
		}()

		if err := s.CompleteFromBackend(ctx, attempt, body, size, cType, payload.Metrics); err != nil {
			if err == model.ErrArtifactTransfer {
				// the attempt is already terminally failed - ack so the
				// provider doesn't hammer us with redeliveries
				return nil
			}
			return err
		}
		return nil

	case model.CallbackFailed:
		detail := payload.Error
		if detail == "" {
			detail = "backend reported failure without detail"
		}
		return s.FailFromBackend(ctx, attempt, detail)

	default:
		// distinct from the idempotent-skip log: an unmodeled provider
		// status shows up here and nowhere else
		logger.Warn().Str("attempt_id", id).Str("status", payload.Status).Msg("Callback carries unrecognized status - acknowledged without state change")
		return nil
	}
}
