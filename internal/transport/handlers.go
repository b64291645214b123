// Package transport provides methods for processing requests from endpoints
package transport

import (
	"context"
	"io"
	"log"

	"github.com/UnendingLoop/PhotoRevive/internal/events"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/UnendingLoop/PhotoRevive/internal/mwlogger"
	"github.com/wb-go/wbf/ginext"
)

type JobHandler struct {
	service JobService
	hub     *events.Hub
}

type JobService interface {
	CreateJob(ctx context.Context, ownerRef string) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.JobView, error)
	GetAttempt(ctx context.Context, id string) (*model.Attempt, error)
	SubmitAttempt(ctx context.Context, jobID string, raw *model.AttemptCreateData) (*model.Attempt, error)
	LoadResult(ctx context.Context, id string) (io.ReadCloser, string, error)
	ResultURL(ctx context.Context, id string) (string, error)
	HandleCallback(ctx context.Context, id string, payload *model.CallbackPayload) error
}

func NewJobHandler(svc JobService, hub *events.Hub) *JobHandler {
	return &JobHandler{
		service: svc,
		hub:     hub,
	}
}

func (h JobHandler) SimplePinger(ctx *ginext.Context) {
	ctx.JSON(200, map[string]string{"message": "pong"})
}

type createJobRequest struct {
	OwnerRef string `json:"owner_ref"`
}

func (h JobHandler) CreateJob(ctx *ginext.Context) {
	var req createJobRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(400, map[string]string{"error": "owner_ref is required"})
		return
	}

	job, err := h.service.CreateJob(ctx.Request.Context(), req.OwnerRef)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(201, job)
}

func (h JobHandler) GetJob(ctx *ginext.Context) {
	id := ctx.Param("id")

	view, err := h.service.GetJob(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, view)
}

func (h JobHandler) SubmitAttempt(ctx *ginext.Context) {
	jobID := ctx.Param("id")

	var raw model.AttemptCreateData
	raw.Kind = ctx.PostForm("kind")
	raw.ParamsRaw = ctx.PostForm("params")
	raw.SourceAttempt = ctx.PostForm("source_attempt")

	// the upload is optional when a completed attempt serves as the source
	imageFile, imageHeader, err := ctx.Request.FormFile("image")
	if err == nil {
		defer closeFileFlow(imageFile)
		raw.SourceImg = imageFile
		raw.SourceCType = imageHeader.Header.Get("Content-Type")
		raw.SourceImgSize = imageHeader.Size
	}

	res, err := h.service.SubmitAttempt(ctx.Request.Context(), jobID, &raw)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(202, res)
}

func (h JobHandler) GetAttempt(ctx *ginext.Context) {
	id := ctx.Param("id")

	res, err := h.service.GetAttempt(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, res)
}

func (h JobHandler) LoadResult(ctx *ginext.Context) {
	id := ctx.Param("id")

	res, cType, err := h.service.LoadResult(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}
	defer closeFileFlow(res)

	ctx.Writer.Header().Set("Content-Type", cType)
	ctx.Writer.WriteHeader(200)
	if n, err := io.Copy(ctx.Writer, res); err != nil {
		log.Printf("Failed to write response at byte %d for attempt %q: %v", n, id, err)
	}
}

func (h JobHandler) ResultURL(ctx *ginext.Context) {
	id := ctx.Param("id")

	url, err := h.service.ResultURL(ctx.Request.Context(), id)
	if err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, map[string]string{"url": url})
}

// Callback is the webhook surface providers POST completion to. Anything
// short of an infrastructure error acknowledges with 200 - a non-2xx makes
// the provider redeliver per its own policy.
func (h JobHandler) Callback(ctx *ginext.Context) {
	id := ctx.Param("id")

	var payload model.CallbackPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		logger := mwlogger.LoggerFromContext(ctx.Request.Context())
		logger.Warn().Err(err).Str("attempt_id", id).Msg("Callback carries unparseable body - acknowledged without state change")
		ctx.JSON(200, map[string]string{"message": "accepted"})
		return
	}

	if err := h.service.HandleCallback(ctx.Request.Context(), id, &payload); err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	ctx.JSON(200, map[string]string{"message": "accepted"})
}

// Events streams job state transitions over SSE. Best-effort: on reconnect
// the client re-fetches the job instead of relying on stream completeness.
func (h JobHandler) Events(ctx *ginext.Context) {
	id := ctx.Param("id")

	if _, err := h.service.GetJob(ctx.Request.Context(), id); err != nil {
		ctx.JSON(errorCodeDefiner(err), map[string]string{"error": err.Error()})
		return
	}

	sub, cancel := h.hub.Subscribe(id)
	defer cancel()

	ctx.Writer.Header().Set("Content-Type", "text/event-stream")
	ctx.Writer.Header().Set("Cache-Control", "no-cache")
	ctx.Writer.Header().Set("Connection", "keep-alive")

	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Request.Context().Done():
			return false
		case ev, ok := <-sub:
			if !ok {
				return false
			}
			ctx.SSEvent(ev.Name, ev)
			return true
		}
	})
}
