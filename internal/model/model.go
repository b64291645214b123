// Package model provides data-structs for internal app-usage
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

type (
	Status  string
	Kind    string
	Backend string
)

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var StatusMap = map[Status]bool{
	StatusPending:    true,
	StatusProcessing: true,
	StatusCompleted:  true,
	StatusFailed:     true,
}

// IsTerminal - completed/failed rows are never transitioned again
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	KindRestore  Kind = "restore"
	KindColorize Kind = "colorize"
	KindAnimate  Kind = "animate"
)

var KindsMap = map[Kind]bool{
	KindRestore:  true,
	KindColorize: true,
	KindAnimate:  true,
}

const (
	BackendLocal  Backend = "local"
	BackendGPU    Backend = "gpuless"
	BackendHosted Backend = "hostedapi"
)

var BackendsMap = map[Backend]bool{
	BackendLocal:  true,
	BackendGPU:    true,
	BackendHosted: true,
}

//---------------------

type Job struct {
	UID       uuid.UUID `json:"uid"`
	OwnerRef  string    `json:"owner_ref"`
	CreatedAt time.Time `json:"created_at"`
}

type Attempt struct {
	UID         uuid.UUID  `json:"uid"`
	JobUID      uuid.UUID  `json:"job_uid"`
	SourceUID   *uuid.UUID `json:"source_uid,omitempty"`
	Kind        Kind       `json:"kind"`
	Backend     Backend    `json:"backend"`
	ExternalID  *string    `json:"-"`
	Status      Status     `json:"status"`
	Params      Params     `json:"params,omitempty"`
	SourceKey   string     `json:"-"`
	ArtifactKey string     `json:"-"`
	ErrDetail   *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Selection - the job's currently selected successful attempt for one kind.
// AttemptCreatedAt is carried along so a late completion of a superseded
// attempt never overrides a more recent selection.
type Selection struct {
	JobUID           uuid.UUID `json:"job_uid"`
	Kind             Kind      `json:"kind"`
	AttemptUID       uuid.UUID `json:"attempt_uid"`
	AttemptCreatedAt time.Time `json:"-"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type JobView struct {
	Job        Job         `json:"job"`
	Selections []Selection `json:"selections"`
	Attempts   []Attempt   `json:"attempts"`
}

//-------------------

type AttemptCreateData struct {
	Kind          string
	SourceAttempt string
	ParamsRaw     string
	SourceImg     multipart.File
	SourceCType   string
	SourceImgSize int64
}

// CallbackPayload - what a provider POSTs to the webhook endpoint.
// Output is either the artifact URL itself or a provider-side path that
// needs a follow-up fetch - both sides of that are fetched the same way.
type CallbackPayload struct {
	Status  string         `json:"status"`
	Output  string         `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

const (
	CallbackCompleted = "completed"
	CallbackFailed    = "failed"
)

// ------------------

var (
	ErrCommon500          error = errors.New("something went wrong. Try again later")       // 500
	ErrIncorrectID        error = errors.New("incorrect UUID")                              // 400
	ErrIncorrectKind      error = errors.New("compute kind is not supported")               // 400
	ErrIncorrectParams    error = errors.New("incorrect params payload")                    // 400
	ErrEmptySource        error = errors.New("empty/incorrect source image provided")       // 400
	ErrUnsupportedFormat  error = errors.New("unsupported source image format")             // 400
	ErrSourceNotReady     error = errors.New("source attempt has no completed result")      // 400
	ErrConflict           error = errors.New("attempt of this kind is already in flight")   // 409
	ErrJobNotFound        error = errors.New("specified job UUID doesn't exist")            // 404
	ErrAttemptNotFound    error = errors.New("specified attempt UUID doesn't exist")        // 404
	ErrResultNotReady     error = errors.New("requested attempt is not completed yet")      // 404
	ErrBackendUnavailable error = errors.New("compute backend is unreachable")              // worker-side
	ErrTimeout            error = errors.New("backend submission exceeded its time budget") // worker-side
	ErrArtifactTransfer   error = errors.New("failed to transfer artifact to storage")      // worker-side
)

//--------------------

const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
)

var GetImageFileExt = map[string]string{
	JPEG: ".jpg",
	PNG:  ".png",
}

var InImageTypeMap = map[string]bool{
	JPEG: true,
	PNG:  true,
}

var GetCType = map[imaging.Format]string{
	imaging.JPEG: JPEG,
	imaging.PNG:  PNG,
}

//--------------------

// Params - opaque per-attempt parameter bag stored as JSONB; completion
// metrics are appended under the "metrics" key.
type Params map[string]any

func (p *Params) Scan(value any) error {
	if value == nil {
		*p = Params{}
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("invalid type for Params")
	}

	if err := json.Unmarshal(b, p); err != nil {
		return fmt.Errorf("failed to unmarshal JSONB to Params: %w", err)
	}
	return nil
}

func (p Params) Value() (driver.Value, error) {
	if len(p) == 0 {
		return []byte(`{}`), nil
	}
	res, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal Params to JSONB: %w", err)
	}

	return res, nil
}
