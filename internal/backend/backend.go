// Package backend defines the uniform contract for external compute backends
// and the kind->adapter registry resolved once at process start.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/wb-go/wbf/config"
)

// Submission - everything an adapter needs to hand one attempt to a provider.
// Inline backends consume Source directly; deferred backends get SourceURL -
// a presigned link the provider can fetch on its own schedule.
type Submission struct {
	AttemptUID  string
	Kind        model.Kind
	Source      io.Reader
	SourceSize  int64
	ContentType string
	SourceURL   string
	Params      model.Params
	CallbackURL string
}

// SubmissionResult is either Inline or Deferred.
type SubmissionResult interface {
	isSubmissionResult()
}

// Inline - the backend executed synchronously, the body is the finished artifact.
type Inline struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Deferred - the provider accepted the work and will POST the callback URL;
// ExternalID is the provider-side correlation id.
type Deferred struct {
	ExternalID string
}

func (Inline) isSubmissionResult()   {}
func (Deferred) isSubmissionResult() {}

type Adapter interface {
	Backend() model.Backend
	Submit(ctx context.Context, sub *Submission) (SubmissionResult, error)
}

// Registry maps compute kind to its configured adapter. Built once in main,
// never re-resolved per request.
type Registry map[model.Kind]Adapter

func (r Registry) Resolve(kind model.Kind) (Adapter, error) {
	a, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no backend configured for kind %q", kind)
	}
	return a, nil
}

var kindKeys = map[model.Kind]string{
	model.KindRestore:  "BACKEND_RESTORE",
	model.KindColorize: "BACKEND_COLORIZE",
	model.KindAnimate:  "BACKEND_ANIMATE",
}

// KindBackends resolves the configured kind->backend mapping. The API process
// uses the bare names; the worker binds them to constructed adapters.
func KindBackends(cfg *config.Config) (map[model.Kind]model.Backend, error) {
	res := make(map[model.Kind]model.Backend, len(kindKeys))
	for kind, key := range kindKeys {
		name := model.Backend(cfg.GetString(key))
		if !model.BackendsMap[name] {
			return nil, fmt.Errorf("unknown backend %q in %s", name, key)
		}
		res[kind] = name
	}
	return res, nil
}

// NewRegistry reads BACKEND_<KIND> env keys and binds every known kind to one
// of the constructed adapters.
func NewRegistry(cfg *config.Config, adapters map[model.Backend]Adapter) (Registry, error) {
	names, err := KindBackends(cfg)
	if err != nil {
		return nil, err
	}

	reg := make(Registry, len(names))
	for kind, name := range names {
		adapter, ok := adapters[name]
		if !ok {
			return nil, fmt.Errorf("backend %q for kind %q was not constructed", name, kind)
		}
		reg[kind] = adapter
	}

	return reg, nil
}

// IsRetryable reports whether a submission failure is worth one more try.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrBackendUnavailable) || errors.Is(err, model.ErrTimeout)
}

// NewHTTPClient - bounded connect/submit budget shared by all adapters.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// WrapTransportErr maps raw transport failures onto the submission taxonomy.
func WrapTransportErr(ctx context.Context, err error) error {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%w: %v", model.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
}
