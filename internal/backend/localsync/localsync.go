// Package localsync adapts the locally reachable synchronous compute service:
// one multipart POST, the response body is the finished artifact.
package localsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/UnendingLoop/PhotoRevive/internal/backend"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
)

type Adapter struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, client *http.Client) *Adapter {
	return &Adapter{baseURL: baseURL, client: client}
}

func (a *Adapter) Backend() model.Backend {
	return model.BackendLocal
}

func (a *Adapter) Submit(ctx context.Context, sub *backend.Submission) (backend.SubmissionResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("kind", string(sub.Kind)); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	if len(sub.Params) != 0 {
		params, err := json.Marshal(sub.Params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
		}
		if err := mw.WriteField("params", string(params)); err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
		}
	}

	fw, err := mw.CreateFormFile("image", "source"+model.GetImageFileExt[sub.ContentType])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	if _, err := io.Copy(fw, sub.Source); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/process", &buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, backend.WrapTransportErr(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: local service returned %d: %s", model.ErrBackendUnavailable, resp.StatusCode, snippet)
	}

	return backend.Inline{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}
