// Package gpuless adapts the serverless GPU platform: a run request returns a
// provider-side id, the result arrives later through the webhook.
package gpuless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/UnendingLoop/PhotoRevive/internal/backend"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
)

type Adapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(baseURL, apiKey string, client *http.Client) *Adapter {
	return &Adapter{baseURL: baseURL, apiKey: apiKey, client: client}
}

func (a *Adapter) Backend() model.Backend {
	return model.BackendGPU
}

type runRequest struct {
	Input   runInput `json:"input"`
	Webhook string   `json:"webhook"`
}

type runInput struct {
	Kind      model.Kind   `json:"kind"`
	SourceURL string       `json:"source_url"`
	Params    model.Params `json:"params,omitempty"`
}

type runResponse struct {
	ID string `json:"id"`
}

func (a *Adapter) Submit(ctx context.Context, sub *backend.Submission) (backend.SubmissionResult, error) {
	body, err := json.Marshal(runRequest{
		Input: runInput{
			Kind:      sub.Kind,
			SourceURL: sub.SourceURL,
			Params:    sub.Params,
		},
		Webhook: sub.CallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, backend.WrapTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: gpu platform returned %d: %s", model.ErrBackendUnavailable, resp.StatusCode, snippet)
	}

	var run runResponse
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil || run.ID == "" {
		return nil, fmt.Errorf("%w: gpu platform returned no run id", model.ErrBackendUnavailable)
	}

	return backend.Deferred{ExternalID: run.ID}, nil
}
