// Package hostedapi adapts the hosted inference API: a prediction is created
// with a webhook target and completed asynchronously by the provider.
package hostedapi

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
	token   string
	// provider-side model version per compute kind
	versions map[model.Kind]string
	client   *http.Client
}

func New(baseURL, token string, versions map[model.Kind]string, client *http.Client) *Adapter {
	return &Adapter{baseURL: baseURL, token: token, versions: versions, client: client}
}

func (a *Adapter) Backend() model.Backend {
	return model.BackendHosted
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
	Webhook string          `json:"webhook"`
}

type predictionInput struct {
	Image  string       `json:"image"`
	Params model.Params `json:"params,omitempty"`
}

type predictionResponse struct {
	ID string `json:"id"`
}

func (a *Adapter) Submit(ctx context.Context, sub *backend.Submission) (backend.SubmissionResult, error) {
	body, err := json.Marshal(predictionRequest{
		Version: a.versions[sub.Kind],
		Input: predictionInput{
			Image:  sub.SourceURL,
			Params: sub.Params,
		},
		Webhook: sub.CallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, backend.WrapTransportErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: inference API returned %d: %s", model.ErrBackendUnavailable, resp.StatusCode, snippet)
	}

	var pred predictionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil || pred.ID == "" {
		return nil, fmt.Errorf("%w: inference API returned no prediction id", model.ErrBackendUnavailable)
	}

	return backend.Deferred{ExternalID: pred.ID}, nil
}
