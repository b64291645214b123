package hostedapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/UnendingLoop/PhotoRevive/internal/backend"
	"github.com/UnendingLoop/PhotoRevive/internal/model"
	"github.com/stretchr/testify/require"
)

func testVersions() map[model.Kind]string {
	return map[model.Kind]string{
		model.KindRestore:  "restore-v3",
		model.KindColorize: "colorize-v2",
	}
}

// SUBMIT - SUCCESS, PREDICTION ID COMES BACK DEFERRED
func TestAdapter_Submit_Deferred(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/predictions", r.URL.Path)
		require.Equal(t, "Token api-token", r.Header.Get("Authorization"))

		var req predictionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "colorize-v2", req.Version)
		require.Equal(t, "https://minio.example/sources/j/a.jpg", req.Input.Image)
		require.Equal(t, "https://api.example/webhooks/attempts/a-1", req.Webhook)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pred-42"}`))
	}))
	defer srv.Close()

	a := New(srv.URL, "api-token", testVersions(), srv.Client())

	sub := &backend.Submission{
		AttemptUID:  "a-1",
		Kind:        model.KindColorize,
		SourceURL:   "https://minio.example/sources/j/a.jpg",
		CallbackURL: "https://api.example/webhooks/attempts/a-1",
	}

	res, err := a.Submit(context.Background(), sub)
	require.NoError(t, err)

	deferred, ok := res.(backend.Deferred)
	require.True(t, ok)
	require.Equal(t, "pred-42", deferred.ExternalID)
}

// SUBMIT - NO PREDICTION ID IN RESPONSE
func TestAdapter_Submit_NoPredictionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	a := New(srv.URL, "api-token", testVersions(), srv.Client())

	_, err := a.Submit(context.Background(), &backend.Submission{Kind: model.KindRestore})
	require.ErrorIs(t, err, model.ErrBackendUnavailable)
}

// SUBMIT - PROVIDER REJECTION
func TestAdapter_Submit_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid version", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := New(srv.URL, "api-token", testVersions(), srv.Client())

	_, err := a.Submit(context.Background(), &backend.Submission{Kind: model.KindRestore})
	require.ErrorIs(t, err, model.ErrBackendUnavailable)
}
