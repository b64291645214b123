package gpuless

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

func testSubmission() *backend.Submission {
	return &backend.Submission{
		AttemptUID:  "a-1",
		Kind:        model.KindAnimate,
		SourceURL:   "https://minio.example/sources/j/a.jpg",
		Params:      model.Params{"fps": 24},
		CallbackURL: "https://api.example/webhooks/attempts/a-1",
	}
}

// SUBMIT - SUCCESS, RUN ID COMES BACK DEFERRED
func TestAdapter_Submit_Deferred(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/run", r.URL.Path)
		require.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		var req runRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, model.KindAnimate, req.Input.Kind)
		require.Equal(t, "https://minio.example/sources/j/a.jpg", req.Input.SourceURL)
		require.Equal(t, "https://api.example/webhooks/attempts/a-1", req.Webhook)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"run-777"}`))
	}))
	defer srv.Close()

	a := New(srv.URL, "secret-key", srv.Client())

	res, err := a.Submit(context.Background(), testSubmission())
	require.NoError(t, err)

	deferred, ok := res.(backend.Deferred)
	require.True(t, ok)
	require.Equal(t, "run-777", deferred.ExternalID)
}

// SUBMIT - NO RUN ID IN RESPONSE
func TestAdapter_Submit_NoRunID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := New(srv.URL, "secret-key", srv.Client())

	_, err := a.Submit(context.Background(), testSubmission())
	require.ErrorIs(t, err, model.ErrBackendUnavailable)
}

// SUBMIT - PLATFORM REJECTION
func TestAdapter_Submit_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := New(srv.URL, "secret-key", srv.Client())

	_, err := a.Submit(context.Background(), testSubmission())
	require.ErrorIs(t, err, model.ErrBackendUnavailable)
}
