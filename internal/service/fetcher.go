package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPFetcher pulls finished artifacts from the URLs providers put into
// their callbacks. The client carries a hard timeout so a slow provider
// can't hold a webhook request past its own redelivery budget.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (io.ReadCloser, string, int64, error) {
	if url == "" {
		return nil, "", 0, fmt.Errorf("callback carries no output reference")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", 0, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", 0, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", 0, fmt.Errorf("output fetch returned status %d", resp.StatusCode)
	}

	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}
