// Package httpjson holds the request plumbing shared by the outbound JSON
// API clients.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second

	maxErrorBody    = 4096
	maxResponseBody = 1 << 20
)

// StatusError captures non-2xx upstream responses with status-aware context.
type StatusError struct {
	Service    string
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d from %s: %s", e.Service, e.StatusCode, e.URL, e.Body)
}

func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Request describes one JSON POST.
type Request struct {
	// Service prefixes every error, e.g. "openai".
	Service string
	URL     string
	// Bearer is sent as an Authorization header when not empty.
	Bearer string
	Body   any
}

// Post marshals r.Body, posts it and returns the raw response body of a 2xx
// reply. Non-2xx replies are returned as *StatusError.
func Post(ctx context.Context, client *http.Client, r Request) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	body, err := json.Marshal(r.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", r.Service, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", r.Service, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.Bearer)
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", r.Service, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &StatusError{
			Service:    r.Service,
			StatusCode: res.StatusCode,
			URL:        r.URL,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read response body: %w", r.Service, err)
	}
	return buf, nil
}
