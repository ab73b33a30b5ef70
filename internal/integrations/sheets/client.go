// Package sheets talks to the spreadsheet-backed log endpoint that records
// every answer and may return feedback for it.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"feedback-relay/internal/domain"
	"feedback-relay/internal/integrations/httpjson"
	"feedback-relay/internal/integrations/paramstore"
)

type Client struct {
	endpoint   string
	httpClient *http.Client
	token      *paramstore.LazySecret
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithToken sends the value of the given parameter as a bearer token.
func WithToken(ps paramstore.Getter, tokenParam string) Option {
	return func(c *Client) {
		if ps != nil && strings.TrimSpace(tokenParam) != "" {
			c.token = paramstore.NewLazySecret(ps, tokenParam)
		}
	}
}

func NewClient(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("sheets: endpoint must not be empty")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: httpjson.DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: httpjson.DefaultTimeout}
	}
	return c, nil
}

// Record posts one answer and returns the endpoint's structured reply. A
// reply with status "error" is returned as is; only transport and decoding
// problems are reported as errors.
func (c *Client) Record(ctx context.Context, rec domain.OutboundRecord) (domain.StoreResponse, error) {
	var token string
	if c.token != nil {
		var err error
		if token, err = c.token.Resolve(ctx); err != nil {
			return domain.StoreResponse{}, fmt.Errorf("sheets: %w", err)
		}
	}

	raw, err := httpjson.Post(ctx, c.httpClient, httpjson.Request{
		Service: "sheets",
		URL:     c.endpoint,
		Bearer:  token,
		Body:    rec,
	})
	if err != nil {
		return domain.StoreResponse{}, err
	}

	var out domain.StoreResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.StoreResponse{}, fmt.Errorf("sheets: decode response: %w", err)
	}
	out.Status = strings.ToLower(strings.TrimSpace(out.Status))
	return out, nil
}
