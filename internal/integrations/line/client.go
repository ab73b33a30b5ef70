package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elliotchance/pie/v2"

	"feedback-relay/internal/integrations/httpjson"
	"feedback-relay/internal/integrations/paramstore"
)

const (
	defaultBaseURL = "https://api.line.me"
	// MaxReplyMessages is the number of messages one reply token accepts.
	MaxReplyMessages = 5
)

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

// Client sends reply messages with a channel access token read from the
// parameter store.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      *paramstore.LazySecret
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(baseURL); v != "" {
			c.baseURL = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(ps paramstore.Getter, tokenParam string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("line: paramstore getter must not be nil")
	}
	tokenParam = strings.TrimSpace(tokenParam)
	if tokenParam == "" {
		return nil, errors.New("line: token parameter must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: httpjson.DefaultTimeout},
		token:      paramstore.NewLazySecret(ps, tokenParam),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: httpjson.DefaultTimeout}
	}
	return c, nil
}

func replyURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/v2/bot/message/reply"
}

// Deliver sends messages in order as one reply. Empty messages are dropped
// and anything past MaxReplyMessages is discarded.
func (c *Client) Deliver(ctx context.Context, replyToken string, messages []string) error {
	if strings.TrimSpace(replyToken) == "" {
		return errors.New("line: reply token must not be empty")
	}
	msgs := pie.Map(
		pie.Filter(messages, func(m string) bool { return strings.TrimSpace(m) != "" }),
		func(m string) textMessage { return textMessage{Type: "text", Text: m} },
	)
	if len(msgs) == 0 {
		return errors.New("line: nothing to deliver")
	}
	if len(msgs) > MaxReplyMessages {
		msgs = msgs[:MaxReplyMessages]
	}

	token, err := c.token.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("line: %w", err)
	}

	_, err = httpjson.Post(ctx, c.httpClient, httpjson.Request{
		Service: "line",
		URL:     replyURL(c.baseURL),
		Bearer:  token,
		Body:    replyRequest{ReplyToken: replyToken, Messages: msgs},
	})
	return err
}
