// Package line adapts the LINE Messaging API: it parses webhook bodies into
// inbound turns and delivers replies against single-use reply tokens.
package line

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/elliotchance/pie/v2"

	"feedback-relay/internal/domain"
)

type webhookBody struct {
	Destination string  `json:"destination"`
	Events      []event `json:"events"`
}

type event struct {
	Type       string  `json:"type"`
	ReplyToken string  `json:"replyToken"`
	Timestamp  int64   `json:"timestamp"`
	Source     source  `json:"source"`
	Message    message `json:"message"`
}

type source struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// ErrMalformedBody is returned when a webhook body is not valid JSON.
var ErrMalformedBody = errors.New("line: malformed webhook body")

// ParseWebhook extracts one turn per text message event. Events of any other
// kind (follow, postback, stickers, images) are skipped.
func ParseWebhook(body []byte) ([]domain.InboundTurn, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	texts := pie.Filter(wb.Events, func(e event) bool {
		return e.Type == "message" && e.Message.Type == "text"
	})
	return pie.Map(texts, func(e event) domain.InboundTurn {
		return domain.InboundTurn{
			UserID:      strings.TrimSpace(e.Source.UserID),
			RawText:     e.Message.Text,
			ReplyHandle: e.ReplyToken,
		}
	}), nil
}
