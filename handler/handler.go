package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"feedback-relay/internal/domain"
	"feedback-relay/internal/integrations/line"
	"feedback-relay/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	// maxConcurrentUsers bounds the goroutines started for one webhook body.
	maxConcurrentUsers = 8
)

type TurnHandler interface {
	HandleTurn(ctx context.Context, in domain.InboundTurn) (usecase.TurnResult, error)
}

type Handler struct {
	turns TurnHandler
}

type errorResponse struct {
	Error string `json:"error"`
}

var newUUID = func() string { return uuid.NewString() }

func NewHandler(turns TurnHandler) (*Handler, error) {
	if turns == nil {
		return nil, errors.New("handler: turn handler must not be nil")
	}
	return &Handler{turns: turns}, nil
}

// Handle is the AWS Lambda entry point for API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			slog.WarnContext(ctx, "Undecodable webhook body", "correlation_id", correlationID, "error", err)
			return errorResult(correlationID, http.StatusBadRequest, usecase.ErrorParse), nil
		}
		body = decoded
	}

	status, code := h.dispatch(ctx, correlationID, body)
	if code != "" {
		return errorResult(correlationID, status, code), nil
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "text/plain; charset=utf-8",
			correlationHeader: correlationID,
		},
		Body: "OK",
	}, nil
}

// App returns the webhook server used outside Lambda.
func (h *Handler) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "feedback-relay",
		DisableStartupMessage: true,
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("OK")
	})
	app.Post("/callback", h.callback)

	return app
}

func (h *Handler) callback(c *fiber.Ctx) error {
	correlationID := c.Get(correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	c.Set(correlationHeader, correlationID)

	status, code := h.dispatch(c.UserContext(), correlationID, c.Body())
	if code != "" {
		return c.Status(status).JSON(errorResponse{Error: string(code)})
	}
	return c.Status(status).SendString("OK")
}

// dispatch parses one webhook body and runs its turns. Turns of one user run
// one after another in body order; different users run concurrently. A
// malformed turn is logged and skipped; only a malformed body fails the
// request.
func (h *Handler) dispatch(ctx context.Context, correlationID string, body []byte) (int, usecase.ErrorCode) {
	logger := slog.With("correlation_id", correlationID)

	turns, err := line.ParseWebhook(body)
	if err != nil {
		logger.WarnContext(ctx, "Malformed webhook body", "error", err)
		return http.StatusBadRequest, usecase.ErrorParse
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentUsers)
	for _, queue := range groupByUser(turns) {
		g.Go(func() error {
			for _, in := range queue {
				if _, err := h.turns.HandleTurn(ctx, in); err != nil {
					logger.WarnContext(ctx, "Turn rejected", "user_id", in.UserID, "error", err)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return http.StatusOK, ""
}

// groupByUser splits turns into per-user queues. Queues are ordered by the
// user's first turn and keep body order within a user.
func groupByUser(turns []domain.InboundTurn) [][]domain.InboundTurn {
	index := make(map[string]int, len(turns))
	var queues [][]domain.InboundTurn
	for _, in := range turns {
		i, ok := index[in.UserID]
		if !ok {
			i = len(queues)
			index[in.UserID] = i
			queues = append(queues, nil)
		}
		queues[i] = append(queues[i], in)
	}
	return queues
}

func errorResult(correlationID string, status int, code usecase.ErrorCode) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(errorResponse{Error: string(code)})
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(body),
	}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
