package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"feedback-relay/internal/domain"
)

const (
	DefaultModel        = "gpt-3.5-turbo"
	DefaultSystemPrompt = "あなたは親しみやすく自然な受け答えをするアシスタントです。"
)

type chatter interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Generator turns a single prompt into feedback text using one system
// message and one user message.
type Generator struct {
	chat         chatter
	model        string
	systemPrompt string
}

func NewGenerator(chat chatter, model, systemPrompt string) (*Generator, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	systemPrompt = strings.TrimSpace(systemPrompt)
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Generator{chat: chat, model: model, systemPrompt: systemPrompt}, nil
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("openai: prompt must not be empty")
	}
	out, err := g.chat.Chat(ctx, g.model, []domain.ChatMessage{
		{Role: "system", Content: g.systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("openai: model %s returned empty content", g.model)
	}
	return out, nil
}
