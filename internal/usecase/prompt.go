package usecase

import (
	"fmt"
	"strings"

	"feedback-relay/internal/domain"
)

func buildFeedbackPrompt(c domain.Classification) string {
	switch c.Type {
	case domain.TurnReason:
		return buildReasonPrompt(c.Question, c.Answer)
	default:
		return buildTextPrompt(c.Question, c.Answer)
	}
}

func buildTextPrompt(question, answer string) string {
	return strings.Join([]string{
		"A user answered a survey question in their own words.",
		"",
		"Question:",
		normalizePromptInput(question),
		"",
		"Answer:",
		normalizePromptInput(answer),
		"",
		"Give short, friendly feedback on the answer in two or three sentences.",
	}, "\n")
}

func buildReasonPrompt(question, reason string) string {
	return fmt.Sprintf(
		"A user picked a choice for the question below and was asked why they chose what they chose.\n\n"+
			"Question:\n%s\n\nTheir reason:\n%s\n\n"+
			"Acknowledge the reason and give short, empathetic feedback in two or three sentences.",
		normalizePromptInput(question),
		normalizePromptInput(reason),
	)
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
