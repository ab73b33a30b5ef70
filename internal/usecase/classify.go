package usecase

import (
	"strconv"
	"strings"

	"feedback-relay/internal/domain"
)

// Classify decides the semantic role of rawText given the user's current
// state. A pending reason request always wins; otherwise a numeral within
// [1, choiceCount] is a selection and anything else is free text.
func Classify(state domain.ConversationState, currentQuestion, rawText string, choiceCount int) domain.Classification {
	if state.AwaitingReason() {
		return domain.Classification{
			Type:     domain.TurnReason,
			Question: state.LastQuestion,
			Answer:   rawText,
		}
	}

	turnType := domain.TurnText
	if n, ok := parseChoice(rawText); ok && inChoiceRange(n, choiceCount) {
		turnType = domain.TurnSelect
	}
	return domain.Classification{
		Type:     turnType,
		Question: currentQuestion,
		Answer:   rawText,
	}
}

func parseChoice(raw string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return n, true
}

func inChoiceRange(n, choiceCount int) bool {
	return n >= 1 && n <= choiceCount
}
