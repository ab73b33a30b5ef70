package usecase

import (
	"strings"

	"github.com/elliotchance/pie/v2"
)

// Texts holds every fixed, user-visible string used by a turn.
type Texts struct {
	// Label prefixes the primary feedback message.
	Label string
	// SelectPlaceholder is the local feedback for a numeric choice.
	SelectPlaceholder string
	// GenerationFallback replaces feedback when generation fails.
	GenerationFallback string
	// StoreFallback replaces the whole primary message when the remote store fails.
	StoreFallback string
	// ReasonPrompt is the follow-up message asking the user for their reason.
	ReasonPrompt string
	// ElicitationMarker is matched as an exact substring of the feedback text.
	ElicitationMarker string
}

func DefaultTexts() Texts {
	return Texts{
		Label:              "Feedback: ",
		SelectPlaceholder:  "Thanks, your choice has been recorded.",
		GenerationFallback: "Sorry, feedback could not be generated right now.",
		StoreFallback:      "Integration failed. Please try again later.",
		ReasonPrompt:       "Could you tell us why you chose that answer? Please reply with your reason.",
		ElicitationMarker:  "Please tell us the reason for your choice.",
	}
}

func (t Texts) withDefaults() Texts {
	def := DefaultTexts()
	if t.Label == "" {
		t.Label = def.Label
	}
	if t.SelectPlaceholder == "" {
		t.SelectPlaceholder = def.SelectPlaceholder
	}
	if t.GenerationFallback == "" {
		t.GenerationFallback = def.GenerationFallback
	}
	if t.StoreFallback == "" {
		t.StoreFallback = def.StoreFallback
	}
	if t.ReasonPrompt == "" {
		t.ReasonPrompt = def.ReasonPrompt
	}
	if t.ElicitationMarker == "" {
		t.ElicitationMarker = def.ElicitationMarker
	}
	return t
}

// Feedback is the primary reply content of a turn. Fallback feedback is sent
// verbatim, without the label.
type Feedback struct {
	Text     string
	Fallback bool
}

// ComposeReplies builds the ordered outbound messages of a turn: the primary
// feedback first and, when the user has just been asked for a reason, the
// reason prompt second.
func ComposeReplies(t Texts, feedback Feedback, elicited bool) []string {
	primary := strings.TrimSpace(feedback.Text)
	if primary != "" && !feedback.Fallback {
		primary = t.Label + primary
	}

	messages := []string{primary}
	if elicited {
		messages = append(messages, t.ReasonPrompt)
	}

	return pie.Filter(messages, func(m string) bool {
		return strings.TrimSpace(m) != ""
	})
}
