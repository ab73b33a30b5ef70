package domain

// Mode is the conversational mode of a single user.
type Mode string

const (
	ModeNormal         Mode = "normal"
	ModeAwaitingReason Mode = "awaiting_reason"
)

// ConversationState is the per-user state owned by the state store.
// LastQuestion is set if and only if Mode is ModeAwaitingReason.
type ConversationState struct {
	UserID       string
	Mode         Mode
	LastQuestion string
}

// NewConversationState returns the implicit state of a user that has not
// been seen before.
func NewConversationState(userID string) ConversationState {
	return ConversationState{UserID: userID, Mode: ModeNormal}
}

// AwaitingReason reports whether the next message from the user is expected
// to be the reason for their previous choice.
func (s ConversationState) AwaitingReason() bool {
	return s.Mode == ModeAwaitingReason
}

// AwaitReason moves the state into ModeAwaitingReason for the given question.
func (s ConversationState) AwaitReason(question string) ConversationState {
	return ConversationState{UserID: s.UserID, Mode: ModeAwaitingReason, LastQuestion: question}
}

// Reset moves the state back to ModeNormal and drops the pending question.
func (s ConversationState) Reset() ConversationState {
	return NewConversationState(s.UserID)
}

// Normalize repairs states read from storage so that the Mode/LastQuestion
// invariant holds. Unknown modes and awaiting states without a question
// collapse to ModeNormal.
func (s ConversationState) Normalize() ConversationState {
	if s.Mode == ModeAwaitingReason && s.LastQuestion != "" {
		return s
	}
	return s.Reset()
}

// InboundTurn is one incoming message event.
type InboundTurn struct {
	UserID      string
	RawText     string
	ReplyHandle string
}
