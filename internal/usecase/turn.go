package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedback-relay/internal/domain"
)

const (
	defaultChoiceCount = 3
	defaultTimeout     = 10 * time.Second
)

type FeedbackGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type FeedbackStore interface {
	Record(ctx context.Context, rec domain.OutboundRecord) (domain.StoreResponse, error)
}

type ReplyDeliverer interface {
	Deliver(ctx context.Context, replyHandle string, messages []string) error
}

// StateStore owns every ConversationState. Get reports false when the user
// has no stored state yet.
type StateStore interface {
	Get(ctx context.Context, userID string) (domain.ConversationState, bool, error)
	Set(ctx context.Context, state domain.ConversationState) error
}

type Options struct {
	// Question is the current question attached to non-reason turns.
	Question    string
	ChoiceCount int
	// Timeout bounds each call to the generator, the remote store and the
	// reply deliverer.
	Timeout time.Duration
	Texts   Texts
}

type TurnService struct {
	generator FeedbackGenerator
	store     FeedbackStore
	replier   ReplyDeliverer
	states    StateStore

	question    string
	choiceCount int
	timeout     time.Duration
	texts       Texts

	locks userLocks
}

type TurnResult struct {
	TurnID         string
	Classification domain.Classification
	// State is the state committed at the end of the turn.
	State domain.ConversationState
	// Elicited is true when the turn moved the user into AwaitingReason.
	Elicited bool
	Messages []string
	// Recovered lists collaborator failures that degraded the turn.
	Recovered []*Error
}

func NewTurnService(g FeedbackGenerator, fs FeedbackStore, r ReplyDeliverer, s StateStore, opts Options) (*TurnService, error) {
	if g == nil {
		return nil, errors.New("usecase: feedback generator must not be nil")
	}
	if fs == nil {
		return nil, errors.New("usecase: feedback store must not be nil")
	}
	if r == nil {
		return nil, errors.New("usecase: reply deliverer must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	question := strings.TrimSpace(opts.Question)
	if question == "" {
		return nil, errors.New("usecase: question must not be empty")
	}
	if opts.ChoiceCount <= 0 {
		opts.ChoiceCount = defaultChoiceCount
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &TurnService{
		generator:   g,
		store:       fs,
		replier:     r,
		states:      s,
		question:    question,
		choiceCount: opts.ChoiceCount,
		timeout:     opts.Timeout,
		texts:       opts.Texts.withDefaults(),
	}, nil
}

// HandleTurn runs one inbound message through the conversation state machine
// and delivers the replies. Only a malformed turn returns an error; every
// collaborator failure is recovered and reported in TurnResult.Recovered.
func (s *TurnService) HandleTurn(ctx context.Context, in domain.InboundTurn) (TurnResult, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return TurnResult{}, newError(ErrorParse, "empty_user_id", nil)
	}
	replyHandle := strings.TrimSpace(in.ReplyHandle)
	if replyHandle == "" {
		return TurnResult{}, newError(ErrorParse, "empty_reply_handle", nil)
	}

	res := TurnResult{TurnID: newUUID()}
	logger := slog.With("turn_id", res.TurnID, "user_id", userID)

	feedback, elicited, perr := s.advance(ctx, userID, in.RawText, &res)
	if perr != nil {
		return TurnResult{}, perr
	}
	res.Elicited = elicited
	res.Messages = ComposeReplies(s.texts, feedback, elicited)

	deliverCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.replier.Deliver(deliverCtx, replyHandle, res.Messages); err != nil {
		res.Recovered = append(res.Recovered, newError(ErrorDelivery, "reply_failed", err))
	}

	for _, e := range res.Recovered {
		logger.WarnContext(ctx, "Turn degraded", "code", e.Code, "reason", e.Reason, "error", e.Err)
	}
	logger.InfoContext(ctx, "Processed turn",
		"type", res.Classification.Type,
		"mode", res.State.Mode,
		"elicited", res.Elicited,
		"messages", len(res.Messages),
	)

	return res, nil
}

// advance runs steps that read and mutate the user's state under the user's
// lock and returns the primary feedback together with the transition flag.
// Blank text is a parse error unless the user owes a reason, in which case
// any content is the reason.
func (s *TurnService) advance(ctx context.Context, userID, rawText string, res *TurnResult) (Feedback, bool, *Error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	state, err := s.loadState(ctx, userID)
	if err != nil {
		res.Recovered = append(res.Recovered, newError(ErrorState, "state_read_error", err))
	}
	if strings.TrimSpace(rawText) == "" && !state.AwaitingReason() {
		return Feedback{}, false, newError(ErrorParse, "empty_text", nil)
	}

	c := Classify(state, s.question, rawText, s.choiceCount)
	res.Classification = c

	feedback := Feedback{Text: s.texts.SelectPlaceholder}
	if c.Type != domain.TurnSelect {
		text, err := s.generate(ctx, buildFeedbackPrompt(c))
		if err != nil {
			res.Recovered = append(res.Recovered, newError(ErrorGeneration, "generation_failed", err))
			text = s.texts.GenerationFallback
		}
		feedback.Text = text
	}

	resp, err := s.record(ctx, domain.OutboundRecord{
		UserID:   userID,
		Question: c.Question,
		Answer:   c.Answer,
		Type:     c.Type,
	})
	storeOK := err == nil
	if storeOK {
		if fb := strings.TrimSpace(resp.Feedback); fb != "" {
			feedback.Text = fb
		}
	} else {
		res.Recovered = append(res.Recovered, asStoreError(err))
		feedback = Feedback{Text: s.texts.StoreFallback, Fallback: true}
	}

	next, elicited := s.transition(state, c, feedback, storeOK && resp.ElicitReason)

	if err := s.states.Set(ctx, next); err != nil {
		res.Recovered = append(res.Recovered, newError(ErrorState, "state_write_error", err))
	}
	res.State = next

	return feedback, elicited, nil
}

func (s *TurnService) loadState(ctx context.Context, userID string) (domain.ConversationState, error) {
	state, ok, err := s.states.Get(ctx, userID)
	if err != nil {
		return domain.NewConversationState(userID), err
	}
	if !ok {
		return domain.NewConversationState(userID), nil
	}
	state.UserID = userID
	return state.Normalize(), nil
}

func (s *TurnService) transition(state domain.ConversationState, c domain.Classification, feedback Feedback, elicitFlag bool) (domain.ConversationState, bool) {
	switch c.Type {
	case domain.TurnReason:
		return state.Reset(), false
	case domain.TurnSelect:
		if feedback.Fallback {
			return state, false
		}
		if elicitFlag || strings.Contains(feedback.Text, s.texts.ElicitationMarker) {
			return state.AwaitReason(c.Question), true
		}
	}
	return state, false
}

func (s *TurnService) generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("usecase: generator returned empty feedback")
	}
	return text, nil
}

func (s *TurnService) record(ctx context.Context, rec domain.OutboundRecord) (domain.StoreResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.store.Record(ctx, rec)
	if err != nil {
		return domain.StoreResponse{}, newError(ErrorStore, "store_transport_error", err)
	}
	if !resp.OK() {
		return resp, newError(ErrorStore, "store_error_status", &StoreStatusError{Status: resp.Status, Message: resp.Message})
	}
	return resp, nil
}

// StoreStatusError reports a remote store response whose status is not success.
type StoreStatusError struct {
	Status  string
	Message string
}

func (e *StoreStatusError) Error() string {
	if e.Message == "" {
		return "remote store returned status " + e.Status
	}
	return "remote store returned status " + e.Status + ": " + e.Message
}

func asStoreError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return newError(ErrorStore, "store_transport_error", err)
}

var newUUID = func() string {
	return uuid.NewString()
}
