package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedback-relay/internal/domain"
)

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.text, g.err
}

type fakeStore struct {
	mu      sync.Mutex
	resp    domain.StoreResponse
	err     error
	delay   time.Duration
	records []domain.OutboundRecord
}

func (f *fakeStore) Record(ctx context.Context, rec domain.OutboundRecord) (domain.StoreResponse, error) {
	f.mu.Lock()
	f.records = append(f.records, rec)
	resp, err, delay := f.resp, f.err, f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.StoreResponse{}, ctx.Err()
		}
	}
	return resp, err
}

// onceReplier accepts exactly one delivery per reply handle.
type onceReplier struct {
	mu        sync.Mutex
	delivered map[string][]string
	rejected  int
	err       error
}

func (r *onceReplier) Deliver(_ context.Context, handle string, messages []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.delivered == nil {
		r.delivered = make(map[string][]string)
	}
	if _, ok := r.delivered[handle]; ok {
		r.rejected++
		return fmt.Errorf("reply handle %s already consumed", handle)
	}
	r.delivered[handle] = messages
	return nil
}

type fakeStates struct {
	mu     sync.Mutex
	states map[string]domain.ConversationState
	sets   int
	getErr error
	setErr error
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: make(map[string]domain.ConversationState)}
}

func (f *fakeStates) Get(_ context.Context, userID string) (domain.ConversationState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.ConversationState{}, false, f.getErr
	}
	s, ok := f.states[userID]
	return s, ok, nil
}

func (f *fakeStates) Set(_ context.Context, s domain.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.states[s.UserID] = s
	return nil
}

func (f *fakeStates) get(userID string) domain.ConversationState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[userID]
}

type harness struct {
	gen     *fakeGenerator
	store   *fakeStore
	replier *onceReplier
	states  *fakeStates
	svc     *TurnService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gen:     &fakeGenerator{text: "Generated feedback."},
		store:   &fakeStore{resp: domain.StoreResponse{Status: domain.StoreStatusSuccess}},
		replier: &onceReplier{},
		states:  newFakeStates(),
	}
	svc, err := NewTurnService(h.gen, h.store, h.replier, h.states, Options{
		Question:    "Q1",
		ChoiceCount: 3,
		Timeout:     time.Second,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func markedFeedback() string {
	return "Good pick. " + DefaultTexts().ElicitationMarker
}

func turn(user, text, handle string) domain.InboundTurn {
	return domain.InboundTurn{UserID: user, RawText: text, ReplyHandle: handle}
}

func expectCode(t *testing.T, errs []*Error, code ErrorCode) {
	t.Helper()
	for _, e := range errs {
		if e.Code == code {
			return
		}
	}
	require.Failf(t, "missing recovered error", "want %s in %v", code, errs)
}

func TestNewTurnService_ValidatesDependencies(t *testing.T) {
	g, fs, r, s := &fakeGenerator{}, &fakeStore{}, &onceReplier{}, newFakeStates()
	opts := Options{Question: "Q1"}

	_, err := NewTurnService(nil, fs, r, s, opts)
	require.Error(t, err)
	_, err = NewTurnService(g, nil, r, s, opts)
	require.Error(t, err)
	_, err = NewTurnService(g, fs, nil, s, opts)
	require.Error(t, err)
	_, err = NewTurnService(g, fs, r, nil, opts)
	require.Error(t, err)
	_, err = NewTurnService(g, fs, r, s, Options{Question: " "})
	require.Error(t, err)

	svc, err := NewTurnService(g, fs, r, s, opts)
	require.NoError(t, err)
	require.Equal(t, defaultChoiceCount, svc.choiceCount)
	require.Equal(t, defaultTimeout, svc.timeout)
}

func TestHandleTurn_ParseErrors(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		in     domain.InboundTurn
		reason string
	}{
		{turn("", "hi", "r1"), "empty_user_id"},
		{turn("u1", "hi", " "), "empty_reply_handle"},
		{turn("u1", "  ", "r1"), "empty_text"},
	}
	for _, tc := range cases {
		_, err := h.svc.HandleTurn(context.Background(), tc.in)
		var ue *Error
		require.ErrorAs(t, err, &ue)
		require.Equal(t, ErrorParse, ue.Code)
		require.Equal(t, tc.reason, ue.Reason)
	}
	require.Empty(t, h.replier.delivered)
	require.Zero(t, h.states.sets)
}

func TestHandleTurn_TextTurnGeneratesFeedback(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "I liked it", "r1"))
	require.NoError(t, err)
	require.Equal(t, domain.TurnText, res.Classification.Type)
	require.Equal(t, []string{"Feedback: Generated feedback."}, res.Messages)
	require.Equal(t, res.Messages, h.replier.delivered["r1"])
	require.Equal(t, domain.ModeNormal, h.states.get("u1").Mode)
	require.Empty(t, res.Recovered)
	require.NotEmpty(t, res.TurnID)

	require.Len(t, h.store.records, 1)
	require.Equal(t, domain.OutboundRecord{UserID: "u1", Question: "Q1", Answer: "I liked it", Type: domain.TurnText}, h.store.records[0])
	require.Len(t, h.gen.prompts, 1)
	require.Contains(t, h.gen.prompts[0], "I liked it")
}

func TestHandleTurn_StoreFeedbackSupersedesGenerated(t *testing.T) {
	h := newHarness(t)
	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess, Feedback: "From the sheet."}

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "free text", "r1"))
	require.NoError(t, err)
	require.Equal(t, []string{"Feedback: From the sheet."}, res.Messages)
}

func TestHandleTurn_SelectWithoutMarkerStaysNormal(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "2", "r1"))
	require.NoError(t, err)
	require.Equal(t, domain.TurnSelect, res.Classification.Type)
	require.Equal(t, "2", res.Classification.Answer)
	require.Empty(t, h.gen.prompts, "select turns must not call the generator")
	require.Equal(t, []string{"Feedback: " + DefaultTexts().SelectPlaceholder}, res.Messages)
	require.False(t, res.Elicited)
	require.Equal(t, domain.NewConversationState("u1"), h.states.get("u1"))
}

func TestHandleTurn_SelectWithMarkerAwaitsReason(t *testing.T) {
	h := newHarness(t)
	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess, Feedback: markedFeedback()}

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "3", "r1"))
	require.NoError(t, err)
	require.True(t, res.Elicited)
	require.Len(t, res.Messages, 2)
	require.Equal(t, "Feedback: "+markedFeedback(), res.Messages[0])
	require.Equal(t, DefaultTexts().ReasonPrompt, res.Messages[1])

	state := h.states.get("u1")
	require.Equal(t, domain.ModeAwaitingReason, state.Mode)
	require.Equal(t, "Q1", state.LastQuestion)
}

func TestHandleTurn_SelectWithElicitFlagAwaitsReason(t *testing.T) {
	h := newHarness(t)
	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess, Feedback: "Thanks.", ElicitReason: true}

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "1", "r1"))
	require.NoError(t, err)
	require.True(t, res.Elicited)
	require.Equal(t, domain.ModeAwaitingReason, h.states.get("u1").Mode)
}

func TestHandleTurn_MarkerMustMatchExactly(t *testing.T) {
	h := newHarness(t)
	marker := DefaultTexts().ElicitationMarker
	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess, Feedback: strings.TrimSuffix(marker, ".") + "!"}

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "1", "r1"))
	require.NoError(t, err)
	require.False(t, res.Elicited)
	require.Len(t, res.Messages, 1)
	require.Equal(t, domain.ModeNormal, h.states.get("u1").Mode)
}

func TestHandleTurn_TextWithMarkerDoesNotTransition(t *testing.T) {
	h := newHarness(t)
	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess, Feedback: markedFeedback()}

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "not a number", "r1"))
	require.NoError(t, err)
	require.False(t, res.Elicited)
	require.Len(t, res.Messages, 1)
	require.Equal(t, domain.ModeNormal, h.states.get("u1").Mode)
}

func TestHandleTurn_ReasonTurnResetsState(t *testing.T) {
	h := newHarness(t)
	h.states.states["u1"] = domain.NewConversationState("u1").AwaitReason("Q1")

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "I felt tired", "r1"))
	require.NoError(t, err)
	require.Equal(t, domain.Classification{Type: domain.TurnReason, Question: "Q1", Answer: "I felt tired"}, res.Classification)
	require.Equal(t, domain.NewConversationState("u1"), h.states.get("u1"))

	require.Len(t, h.gen.prompts, 1)
	require.Contains(t, h.gen.prompts[0], "why they chose what they chose")
	require.Contains(t, h.gen.prompts[0], "I felt tired")
	require.Equal(t, domain.TurnReason, h.store.records[0].Type)
	require.Equal(t, "Q1", h.store.records[0].Question)
}

func TestHandleTurn_BlankTextWhileAwaitingReasonIsReason(t *testing.T) {
	h := newHarness(t)
	h.states.states["u1"] = domain.NewConversationState("u1").AwaitReason("Q1")

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "   ", "r1"))
	require.NoError(t, err)
	require.Equal(t, domain.Classification{Type: domain.TurnReason, Question: "Q1", Answer: "   "}, res.Classification)
	require.Equal(t, domain.NewConversationState("u1"), h.states.get("u1"))
	require.Equal(t, domain.TurnReason, h.store.records[0].Type)
	require.NotEmpty(t, h.replier.delivered["r1"])
}

func TestHandleTurn_BlankTextInNormalModeIsRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.HandleTurn(context.Background(), turn("u1", " \n ", "r1"))
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, ErrorParse, ue.Code)
	require.Equal(t, "empty_text", ue.Reason)
	require.Empty(t, h.store.records)
	require.Empty(t, h.gen.prompts)
	require.Zero(t, h.states.sets)
	require.Equal(t, 0, h.svc.locks.size())
}

func TestHandleTurn_NumeralWhileAwaitingReasonIsReason(t *testing.T) {
	h := newHarness(t)
	h.states.states["u1"] = domain.NewConversationState("u1").AwaitReason("Q1")
	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess, Feedback: markedFeedback()}

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "2", "r1"))
	require.NoError(t, err)
	require.Equal(t, domain.TurnReason, res.Classification.Type)
	require.False(t, res.Elicited)
	require.Equal(t, domain.ModeNormal, h.states.get("u1").Mode)
}

func TestHandleTurn_GenerationFailureUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.gen.err = errors.New("provider down")

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "hello", "r1"))
	require.NoError(t, err)
	require.Equal(t, []string{"Feedback: " + DefaultTexts().GenerationFallback}, res.Messages)
	expectCode(t, res.Recovered, ErrorGeneration)
	require.Len(t, h.store.records, 1, "generation failure must not stop the store call")
}

func TestHandleTurn_EmptyGenerationUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.gen.text = "   "

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "hello", "r1"))
	require.NoError(t, err)
	require.Equal(t, []string{"Feedback: " + DefaultTexts().GenerationFallback}, res.Messages)
	expectCode(t, res.Recovered, ErrorGeneration)
}

func TestHandleTurn_StoreTransportFailureUsesFallback(t *testing.T) {
	for _, text := range []string{"hello", "2"} {
		h := newHarness(t)
		h.store.err = errors.New("connection refused")

		res, err := h.svc.HandleTurn(context.Background(), turn("u1", text, "r1"))
		require.NoError(t, err)
		require.Equal(t, []string{DefaultTexts().StoreFallback}, res.Messages)
		require.Equal(t, res.Messages, h.replier.delivered["r1"])
		expectCode(t, res.Recovered, ErrorStore)
		require.Equal(t, domain.ModeNormal, h.states.get("u1").Mode)
	}
}

func TestHandleTurn_StoreErrorStatusSuppressesTransition(t *testing.T) {
	h := newHarness(t)
	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusError, Feedback: markedFeedback(), Message: "sheet locked"}

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "2", "r1"))
	require.NoError(t, err)
	require.False(t, res.Elicited)
	require.Equal(t, []string{DefaultTexts().StoreFallback}, res.Messages)
	require.Equal(t, domain.ModeNormal, h.states.get("u1").Mode)

	var statusErr *StoreStatusError
	require.Len(t, res.Recovered, 1)
	require.ErrorAs(t, res.Recovered[0], &statusErr)
	require.Equal(t, "sheet locked", statusErr.Message)
}

func TestHandleTurn_StoreTimeoutIsTransportFailure(t *testing.T) {
	h := newHarness(t)
	h.svc.timeout = 20 * time.Millisecond
	h.store.delay = time.Second

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "2", "r1"))
	require.NoError(t, err)
	require.Equal(t, []string{DefaultTexts().StoreFallback}, res.Messages)
	expectCode(t, res.Recovered, ErrorStore)
}

func TestHandleTurn_StoreFailureStillResetsReason(t *testing.T) {
	h := newHarness(t)
	h.states.states["u1"] = domain.NewConversationState("u1").AwaitReason("Q1")
	h.store.err = errors.New("timeout")

	_, err := h.svc.HandleTurn(context.Background(), turn("u1", "because", "r1"))
	require.NoError(t, err)
	require.Equal(t, domain.NewConversationState("u1"), h.states.get("u1"))
}

func TestHandleTurn_DeliveryFailureIsRecovered(t *testing.T) {
	h := newHarness(t)
	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess, Feedback: markedFeedback()}
	h.replier.err = errors.New("reply token expired")

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "1", "r1"))
	require.NoError(t, err)
	expectCode(t, res.Recovered, ErrorDelivery)
	require.Equal(t, domain.ModeAwaitingReason, h.states.get("u1").Mode, "state is committed before delivery")
}

func TestHandleTurn_ReplayedHandleIsNotRedelivered(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.HandleTurn(context.Background(), turn("u1", "hello", "r1"))
	require.NoError(t, err)
	first := h.replier.delivered["r1"]

	h.gen.text = "Different feedback."
	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "hello again", "r1"))
	require.NoError(t, err)
	expectCode(t, res.Recovered, ErrorDelivery)
	require.Equal(t, 1, h.replier.rejected)
	require.Equal(t, first, h.replier.delivered["r1"])
}

func TestHandleTurn_StateReadFailureDefaultsToNormal(t *testing.T) {
	h := newHarness(t)
	h.states.getErr = errors.New("table missing")

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "hello", "r1"))
	require.NoError(t, err)
	require.Equal(t, domain.TurnText, res.Classification.Type)
	expectCode(t, res.Recovered, ErrorState)
	require.Len(t, h.replier.delivered["r1"], 1)
}

func TestHandleTurn_StateWriteFailureStillReplies(t *testing.T) {
	h := newHarness(t)
	h.states.setErr = errors.New("throttled")

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "hello", "r1"))
	require.NoError(t, err)
	expectCode(t, res.Recovered, ErrorState)
	require.Len(t, h.replier.delivered["r1"], 1)
}

func TestHandleTurn_NormalizesInconsistentStoredState(t *testing.T) {
	h := newHarness(t)
	h.states.states["u1"] = domain.ConversationState{UserID: "u1", Mode: domain.ModeAwaitingReason}

	res, err := h.svc.HandleTurn(context.Background(), turn("u1", "2", "r1"))
	require.NoError(t, err)
	require.Equal(t, domain.TurnSelect, res.Classification.Type)
}

func TestHandleTurn_FullConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.HandleTurn(ctx, turn("u1", "hello", "r1"))
	require.NoError(t, err)
	require.Equal(t, domain.ModeNormal, h.states.get("u1").Mode)

	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess, Feedback: markedFeedback()}
	res, err := h.svc.HandleTurn(ctx, turn("u1", "2", "r2"))
	require.NoError(t, err)
	require.Len(t, res.Messages, 2)
	require.Equal(t, domain.ModeAwaitingReason, h.states.get("u1").Mode)

	h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess}
	res, err = h.svc.HandleTurn(ctx, turn("u1", "I felt tired", "r3"))
	require.NoError(t, err)
	require.Equal(t, domain.TurnReason, res.Classification.Type)
	require.Len(t, res.Messages, 1)
	require.Equal(t, domain.NewConversationState("u1"), h.states.get("u1"))
}

func TestHandleTurn_ConcurrentSameUserTurnsDoNotCorruptState(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t)
		h.store.resp = domain.StoreResponse{Status: domain.StoreStatusSuccess, Feedback: markedFeedback()}

		var (
			wg              sync.WaitGroup
			selectRes, text TurnResult
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			selectRes, _ = h.svc.HandleTurn(context.Background(), turn("u1", "2", "r-select"))
		}()
		go func() {
			defer wg.Done()
			text, _ = h.svc.HandleTurn(context.Background(), turn("u1", "hello", "r-text"))
		}()
		wg.Wait()

		final := h.states.get("u1")
		require.Equal(t, 2, h.states.sets)
		switch final.Mode {
		case domain.ModeAwaitingReason:
			// text turn ran first, select committed last
			require.Equal(t, "Q1", final.LastQuestion)
			require.Equal(t, domain.TurnText, text.Classification.Type)
			require.True(t, selectRes.Elicited)
		case domain.ModeNormal:
			// select ran first, so the text turn was consumed as the reason
			require.Empty(t, final.LastQuestion)
			require.Equal(t, domain.TurnReason, text.Classification.Type)
		default:
			require.Failf(t, "unexpected mode", "%q", final.Mode)
		}
		require.Zero(t, h.svc.locks.size())
	}
}

func TestHandleTurn_DifferentUsersRunConcurrently(t *testing.T) {
	h := newHarness(t)
	h.store.delay = 50 * time.Millisecond

	start := time.Now()
	errs := make(chan error, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.HandleTurn(context.Background(), turn(fmt.Sprintf("u%d", i), "hello", fmt.Sprintf("r%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Less(t, time.Since(start), 400*time.Millisecond)
	require.Len(t, h.replier.delivered, 10)
	require.Zero(t, h.svc.locks.size())
}
