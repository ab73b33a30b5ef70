package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeGetter is a minimal Getter stub.
type fakeGetter struct {
	val    string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func TestSecret_JSONToken(t *testing.T) {
	key, err := Secret(context.Background(), &fakeGetter{val: `{"token":"sk-from-json"}`}, "/relay/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", key)
}

func TestSecret_RawToken(t *testing.T) {
	key, err := Secret(context.Background(), &fakeGetter{val: " sk-raw \n"}, "/relay/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-raw", key)
}

func TestSecret_JSONMissingTokenField(t *testing.T) {
	_, err := Secret(context.Background(), &fakeGetter{val: `{"other":"value"}`}, "/relay/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "is empty")
}

func TestSecret_MalformedJSON(t *testing.T) {
	_, err := Secret(context.Background(), &fakeGetter{val: `{"broken`}, "/relay/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unmarshal")
}

func TestSecret_GetterError(t *testing.T) {
	_, err := Secret(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/relay/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ssm unavailable")
}

func TestSecret_NilGetter(t *testing.T) {
	_, err := Secret(context.Background(), nil, "/relay/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestSecret_EmptyName(t *testing.T) {
	_, err := Secret(context.Background(), &fakeGetter{val: "x"}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

func TestLazySecret_FetchedOnce(t *testing.T) {
	calls := 0
	g := &fakeGetter{val: `{"token":"sk"}`}
	g.onCall = func() { calls++ }
	l := NewLazySecret(g, "/relay/open-ai-token")

	for i := 0; i < 3; i++ {
		v, err := l.Resolve(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk", v)
	}
	require.Equal(t, 1, calls)
}

func TestLazySecret_RetriesAfterFailure(t *testing.T) {
	g := &fakeGetter{err: errors.New("temporary ssm failure")}
	l := NewLazySecret(g, "/relay/open-ai-token")

	_, err := l.Resolve(context.Background())
	require.Error(t, err)

	g.err = nil
	g.val = "sk"
	v, err := l.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk", v)
}
