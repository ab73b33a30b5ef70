package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// tokenPayload is the JSON shape used for tokens stored as JSON documents.
type tokenPayload struct {
	Token string `json:"token"`
}

// Secret fetches a token parameter. Values stored as {"token":"..."} are
// unwrapped; any other value is used as the raw token.
func Secret(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("paramstore: getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", fmt.Errorf("paramstore: token %q is empty", name)
	}
	return raw, nil
}

// LazySecret resolves a token on first use and reuses it afterwards. Failed
// lookups are retried on the next call.
type LazySecret struct {
	getter Getter
	name   string

	mu    sync.Mutex
	value string
}

func NewLazySecret(getter Getter, name string) *LazySecret {
	return &LazySecret{getter: getter, name: name}
}

func (l *LazySecret) Resolve(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.value != "" {
		return l.value, nil
	}
	v, err := Secret(ctx, l.getter, l.name)
	if err != nil {
		return "", err
	}
	l.value = v
	return v, nil
}
