package paramstore

import (
	"context"
	"fmt"
	"strings"
)

// Static is a Getter backed by a fixed set of values. It lets deployments
// without SSM feed secrets from the environment through the same code path.
type Static map[string]string

func (s Static) GetParameter(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("paramstore: name is required")
	}
	v, ok := s[name]
	if !ok || v == "" {
		return "", fmt.Errorf("paramstore: parameter %q not set", name)
	}
	return v, nil
}
