package ai

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider gives deterministic local replies when no API key is
// configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	base := strings.TrimSpace(req.UserText)
	if base == "" {
		base = "I am listening."
	}
	if len(req.History) == 0 {
		return fmt.Sprintf("You said: %s", base), nil
	}
	last := strings.TrimSpace(req.History[len(req.History)-1].Content)
	return fmt.Sprintf("You said: %s\nEarlier you got: %s", base, last), nil
}
