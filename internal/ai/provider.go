package ai

import (
	"context"
	"fmt"

	"github.com/mxlin/wxrelay/internal/convo"
)

// Request is the normalized completion request. History holds only stored
// turns; the system prompt and the not-yet-recorded user message are carried
// separately so they are never counted against the history bound and never
// stored twice.
type Request struct {
	SystemPrompt string
	History      []convo.Turn
	UserText     string
}

// Provider produces one assistant reply for a request.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// ProviderError reports a non-success status from the upstream API. Anything
// else (network failure, canceled context) surfaces as a plain wrapped error.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s upstream status %d: %s", e.Provider, e.Status, e.Message)
}
