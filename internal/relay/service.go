package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mxlin/wxrelay/internal/ai"
	"github.com/mxlin/wxrelay/internal/convo"
	"github.com/mxlin/wxrelay/internal/observability"
	"github.com/mxlin/wxrelay/internal/tail"
)

// Cache is the conversation-context surface the relay needs.
type Cache interface {
	LoadContext(ctx context.Context, userID string) []convo.Turn
	RecordTurn(userID, userText, assistantText string) *convo.SyncHandle
	Size() int
}

// Service runs one inbound message through context load, completion and
// context record. Provider failures never abort the interaction: they become
// a diagnostic reply, and that reply is recorded as the assistant turn so
// later context matches what the user actually saw.
type Service struct {
	cache        Cache
	provider     ai.Provider
	systemPrompt string
	metrics      *observability.Metrics
	tail         *tail.Broadcaster
	now          func() time.Time
}

func NewService(cache Cache, provider ai.Provider, systemPrompt string, metrics *observability.Metrics, broadcaster *tail.Broadcaster) *Service {
	return &Service{
		cache:        cache,
		provider:     provider,
		systemPrompt: systemPrompt,
		metrics:      metrics,
		tail:         broadcaster,
		now:          time.Now,
	}
}

// Reply produces the assistant reply for one user message. It always returns
// usable reply text; the error path is internal.
func (s *Service) Reply(ctx context.Context, userID, text string) string {
	if s.tail != nil {
		s.tail.Publish(userID, tail.DirectionIn, text)
	}

	history := s.cache.LoadContext(ctx, userID)

	started := s.now()
	reply, err := s.provider.Complete(ctx, ai.Request{
		SystemPrompt: s.systemPrompt,
		History:      history,
		UserText:     text,
	})
	if s.metrics != nil {
		s.metrics.ObserveCompletionLatency(s.now().Sub(started))
	}
	if err != nil {
		reply = s.fallbackReply(userID, err)
	}

	// Fire-and-forget; the background runner keeps the durable flush alive
	// after this reply has been sent.
	s.cache.RecordTurn(userID, text, reply)
	if s.metrics != nil {
		s.metrics.CacheEntries.Set(float64(s.cache.Size()))
	}

	if s.tail != nil {
		s.tail.Publish(userID, tail.DirectionOut, reply)
	}
	return reply
}

func (s *Service) fallbackReply(userID string, err error) string {
	log.Printf("relay: completion for %s failed: %v", userID, err)

	var provErr *ai.ProviderError
	if errors.As(err, &provErr) {
		if s.metrics != nil {
			s.metrics.ObserveProviderError(provErr.Provider, provErr.Status)
		}
		return fmt.Sprintf("The assistant is temporarily unavailable (upstream status %d). Please try again in a moment.", provErr.Status)
	}

	if s.metrics != nil {
		s.metrics.ObserveProviderError(s.provider.Name(), 0)
	}
	return "The assistant could not be reached. Please try again in a moment."
}
