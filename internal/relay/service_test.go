package relay

import (
	"context"
	"strings"
	"testing"

	"github.com/mxlin/wxrelay/internal/ai"
	"github.com/mxlin/wxrelay/internal/convo"
	"github.com/mxlin/wxrelay/internal/tail"
)

type fakeCache struct {
	history  []convo.Turn
	loaded   int
	recorded [][2]string
}

func (c *fakeCache) LoadContext(_ context.Context, _ string) []convo.Turn {
	c.loaded++
	return c.history
}

func (c *fakeCache) RecordTurn(_, userText, assistantText string) *convo.SyncHandle {
	c.recorded = append(c.recorded, [2]string{userText, assistantText})
	return nil
}

func (c *fakeCache) Size() int { return 1 }

type stubProvider struct {
	reply string
	err   error
	last  ai.Request
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Complete(_ context.Context, req ai.Request) (string, error) {
	p.last = req
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func TestReplyUsesStoredContext(t *testing.T) {
	cache := &fakeCache{history: []convo.Turn{
		{Role: convo.RoleUser, Content: "hi"},
		{Role: convo.RoleAssistant, Content: "hello"},
	}}
	provider := &stubProvider{reply: "doing well"}
	s := NewService(cache, provider, "be nice", nil, nil)

	got := s.Reply(context.Background(), "openid123", "how are you")
	if got != "doing well" {
		t.Fatalf("Reply() = %q, want %q", got, "doing well")
	}
	if cache.loaded != 1 {
		t.Fatalf("context loads = %d, want 1 (no durable re-read per request)", cache.loaded)
	}
	if provider.last.SystemPrompt != "be nice" {
		t.Fatalf("system prompt = %q", provider.last.SystemPrompt)
	}
	if len(provider.last.History) != 2 || provider.last.UserText != "how are you" {
		t.Fatalf("request shape = %+v", provider.last)
	}
	if len(cache.recorded) != 1 || cache.recorded[0] != [2]string{"how are you", "doing well"} {
		t.Fatalf("recorded = %+v", cache.recorded)
	}
}

func TestProviderErrorBecomesFallbackReply(t *testing.T) {
	cache := &fakeCache{}
	provider := &stubProvider{err: &ai.ProviderError{Provider: "stub", Status: 503, Message: "overloaded"}}
	s := NewService(cache, provider, "", nil, nil)

	got := s.Reply(context.Background(), "openid123", "hello")
	if !strings.Contains(got, "503") {
		t.Fatalf("fallback reply %q should carry the upstream status", got)
	}
	// The exchange is still recorded with the fallback as the assistant turn.
	if len(cache.recorded) != 1 || cache.recorded[0][1] != got {
		t.Fatalf("recorded = %+v, want fallback reply recorded", cache.recorded)
	}
}

func TestTransportErrorBecomesGenericFallback(t *testing.T) {
	cache := &fakeCache{}
	provider := &stubProvider{err: context.DeadlineExceeded}
	s := NewService(cache, provider, "", nil, nil)

	got := s.Reply(context.Background(), "openid123", "hello")
	if got == "" || strings.Contains(got, "status") {
		t.Fatalf("transport fallback = %q, want generic text", got)
	}
}

func TestReplyPublishesTailEvents(t *testing.T) {
	b := tail.NewBroadcaster(nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	s := NewService(&fakeCache{}, &stubProvider{reply: "ok"}, "", nil, b)
	s.Reply(context.Background(), "openid123", "ping")

	in := <-ch
	out := <-ch
	if in.Direction != tail.DirectionIn || in.Text != "ping" {
		t.Fatalf("inbound event = %+v", in)
	}
	if out.Direction != tail.DirectionOut || out.Text != "ok" {
		t.Fatalf("outbound event = %+v", out)
	}
}
