package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/mxlin/wxrelay/internal/convo"
)

func sampleRequest() Request {
	return Request{
		SystemPrompt: "You are a helpful assistant.",
		History: []convo.Turn{
			{Role: convo.RoleUser, Content: "hi"},
			{Role: convo.RoleAssistant, Content: "hello"},
		},
		UserText: "how are you",
	}
}

func TestOpenAIMessageShaping(t *testing.T) {
	msgs := openaiMessages(sampleRequest())
	if len(msgs) != 4 {
		t.Fatalf("message count = %d, want 4 (system + 2 history + new)", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Fatalf("msgs[0] is not a system message")
	}
	if msgs[1].OfUser == nil {
		t.Fatalf("msgs[1] is not a user message")
	}
	if msgs[2].OfAssistant == nil {
		t.Fatalf("msgs[2] is not an assistant message")
	}
	if msgs[3].OfUser == nil {
		t.Fatalf("msgs[3] is not a user message")
	}
}

func TestOpenAIMessageShapingNoSystemPrompt(t *testing.T) {
	req := sampleRequest()
	req.SystemPrompt = "  "
	msgs := openaiMessages(req)
	if len(msgs) != 3 {
		t.Fatalf("message count = %d, want 3", len(msgs))
	}
	if msgs[0].OfSystem != nil {
		t.Fatalf("blank system prompt should not produce a system message")
	}
}

func TestGeminiContentShaping(t *testing.T) {
	contents, cfg := geminiContents(sampleRequest())
	if len(contents) != 3 {
		t.Fatalf("content count = %d, want 3 (history + new message)", len(contents))
	}
	wantRoles := []genai.Role{genai.RoleUser, genai.RoleModel, genai.RoleUser}
	for i, want := range wantRoles {
		if genai.Role(contents[i].Role) != want {
			t.Fatalf("contents[%d].Role = %q, want %q", i, contents[i].Role, want)
		}
	}
	if cfg == nil || cfg.SystemInstruction == nil {
		t.Fatalf("system prompt should become a system instruction")
	}

	req := sampleRequest()
	req.SystemPrompt = ""
	_, cfg = geminiContents(req)
	if cfg != nil {
		t.Fatalf("empty system prompt should leave config nil")
	}
}

type scriptedProvider struct {
	replies []string
	errs    []error
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, _ Request) (string, error) {
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.replies) {
		return p.replies[i], nil
	}
	return "", errors.New("script exhausted")
}

func TestRetryOnRetryableStatus(t *testing.T) {
	inner := &scriptedProvider{
		errs:    []error{&ProviderError{Provider: "scripted", Status: 503, Message: "overloaded"}, nil},
		replies: []string{"", "recovered"},
	}
	p := &retryProvider{inner: inner, base: time.Millisecond, sleep: func(time.Duration) {}}

	reply, err := p.Complete(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "recovered" {
		t.Fatalf("reply = %q, want %q", reply, "recovered")
	}
	if inner.calls != 2 {
		t.Fatalf("upstream calls = %d, want 2", inner.calls)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	inner := &scriptedProvider{
		errs: []error{&ProviderError{Provider: "scripted", Status: 401, Message: "bad key"}},
	}
	p := &retryProvider{inner: inner, base: time.Millisecond, sleep: func(time.Duration) {}}

	_, err := p.Complete(context.Background(), sampleRequest())
	var provErr *ProviderError
	if !errors.As(err, &provErr) || provErr.Status != 401 {
		t.Fatalf("Complete() error = %v, want status 401 provider error", err)
	}
	if inner.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", inner.calls)
	}
}

func TestNoRetryOnTransportError(t *testing.T) {
	inner := &scriptedProvider{errs: []error{errors.New("connection refused")}}
	p := &retryProvider{inner: inner, base: time.Millisecond, sleep: func(time.Duration) {}}

	if _, err := p.Complete(context.Background(), sampleRequest()); err == nil {
		t.Fatalf("expected transport error to pass through")
	}
	if inner.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", inner.calls)
	}
}

func TestMockProviderMentionsHistory(t *testing.T) {
	p := NewMockProvider()

	reply, err := p.Complete(context.Background(), Request{UserText: "ping"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "You said: ping" {
		t.Fatalf("reply = %q", reply)
	}

	reply, err = p.Complete(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply == "" || reply == "You said: how are you" {
		t.Fatalf("reply %q should reference history", reply)
	}
}

func TestNewProviderModes(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, Config{Mode: "mock"})
	if err != nil {
		t.Fatalf("mock mode error = %v", err)
	}
	if p.Name() != "mock" {
		t.Fatalf("provider = %q, want mock", p.Name())
	}

	p, err = NewProvider(ctx, Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("auto mode error = %v", err)
	}
	if p.Name() != "mock" {
		t.Fatalf("auto without keys = %q, want mock", p.Name())
	}

	p, err = NewProvider(ctx, Config{Mode: "auto", OpenAIAPIKey: "sk-test"})
	if err != nil {
		t.Fatalf("auto mode with key error = %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("auto with openai key = %q, want openai", p.Name())
	}

	if _, err := NewProvider(ctx, Config{Mode: "openai"}); err == nil {
		t.Fatalf("openai mode without key should fail")
	}
	if _, err := NewProvider(ctx, Config{Mode: "weird"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}
