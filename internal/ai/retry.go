package ai

import (
	"context"
	"errors"
	"time"

	"github.com/mxlin/wxrelay/internal/reliability"
)

// retryProvider retries once when the upstream answers with a retryable
// status (429 or a 5xx). Transport failures and non-retryable statuses pass
// through; the relay turns them into a fallback reply either way.
type retryProvider struct {
	inner Provider
	base  time.Duration
	sleep func(time.Duration)
}

func withRetry(inner Provider) Provider {
	return &retryProvider{inner: inner, base: 500 * time.Millisecond, sleep: time.Sleep}
}

func (p *retryProvider) Name() string { return p.inner.Name() }

func (p *retryProvider) Complete(ctx context.Context, req Request) (string, error) {
	reply, err := p.inner.Complete(ctx, req)
	if err == nil {
		return reply, nil
	}

	var provErr *ProviderError
	if !errors.As(err, &provErr) || !reliability.IsRetryableHTTPStatus(provErr.Status) {
		return "", err
	}
	if ctx.Err() != nil {
		return "", err
	}

	p.sleep(reliability.ExponentialBackoff(0, p.base, 2*time.Second))
	return p.inner.Complete(ctx, req)
}
