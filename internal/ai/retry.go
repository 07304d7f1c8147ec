package ai

import (
	"context"
	"errors"
	"time"

	"gembot/pkg/retrylimit"
)

// RetryProvider wraps a Provider with an adaptive rate limiter and a single
// retry for rate-limited calls. Every other failure is surfaced as-is:
// auth and unknown errors do not improve on a second attempt.
type RetryProvider struct {
	inner Provider
	lim   *retrylimit.AdaptiveLimiter
	cfg   retrylimit.RetryConfig
}

func NewRetryProvider(inner Provider) *RetryProvider {
	cfg := retrylimit.RetryConfig{
		MaxAttempts:    2,
		RateLimitDelay: 2 * time.Second,
	}
	return &RetryProvider{
		inner: inner,
		lim:   retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5),
		cfg:   cfg,
	}
}

func (p *RetryProvider) Generate(ctx context.Context, req Request) (string, error) {
	var out string
	var lastErr error
	err := retrylimit.WithRetryConfig(ctx, func() error {
		text, err := p.inner.Generate(ctx, req)
		if err != nil {
			lastErr = err
			if !IsKind(err, KindRateLimited) {
				return &retrylimit.FatalError{Err: err}
			}
			return err
		}
		out = text
		return nil
	}, p.lim, p.cfg)
	if err != nil {
		var fatal *retrylimit.FatalError
		if errors.As(err, &fatal) {
			return "", fatal.Err
		}
		if lastErr != nil {
			return "", lastErr
		}
		return "", err
	}
	return out, nil
}
