package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// rateLimitClient throttles both Complete and Stream through a per-client
// token-bucket limiter. Unlike the process-wide cloud semaphore (which
// bounds concurrency), this bounds request rate -- used when a provider
// enforces a requests-per-second quota the factory's caller knows about.
type rateLimitClient struct {
	inner   Client
	limiter *rate.Limiter
}

// WrapWithUserRateLimit wraps inner so every call waits on a token-bucket
// limiter of the given rate and burst before proceeding.
func WrapWithUserRateLimit(inner Client, limit rate.Limit, burst int) Client {
	if burst < 1 {
		burst = 1
	}
	return &rateLimitClient{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (c *rateLimitClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return c.inner.Complete(ctx, req)
}

func (c *rateLimitClient) Stream(ctx context.Context, req Request) (<-chan Fragment, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.Stream(ctx, req)
}
