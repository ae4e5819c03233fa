package llm

import (
	"context"

	alexerrors "novelpipe/internal/errors"
)

// retryClient wraps a Client with retry + circuit breaker resilience,
// adapted from the donor's retry_client.go: streaming calls only retry a
// pre-stream failure (e.g. a 429 before any bytes arrived), never a
// mid-stream failure, since partial output already reached the caller.
type retryClient struct {
	inner   Client
	retry   alexerrors.RetryConfig
	breaker *alexerrors.CircuitBreaker
}

// WrapWithRetry adds retry+circuit-breaker resilience around inner.
func WrapWithRetry(inner Client, name string, retryCfg alexerrors.RetryConfig, cbCfg alexerrors.CircuitBreakerConfig) Client {
	return &retryClient{
		inner:   inner,
		retry:   retryCfg,
		breaker: alexerrors.NewCircuitBreaker(name, cbCfg),
	}
}

func (c *retryClient) Complete(ctx context.Context, req Request) (Response, error) {
	return alexerrors.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (Response, error) {
		return alexerrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (Response, error) {
			return c.inner.Complete(ctx, req)
		})
	})
}

func (c *retryClient) Stream(ctx context.Context, req Request) (<-chan Fragment, error) {
	// Only the pre-stream handshake is retried/breaker-guarded; once
	// bytes start flowing we hand the channel straight to the caller.
	return alexerrors.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (<-chan Fragment, error) {
		return alexerrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (<-chan Fragment, error) {
			return c.inner.Stream(ctx, req)
		})
	})
}
