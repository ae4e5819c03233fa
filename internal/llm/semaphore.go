package llm

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// cloudSemaphore bounds concurrent non-streaming cloud requests to 3
// process-wide, per spec.md §4.1/§5. Streaming bypasses it entirely
// (user-latency critical and self-limiting), as does the local provider
// (the server serializes itself).
var cloudSemaphore = semaphore.NewWeighted(3)

// semaphoreClient gates Complete through the process-wide cloud semaphore.
// Stream is passed through unbounded.
type semaphoreClient struct {
	inner Client
}

// WrapWithCloudSemaphore bounds inner's non-streaming calls to the
// process-wide concurrency limit for cloud providers.
func WrapWithCloudSemaphore(inner Client) Client {
	return &semaphoreClient{inner: inner}
}

func (c *semaphoreClient) Complete(ctx context.Context, req Request) (Response, error) {
	if err := cloudSemaphore.Acquire(ctx, 1); err != nil {
		return Response{}, err
	}
	defer cloudSemaphore.Release(1)
	return c.inner.Complete(ctx, req)
}

func (c *semaphoreClient) Stream(ctx context.Context, req Request) (<-chan Fragment, error) {
	return c.inner.Stream(ctx, req)
}
