package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestWrapWithUserRateLimitPassesCallsThrough(t *testing.T) {
	inner := NewMockClientWithResponses("hello")
	client := WrapWithUserRateLimit(inner, rate.Inf, 1)

	resp, err := client.Complete(context.Background(), Request{})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
}

func TestWrapWithUserRateLimitAbortsOnCancelledContext(t *testing.T) {
	inner := NewMockClientWithResponses("hello")
	client := WrapWithUserRateLimit(inner, rate.Limit(0), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Complete(ctx, Request{})
	require.Error(t, err)
}
