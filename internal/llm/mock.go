package llm

import "context"

// mockClient is a deterministic test double: it echoes a canned response
// set by the test via NewMockClientWithResponses, or an empty JSON object by
// default.
// Adapted from the donor's mock.go scenario-selection idea, simplified
// since this module has no tool-calling surface to simulate.
type mockClient struct {
	responses []string
	calls     int
}

// NewMockClient returns a Client usable in unit tests.
func NewMockClient() Client {
	return &mockClient{}
}

// NewMockClientWithResponses returns a mock Client that returns each
// response in order (last one repeats once exhausted).
func NewMockClientWithResponses(responses ...string) Client {
	return &mockClient{responses: responses}
}

func (c *mockClient) next() string {
	if len(c.responses) == 0 {
		return "{}"
	}
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return c.responses[idx]
}

func (c *mockClient) Complete(ctx context.Context, req Request) (Response, error) {
	return Response{Content: c.next(), FinishReason: FinishStop}, nil
}

func (c *mockClient) Stream(ctx context.Context, req Request) (<-chan Fragment, error) {
	out := make(chan Fragment, 2)
	out <- Fragment{Delta: c.next()}
	out <- Fragment{Done: true}
	close(out)
	return out, nil
}
