package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"novelpipe/internal/logging"
)

// Config is the provider-agnostic client configuration, adapted from the
// donor's llm.Config shape.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Headers    map[string]string
}

// openaiClient talks the OpenAI chat-completions wire shape, shared by
// openai/deepseek/kimi/glm/openrouter providers (they differ only in
// base URL and key).
type openaiClient struct {
	model   string
	cfg     Config
	http    *http.Client
	logger  logging.Logger
	onUsage UsageCallback
}

// NewOpenAIClient returns a Client for any OpenAI-chat-completions-shaped provider.
func NewOpenAIClient(model string, cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &openaiClient{
		model:  model,
		cfg:    cfg,
		http:   newDirectHTTPClient(cfg.Timeout),
		logger: logging.NewComponentLogger("llm.openai"),
	}, nil
}

// newDirectHTTPClient builds an http.Client that ignores proxy environment
// variables, per spec.md §4.1/§6: flaky local proxies must not affect
// cloud calls.
func newDirectHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := &http.Transport{Proxy: nil}
	return &http.Client{Timeout: timeout, Transport: transport}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	Stream         bool           `json:"stream,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
	Delta        chatMessage `json:"delta"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiClient) buildRequest(req Request, stream bool) chatRequest {
	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	out := chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if req.JSONFormat {
		out.ResponseFormat = map[string]any{"type": "json_object"}
	}
	return out
}

func (c *openaiClient) doRequest(ctx context.Context, body any, stream bool) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (Response, error) {
	httpResp, err := c.doRequest(ctx, c.buildRequest(req, false), false)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	bodyBytes, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode >= 400 {
		return Response{}, &Error{StatusCode: httpResp.StatusCode, Body: truncateBody(bodyBytes), Err: fmt.Errorf("llm: http %d", httpResp.StatusCode)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return Response{}, &Error{StatusCode: httpResp.StatusCode, Body: truncateBody(bodyBytes), Err: err}
	}
	if parsed.Error != nil {
		return Response{}, &Error{StatusCode: httpResp.StatusCode, Body: parsed.Error.Message, Err: fmt.Errorf("llm: %s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, &Error{StatusCode: httpResp.StatusCode, Body: truncateBody(bodyBytes), Err: fmt.Errorf("llm: empty choices")}
	}

	choice := parsed.Choices[0]
	content := choice.Message.Content
	finish := FinishReason(choice.FinishReason)
	truncated := false

	if finish == FinishLength && req.JSONFormat {
		repaired, err := RepairJSON(content)
		if err == nil {
			content = repaired
			truncated = true
		}
	}

	usage := Usage{PromptTokens: parsed.Usage.PromptTokens, CompletionTokens: parsed.Usage.CompletionTokens, TotalTokens: parsed.Usage.TotalTokens}
	if c.onUsage != nil {
		c.onUsage("openai", c.model, usage)
	}

	return Response{Content: content, FinishReason: finish, Usage: usage, IsTruncated: truncated}, nil
}

func (c *openaiClient) Stream(ctx context.Context, req Request) (<-chan Fragment, error) {
	httpResp, err := c.doRequest(ctx, c.buildRequest(req, true), true)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, &Error{StatusCode: httpResp.StatusCode, Body: truncateBody(bodyBytes), Err: fmt.Errorf("llm: http %d", httpResp.StatusCode)}
	}

	out := make(chan Fragment, 16)
	go func() {
		defer close(out)
		defer httpResp.Body.Close()

		scanner := bufio.NewScanner(httpResp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				out <- Fragment{Done: true}
				return
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				select {
				case out <- Fragment{Delta: delta}:
				case <-ctx.Done():
					return
				}
			}
		}
		out <- Fragment{Done: true}
	}()
	return out, nil
}

func truncateBody(b []byte) string {
	const max = 500
	s := string(b)
	if len(s) > max {
		return s[:max]
	}
	return s
}
