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

	"novelpipe/internal/logging"
)

const (
	anthropicRequestHeaderKey = "x-api-key"
	anthropicVersionHeaderKey = "anthropic-version"
	anthropicVersion          = "2023-06-01"
)

// anthropicClient talks the Anthropic /v1/messages wire shape: top-level
// system field, content-block messages, usage.{input,output}_tokens.
type anthropicClient struct {
	model   string
	cfg     Config
	http    *http.Client
	logger  logging.Logger
	onUsage UsageCallback
}

// NewAnthropicClient returns a Client for the Anthropic messages API.
func NewAnthropicClient(model string, cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	return &anthropicClient{
		model:  model,
		cfg:    cfg,
		http:   newDirectHTTPClient(cfg.Timeout),
		logger: logging.NewComponentLogger("llm.anthropic"),
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []anthropicMessage  `json:"messages"`
	MaxTokens int                 `json:"max_tokens"`
	Stream    bool                `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Role       string                  `json:"role"`
	StopReason string                  `json:"stop_reason"`
	Content    []anthropicContentBlock `json:"content"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// splitSystem pulls any "system"-role message out as the top-level system
// field, the rest become the messages array in order (Anthropic has no
// inline system role).
func splitSystem(msgs []Message) (string, []anthropicMessage) {
	var system strings.Builder
	out := make([]anthropicMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			if system.Len() > 0 {
				system.WriteString("\n")
			}
			system.WriteString(m.Content)
			continue
		}
		role := m.Role
		if role == "tool" {
			role = "user"
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	return system.String(), out
}

func (c *anthropicClient) buildRequest(req Request, stream bool) anthropicRequest {
	system, msgs := splitSystem(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return anthropicRequest{
		Model:     c.model,
		System:    system,
		Messages:  msgs,
		MaxTokens: maxTokens,
		Stream:    stream,
	}
}

func (c *anthropicClient) doRequest(ctx context.Context, body any, stream bool) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/messages", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(anthropicVersionHeaderKey, anthropicVersion)
	httpReq.Header.Set(anthropicRequestHeaderKey, c.cfg.APIKey)
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

func (c *anthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	httpResp, err := c.doRequest(ctx, c.buildRequest(req, false), false)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	bodyBytes, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode >= 400 {
		return Response{}, &Error{StatusCode: httpResp.StatusCode, Body: truncateBody(bodyBytes), Err: fmt.Errorf("llm: http %d", httpResp.StatusCode)}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return Response{}, &Error{StatusCode: httpResp.StatusCode, Body: truncateBody(bodyBytes), Err: err}
	}
	if parsed.Error != nil {
		return Response{}, &Error{StatusCode: httpResp.StatusCode, Body: parsed.Error.Message, Err: fmt.Errorf("llm: %s", parsed.Error.Message)}
	}

	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	finish := FinishReason(FinishStop)
	truncated := false
	text := content.String()
	if parsed.StopReason == "max_tokens" {
		finish = FinishLength
		if req.JSONFormat {
			if repaired, err := RepairJSON(text); err == nil {
				text = repaired
				truncated = true
			}
		}
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	if c.onUsage != nil {
		c.onUsage("anthropic", c.model, usage)
	}

	return Response{Content: text, FinishReason: finish, Usage: usage, IsTruncated: truncated}, nil
}

func (c *anthropicClient) Stream(ctx context.Context, req Request) (<-chan Fragment, error) {
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
			var evt struct {
				Type  string `json:"type"`
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(payload), &evt); err != nil {
				continue
			}
			switch evt.Type {
			case "content_block_delta":
				if evt.Delta.Text != "" {
					select {
					case out <- Fragment{Delta: evt.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
			case "message_stop":
				out <- Fragment{Done: true}
				return
			}
		}
		out <- Fragment{Done: true}
	}()
	return out, nil
}
