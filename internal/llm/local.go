package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"novelpipe/internal/logging"
)

// localClient talks a llama.cpp-style local completion server: a minimal
// (system, prompt[, format]) -> (content, usage) protocol. The local
// provider is never bounded by the cloud semaphore (spec.md §5: "the
// server serializes itself").
type localClient struct {
	model  string
	cfg    Config
	http   *http.Client
	logger logging.Logger
}

// NewLlamaCppClient returns a Client for a local completion server.
func NewLlamaCppClient(model string, cfg Config) (Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8080"
	}
	return &localClient{
		model:  model,
		cfg:    cfg,
		http:   newDirectHTTPClient(cfg.Timeout),
		logger: logging.NewComponentLogger("llm.local"),
	}, nil
}

type localRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system_prompt,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	NPredict    int     `json:"n_predict,omitempty"`
	NCtx        int     `json:"n_ctx,omitempty"`
	JSONSchema  bool    `json:"json_schema,omitempty"`
}

type localResponse struct {
	Content          string `json:"content"`
	Stop             bool   `json:"stop"`
	StoppedLimit     bool   `json:"stopped_limit"`
	TokensPredicted  int    `json:"tokens_predicted"`
	TokensEvaluated  int    `json:"tokens_evaluated"`
}

func (c *localClient) Complete(ctx context.Context, req Request) (Response, error) {
	system, prompt := flattenMessages(req.Messages)
	body := localRequest{
		Prompt:      prompt,
		System:      system,
		Temperature: req.Temperature,
		NPredict:    req.MaxTokens,
		NCtx:        req.NumCtx,
		JSONSchema:  req.JSONFormat,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/completion", bytes.NewReader(buf))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Response{}, err
	}
	defer httpResp.Body.Close()

	bodyBytes, _ := io.ReadAll(httpResp.Body)
	if httpResp.StatusCode >= 400 {
		return Response{}, &Error{StatusCode: httpResp.StatusCode, Body: truncateBody(bodyBytes), Err: fmt.Errorf("llm: http %d", httpResp.StatusCode)}
	}

	var parsed localResponse
	if err := json.Unmarshal(bodyBytes, &parsed); err != nil {
		return Response{}, &Error{StatusCode: httpResp.StatusCode, Body: truncateBody(bodyBytes), Err: err}
	}

	content := parsed.Content
	finish := FinishReason(FinishStop)
	truncated := false
	if parsed.StoppedLimit {
		finish = FinishLength
		if req.JSONFormat {
			if repaired, err := RepairJSON(content); err == nil {
				content = repaired
				truncated = true
			}
		}
	}

	return Response{
		Content:      content,
		FinishReason: finish,
		IsTruncated:  truncated,
		Usage: Usage{
			PromptTokens:     parsed.TokensEvaluated,
			CompletionTokens: parsed.TokensPredicted,
			TotalTokens:      parsed.TokensEvaluated + parsed.TokensPredicted,
		},
	}, nil
}

func (c *localClient) Stream(ctx context.Context, req Request) (<-chan Fragment, error) {
	// Local servers are treated as self-serializing and low-latency enough
	// that this module does not stream from them; callers needing
	// incremental output should poll Complete on smaller chunks instead.
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan Fragment, 2)
	out <- Fragment{Delta: resp.Content}
	out <- Fragment{Done: true}
	close(out)
	return out, nil
}

func flattenMessages(msgs []Message) (system, prompt string) {
	var sys, rest []string
	for _, m := range msgs {
		if m.Role == "system" {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m.Content)
	}
	for i, s := range sys {
		if i > 0 {
			system += "\n"
		}
		system += s
	}
	for i, s := range rest {
		if i > 0 {
			prompt += "\n"
		}
		prompt += s
	}
	return system, prompt
}
