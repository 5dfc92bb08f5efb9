package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// AnthropicClient is the production completion backend, speaking the
// Anthropic messages API over HTTP.
type AnthropicClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ Service = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client with the given API key.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: anthropicBaseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// WithBaseURL points the client at a different endpoint. Test hook.
func (c *AnthropicClient) WithBaseURL(url string) *AnthropicClient {
	c.baseURL = url
	return c
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Service. HTTP and API failures are classified into
// completion error kinds so retry policy upstream can act on them.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(anthropicRequest{
		Model:       req.Model,
		System:      req.SystemInstruction,
		Messages:    []anthropicMessage{{Role: "user", Content: req.UserMessage}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, InvalidRequest("encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, InvalidRequest("build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Timeout("completion request", err)
		}
		return nil, Unavailable("completion request", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, Unavailable("read response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp.StatusCode, raw)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, Unavailable("decode response", err)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return &Response{
		Content:      text,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
		Cost:         CostFor(parsed.Model, parsed.Usage.InputTokens, parsed.Usage.OutputTokens),
		StopReason:   parsed.StopReason,
	}, nil
}

func classifyStatus(status int, raw []byte) error {
	var apiErr anthropicError
	message := string(raw)
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}
	err := fmt.Errorf("api status %d: %s", status, message)
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited("completion", err)
	case status == http.StatusRequestTimeout:
		return Timeout("completion", err)
	case status >= 500:
		return Unavailable("completion", err)
	default:
		return InvalidRequest("completion", err)
	}
}
