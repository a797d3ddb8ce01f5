// Package anthropic adapts the Anthropic Messages API to the gateway. It is
// the route for tasks flagged as needing complex reasoning.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/phrazzld/scry-tasks/internal/gateway"
)

const (
	// DefaultBaseURL is the public API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"
	// APIVersion is sent as the anthropic-version header.
	APIVersion = "2023-06-01"
	// DefaultMaxTokens bounds the response length.
	DefaultMaxTokens = 4096
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type messagesRequest struct {
	Model      string      `json:"model"`
	MaxTokens  int         `json:"max_tokens"`
	Messages   []message   `json:"messages"`
	Tools      []tool      `json:"tools,omitempty"`
	ToolChoice *toolChoice `json:"tool_choice,omitempty"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Adapter performs one Messages API request per call.
type Adapter struct {
	client    *resty.Client
	maxTokens int
}

var _ gateway.Adapter = (*Adapter)(nil)

// New creates an adapter. An empty baseURL uses DefaultBaseURL.
func New(apiKey, baseURL string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key cannot be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("x-api-key", apiKey).
		SetHeader("anthropic-version", APIVersion)

	return &Adapter{client: client, maxTokens: DefaultMaxTokens}, nil
}

// Generate sends the prompt as a single user message. Structured calls
// force a tool call whose input schema is the response schema, and the tool
// input is returned as the raw JSON output.
func (a *Adapter) Generate(ctx context.Context, call gateway.Call) (string, error) {
	if call.Attachment != nil && call.Attachment.Multimodal() {
		return "", gateway.NewTerminalError(gateway.CodeInvalidRequest,
			fmt.Errorf("messages API cannot take %s input", call.Attachment.MIMEType))
	}

	req := messagesRequest{
		Model:     call.Model,
		MaxTokens: a.maxTokens,
		Messages:  []message{{Role: "user", Content: call.Prompt}},
	}
	structured := len(call.Schema) > 0
	if structured {
		req.Tools = []tool{{
			Name:        call.SchemaName,
			Description: "Record the response in the required structure.",
			InputSchema: call.Schema,
		}}
		req.ToolChoice = &toolChoice{Type: "tool", Name: call.SchemaName}
	}

	var (
		out    messagesResponse
		apiErr errorResponse
	)
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/messages")
	if err != nil {
		return "", gateway.ClassifyTransportError(err)
	}
	if resp.IsError() {
		cause := fmt.Errorf("anthropic API returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
		if apiErr.Error.Type == "overloaded_error" {
			return "", gateway.NewTransientError(gateway.CodeServerError, cause)
		}
		return "", gateway.ClassifyHTTPStatus(resp.StatusCode(), cause)
	}

	if out.StopReason == "refusal" {
		return "", gateway.NewTerminalError(gateway.CodeContentPolicy, errors.New("model refused the request"))
	}

	var sb strings.Builder
	for _, block := range out.Content {
		switch block.Type {
		case "tool_use":
			if structured && block.Name == call.SchemaName {
				return string(block.Input), nil
			}
		case "text":
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
