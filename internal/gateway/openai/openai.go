// Package openai adapts the OpenAI chat completions API to the gateway.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/phrazzld/scry-tasks/internal/gateway"
)

// Adapter performs one chat completion per call.
type Adapter struct {
	client *openai.Client
}

var _ gateway.Adapter = (*Adapter)(nil)

// New creates an adapter. An empty baseURL uses the public API; set it to
// target a compatible endpoint.
func New(apiKey, baseURL string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai API key cannot be empty")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Adapter{client: openai.NewClientWithConfig(cfg)}, nil
}

// Generate sends the prompt as a single user message. Structured calls use
// the JSON schema response format.
func (a *Adapter) Generate(ctx context.Context, call gateway.Call) (string, error) {
	if call.Attachment != nil && call.Attachment.Multimodal() {
		return "", gateway.NewTerminalError(gateway.CodeInvalidRequest,
			fmt.Errorf("chat completions cannot take %s input", call.Attachment.MIMEType))
	}

	req := openai.ChatCompletionRequest{
		Model: call.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: call.Prompt},
		},
	}
	if len(call.Schema) > 0 {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   call.SchemaName,
				Schema: call.Schema,
			},
		}
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", gateway.NewTransientError(gateway.CodeServerError, errors.New("completion returned no choices"))
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", gateway.NewTerminalError(gateway.CodeContentPolicy,
			errors.New("completion stopped by content filter"))
	}
	if strings.TrimSpace(choice.Message.Content) == "" && choice.Message.Refusal != "" {
		return "", gateway.NewTerminalError(gateway.CodeContentPolicy,
			fmt.Errorf("model refused: %s", choice.Message.Refusal))
	}
	return choice.Message.Content, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == "content_policy_violation" || apiErr.Type == "content_policy_violation" {
			return gateway.NewTerminalError(gateway.CodeContentPolicy, err)
		}
		return gateway.ClassifyHTTPStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return gateway.ClassifyHTTPStatus(reqErr.HTTPStatusCode, err)
	}
	return gateway.ClassifyTransportError(err)
}
