// Package gemini adapts the Gemini API to the gateway. It is the route for
// long documents and for audio payloads, which are sent as inline data.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/phrazzld/scry-tasks/internal/gateway"
)

// contentGenerator is the part of the genai client the adapter uses.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Adapter performs one GenerateContent request per call.
type Adapter struct {
	models contentGenerator
}

var _ gateway.Adapter = (*Adapter)(nil)

// New creates an adapter backed by the Gemini developer API.
func New(ctx context.Context, apiKey string) (*Adapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Adapter{models: client.Models}, nil
}

// Generate sends the prompt, plus any binary attachment, as one user turn.
func (a *Adapter) Generate(ctx context.Context, call gateway.Call) (string, error) {
	parts := []*genai.Part{{Text: call.Prompt}}
	if call.Attachment != nil && call.Attachment.Multimodal() {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			Data:     call.Attachment.Data,
			MIMEType: call.Attachment.MIMEType,
		}})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	var cfg *genai.GenerateContentConfig
	if len(call.Schema) > 0 {
		schema, err := toGenaiSchema(call.Schema)
		if err != nil {
			return "", gateway.NewTerminalError(gateway.CodeInvalidRequest, err)
		}
		cfg = &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   schema,
		}
	}

	resp, err := a.models.GenerateContent(ctx, call.Model, contents, cfg)
	if err != nil {
		return "", classify(err)
	}
	return extractText(resp)
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", gateway.NewTransientError(gateway.CodeServerError, errors.New("empty response"))
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return "", gateway.NewTerminalError(gateway.CodeContentPolicy,
			fmt.Errorf("prompt blocked: %s", fb.BlockReason))
	}
	if len(resp.Candidates) == 0 {
		return "", gateway.NewTransientError(gateway.CodeServerError, errors.New("response has no candidates"))
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", gateway.NewTerminalError(gateway.CodeContentPolicy,
			errors.New("response blocked by safety filters"))
	}
	if candidate.Content == nil {
		return "", gateway.NewTransientError(gateway.CodeServerError, errors.New("candidate has no content"))
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return gateway.ClassifyHTTPStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return gateway.ClassifyHTTPStatus(apiErrPtr.Code, err)
	}
	return gateway.ClassifyTransportError(err)
}
