package gateway

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/scry-tasks/internal/content"
)

// Call is the backend-neutral request handed to an adapter.
type Call struct {
	Model  string
	Prompt string
	// Attachment carries binary material, such as audio, for backends with
	// native multimodal input. Nil for text-only calls.
	Attachment *content.Content
	// Schema is the JSON schema the response must satisfy; nil for free text.
	Schema     json.RawMessage
	SchemaName string
}

// Adapter hides one backend's request and response shape. It makes exactly
// one call and classifies any failure as a *Error; retrying is the
// gateway's job.
type Adapter interface {
	Generate(ctx context.Context, call Call) (string, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, call Call) (string, error)

// Generate calls f.
func (f AdapterFunc) Generate(ctx context.Context, call Call) (string, error) {
	return f(ctx, call)
}
