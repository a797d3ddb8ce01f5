package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/scry-tasks/internal/domain"
)

var validate = validator.New()

// Decode converts raw model output into a validated Result of the given kind.
// Markdown code fences around JSON are tolerated; anything else that does not
// match the expected shape yields ErrInvalidResponse.
func Decode(kind domain.ResultKind, raw string) (*domain.Result, error) {
	shape, err := outputShape(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, kind)
	}

	if shape == nil {
		text := strings.TrimSpace(raw)
		if text == "" {
			return nil, fmt.Errorf("%w: empty text response", ErrInvalidResponse)
		}
		return domain.NewTextResult(text), nil
	}

	body := stripCodeFence(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty structured response", ErrInvalidResponse)
	}

	if err := json.Unmarshal([]byte(body), shape); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	if err := validate.Struct(shape); err != nil {
		return nil, fmt.Errorf("%w: response failed validation: %v", ErrInvalidResponse, err)
	}

	var result *domain.Result
	switch out := shape.(type) {
	case *qaPairsOutput:
		result = domain.NewQAPairsResult(out.Items)
	case *mcqOutput:
		result = domain.NewMCQResult(out.Items)
	case *stepsOutput:
		result = domain.NewStepsResult(out.Steps)
	case *termsOutput:
		result = domain.NewTermsResult(out.Terms)
	case *diagramOutput:
		result = domain.NewDiagramResult(out.Diagram)
	}

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return result, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
