package generation

import "github.com/phrazzld/scry-tasks/internal/domain"

// The envelopes below are the exact JSON documents backends are asked to
// return. Lists are wrapped in an object because several providers only
// accept an object at the top level of a structured response.

type qaPairsOutput struct {
	Items []domain.QAPair `json:"items" jsonschema:"minItems=1" validate:"required,min=1,dive"`
}

type mcqOutput struct {
	Items []domain.MCQItem `json:"items" jsonschema:"minItems=1" validate:"required,min=1,dive"`
}

type stepsOutput struct {
	Steps []domain.Step `json:"steps" jsonschema:"minItems=1" validate:"required,min=1,dive"`
}

type termsOutput struct {
	Terms []domain.Term `json:"terms" jsonschema:"minItems=1" validate:"required,min=1,dive"`
}

type diagramOutput struct {
	Diagram domain.Diagram `json:"diagram" validate:"required"`
}

// outputShape returns a fresh envelope for kind, or nil for plain text.
func outputShape(kind domain.ResultKind) (any, error) {
	switch kind {
	case domain.ResultKindText:
		return nil, nil
	case domain.ResultKindQAPairs:
		return &qaPairsOutput{}, nil
	case domain.ResultKindMCQ:
		return &mcqOutput{}, nil
	case domain.ResultKindSteps:
		return &stepsOutput{}, nil
	case domain.ResultKindTerms:
		return &termsOutput{}, nil
	case domain.ResultKindDiagram:
		return &diagramOutput{}, nil
	default:
		return nil, ErrUnsupportedKind
	}
}

// IsStructured reports whether kind requires a JSON response.
func IsStructured(kind domain.ResultKind) bool {
	return kind != domain.ResultKindText
}
