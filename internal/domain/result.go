package domain

import (
	"fmt"
	"strings"
)

// ResultKind tags which variant of Result is populated.
type ResultKind string

// Result variants
const (
	ResultKindText    ResultKind = "text"
	ResultKindQAPairs ResultKind = "qa_pairs"
	ResultKindMCQ     ResultKind = "mcq"
	ResultKindSteps   ResultKind = "steps"
	ResultKindTerms   ResultKind = "terms"
	ResultKindDiagram ResultKind = "diagram"
)

// Valid reports whether k is a known result kind.
func (k ResultKind) Valid() bool {
	switch k {
	case ResultKindText, ResultKindQAPairs, ResultKindMCQ, ResultKindSteps,
		ResultKindTerms, ResultKindDiagram:
		return true
	default:
		return false
	}
}

// QAPair is a single question and answer, used for flashcards.
type QAPair struct {
	Question string `json:"question" jsonschema:"required,minLength=1" validate:"required"`
	Answer   string `json:"answer" jsonschema:"required,minLength=1" validate:"required"`
}

// MCQItem is a multiple-choice question with the index of its correct option.
type MCQItem struct {
	Question    string   `json:"question" jsonschema:"required,minLength=1" validate:"required"`
	Options     []string `json:"options" jsonschema:"required,minItems=2" validate:"required,min=2,dive,required"`
	AnswerIndex int      `json:"answer_index" jsonschema:"required,minimum=0" validate:"gte=0"`
	Explanation string   `json:"explanation,omitempty"`
}

// Step is one entry of an ordered solution or tutoring sequence.
type Step struct {
	Title  string `json:"title" jsonschema:"required,minLength=1" validate:"required"`
	Detail string `json:"detail" jsonschema:"required" validate:"required"`
}

// Term is a glossary entry.
type Term struct {
	Term       string `json:"term" jsonschema:"required,minLength=1" validate:"required"`
	Definition string `json:"definition" jsonschema:"required,minLength=1" validate:"required"`
}

// Diagram holds diagram markup in one of the supported notations.
type Diagram struct {
	Format  string `json:"format" jsonschema:"required,enum=mermaid,enum=graphviz,enum=plantuml" validate:"required,oneof=mermaid graphviz plantuml"`
	Source  string `json:"source" jsonschema:"required,minLength=1" validate:"required"`
	Caption string `json:"caption,omitempty"`
}

// Result is the structured output of a completed task. Exactly one payload
// field, the one named by Kind, is populated.
type Result struct {
	Kind    ResultKind `json:"kind"`
	Text    string     `json:"text,omitempty"`
	QAPairs []QAPair   `json:"qa_pairs,omitempty"`
	MCQ     []MCQItem  `json:"mcq,omitempty"`
	Steps   []Step     `json:"steps,omitempty"`
	Terms   []Term     `json:"terms,omitempty"`
	Diagram *Diagram   `json:"diagram,omitempty"`
}

// NewTextResult wraps a block of text.
func NewTextResult(text string) *Result {
	return &Result{Kind: ResultKindText, Text: text}
}

// NewQAPairsResult wraps a list of question/answer pairs.
func NewQAPairsResult(pairs []QAPair) *Result {
	return &Result{Kind: ResultKindQAPairs, QAPairs: pairs}
}

// NewMCQResult wraps a list of multiple-choice items.
func NewMCQResult(items []MCQItem) *Result {
	return &Result{Kind: ResultKindMCQ, MCQ: items}
}

// NewStepsResult wraps an ordered step list.
func NewStepsResult(steps []Step) *Result {
	return &Result{Kind: ResultKindSteps, Steps: steps}
}

// NewTermsResult wraps a term list.
func NewTermsResult(terms []Term) *Result {
	return &Result{Kind: ResultKindTerms, Terms: terms}
}

// NewDiagramResult wraps diagram markup.
func NewDiagramResult(d Diagram) *Result {
	return &Result{Kind: ResultKindDiagram, Diagram: &d}
}

// Validate checks that the populated variant matches Kind and that no other
// variant carries data.
func (r *Result) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil result", ErrInvalidResult)
	}

	populated := map[ResultKind]bool{
		ResultKindText:    strings.TrimSpace(r.Text) != "",
		ResultKindQAPairs: len(r.QAPairs) > 0,
		ResultKindMCQ:     len(r.MCQ) > 0,
		ResultKindSteps:   len(r.Steps) > 0,
		ResultKindTerms:   len(r.Terms) > 0,
		ResultKindDiagram: r.Diagram != nil,
	}

	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidResult, r.Kind)
	}
	if !populated[r.Kind] {
		return fmt.Errorf("%w: %s result is empty", ErrInvalidResult, r.Kind)
	}
	for kind, set := range populated {
		if kind != r.Kind && set {
			return fmt.Errorf("%w: %s result also carries %s data", ErrInvalidResult, r.Kind, kind)
		}
	}

	for i, item := range r.MCQ {
		if item.AnswerIndex < 0 || item.AnswerIndex >= len(item.Options) {
			return fmt.Errorf("%w: mcq item %d answer index out of range", ErrInvalidResult, i)
		}
	}

	return nil
}
