package router

import (
	"errors"
	"fmt"

	"github.com/phrazzld/scry-tasks/internal/config"
	"github.com/phrazzld/scry-tasks/internal/domain"
)

// ErrUnknownTaskType is returned when a request names a task type the policy
// has no rule for.
var ErrUnknownTaskType = errors.New("router: unknown task type")

// ErrInvalidPolicy is returned when a policy is missing a target.
var ErrInvalidPolicy = errors.New("router: invalid policy")

// Backend identifies an AI provider reachable through the gateway.
type Backend string

// Supported backends
const (
	BackendOpenAI    Backend = "openai"
	BackendGemini    Backend = "gemini"
	BackendAnthropic Backend = "anthropic"
)

// Valid reports whether b is a supported backend.
func (b Backend) Valid() bool {
	switch b {
	case BackendOpenAI, BackendGemini, BackendAnthropic:
		return true
	default:
		return false
	}
}

// AcceptsAttachments reports whether the backend's adapter can send binary
// material, such as audio, alongside the prompt.
func (b Backend) AcceptsAttachments() bool {
	return b == BackendGemini
}

// Class is the capability bucket a routing decision fell into.
type Class string

// Routing classes, from cheapest to most capable.
const (
	ClassStandard    Class = "standard"
	ClassLongContext Class = "long_context"
	ClassStructured  Class = "structured"
	ClassReasoning   Class = "reasoning"
)

// Target is a backend and model pair.
type Target struct {
	Backend Backend
	Model   string
}

// Route is the outcome of a routing decision.
type Route struct {
	Backend Backend
	Model   string
	Class   Class
}

// Request carries every input the routing decision depends on.
type Request struct {
	TaskType domain.TaskType
	// PayloadSize is a size hint for the loaded content in bytes.
	PayloadSize int
	// RequiresStructuredOutput asks for the backend with the most reliable
	// structured-output mode.
	RequiresStructuredOutput bool
	// ComplexReasoning overrides every other rule.
	ComplexReasoning bool
	// Multimodal marks payloads that are not plain text, such as audio.
	Multimodal bool
}

// Policy is the routing table. Build it once with NewPolicy and share it; it
// is immutable and safe for concurrent use.
type Policy struct {
	Standard             Target
	Structured           Target
	LongContext          Target
	Reasoning            Target
	LongContextThreshold int
}

// NewPolicy converts configuration into a validated Policy.
func NewPolicy(cfg config.RouterConfig) (Policy, error) {
	p := Policy{
		Standard:             Target{Backend: Backend(cfg.Standard.Backend), Model: cfg.Standard.Model},
		Structured:           Target{Backend: Backend(cfg.Structured.Backend), Model: cfg.Structured.Model},
		LongContext:          Target{Backend: Backend(cfg.LongContext.Backend), Model: cfg.LongContext.Model},
		Reasoning:            Target{Backend: Backend(cfg.Reasoning.Backend), Model: cfg.Reasoning.Model},
		LongContextThreshold: cfg.LongContextThreshold,
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that every class has a usable target.
func (p Policy) Validate() error {
	targets := map[Class]Target{
		ClassStandard:    p.Standard,
		ClassStructured:  p.Structured,
		ClassLongContext: p.LongContext,
		ClassReasoning:   p.Reasoning,
	}
	for class, t := range targets {
		if !t.Backend.Valid() {
			return fmt.Errorf("%w: %s backend %q", ErrInvalidPolicy, class, t.Backend)
		}
		if t.Model == "" {
			return fmt.Errorf("%w: %s model is empty", ErrInvalidPolicy, class)
		}
	}
	if !p.LongContext.Backend.AcceptsAttachments() {
		return fmt.Errorf("%w: long context backend %q cannot take attachments", ErrInvalidPolicy, p.LongContext.Backend)
	}
	if p.LongContextThreshold <= 0 {
		return fmt.Errorf("%w: long context threshold must be positive", ErrInvalidPolicy)
	}
	return nil
}

// Route selects the backend and model for req. Rules apply in order:
//  1. ComplexReasoning routes to the reasoning target regardless of cost.
//  2. Strict structured output (by task type or by request) routes to the
//     structured target.
//  3. Multimodal payloads, or payloads at or above LongContextThreshold,
//     route to the long-context target.
//  4. Everything else routes to the standard target.
//
// Attachment support is a hard capability: a multimodal request whose chosen
// target cannot take attachments falls back to the long-context target.
// Structured results still hold there because the gateway validates output
// against the task schema whatever the backend.
func (p Policy) Route(req Request) (Route, error) {
	strict, err := requiresStrictOutput(req.TaskType)
	if err != nil {
		return Route{}, err
	}

	var r Route
	switch {
	case req.ComplexReasoning:
		r = p.route(p.Reasoning, ClassReasoning)
	case strict || req.RequiresStructuredOutput:
		r = p.route(p.Structured, ClassStructured)
	case req.Multimodal || req.PayloadSize >= p.LongContextThreshold:
		r = p.route(p.LongContext, ClassLongContext)
	default:
		r = p.route(p.Standard, ClassStandard)
	}

	if req.Multimodal && !r.Backend.AcceptsAttachments() {
		r = p.route(p.LongContext, ClassLongContext)
	}
	return r, nil
}

func (p Policy) route(t Target, class Class) Route {
	return Route{Backend: t.Backend, Model: t.Model, Class: class}
}

// requiresStrictOutput is the routing table's per-type rule. Every task type
// must appear here.
func requiresStrictOutput(t domain.TaskType) (bool, error) {
	switch t {
	case domain.TaskTypeFlashcards, domain.TaskTypeAssessment, domain.TaskTypeGlossary:
		return true, nil
	case domain.TaskTypeSummary, domain.TaskTypeHomework, domain.TaskTypeTutorStep,
		domain.TaskTypeDiagram, domain.TaskTypeChat:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownTaskType, t)
	}
}
