package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-tasks/internal/content"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/gateway"
	"github.com/phrazzld/scry-tasks/internal/generation"
	"github.com/phrazzld/scry-tasks/internal/metrics"
	"github.com/phrazzld/scry-tasks/internal/platform/logger"
	"github.com/phrazzld/scry-tasks/internal/prompt"
	"github.com/phrazzld/scry-tasks/internal/queue"
	"github.com/phrazzld/scry-tasks/internal/redact"
	"github.com/phrazzld/scry-tasks/internal/router"
	"github.com/phrazzld/scry-tasks/internal/store"
	"github.com/phrazzld/scry-tasks/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Delivery outcomes reported to metrics.
const (
	outcomeAck  = "ack"
	outcomeNack = "nack"
	outcomeNoop = "noop"
)

// Router picks a backend and model for a task.
type Router interface {
	Route(req router.Request) (router.Route, error)
}

// PromptRenderer builds the prompt text for a task type.
type PromptRenderer interface {
	Render(taskType domain.TaskType, data prompt.Data) (string, error)
}

// Generator performs AI calls with retry. *gateway.Gateway satisfies it.
type Generator interface {
	Generate(ctx context.Context, req gateway.Request, opts gateway.Options) (*domain.Result, error)
}

// ProcessorConfig holds the processing limits shared by every worker.
type ProcessorConfig struct {
	// ClaimLease is how long a PROCESSING task may go without progress
	// before a redelivery may reclaim it.
	ClaimLease time.Duration
	// MaxAttempts is the lifetime ceiling on AI calls for one task.
	MaxAttempts int
}

// Processor handles one delivery from claim to acknowledgement.
type Processor struct {
	store     store.TaskStore
	loader    content.Loader
	router    Router
	prompts   PromptRenderer
	generator Generator
	config    ProcessorConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// NewProcessor creates a Processor. m may be nil.
func NewProcessor(
	taskStore store.TaskStore,
	loader content.Loader,
	r Router,
	prompts PromptRenderer,
	generator Generator,
	config ProcessorConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Processor, error) {
	if taskStore == nil || loader == nil || r == nil || prompts == nil || generator == nil {
		return nil, errors.New("processor requires a store, loader, router, prompt renderer and generator")
	}
	if config.MaxAttempts < 1 {
		return nil, fmt.Errorf("processor max attempts must be at least 1, got %d", config.MaxAttempts)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		store:     taskStore,
		loader:    loader,
		router:    r,
		prompts:   prompts,
		generator: generator,
		config:    config,
		logger:    logger,
		metrics:   m,
		tracer:    telemetry.Tracer(),
	}, nil
}

// Process claims the delivered task, runs it to a terminal state, and
// settles the delivery. The message is acknowledged only after the terminal
// state is durable, or when the task is already past PENDING. Store outages
// nack the message so it is redelivered.
//
// The returned error describes why the delivery was nacked; it is nil when
// the delivery was acknowledged.
func (p *Processor) Process(ctx context.Context, d queue.Delivery) error {
	taskID := d.TaskID()
	log := p.logger.With("task_id", taskID, "delivery", d.Attempt())
	ctx = logger.WithLogger(ctx, log)

	ctx, span := p.tracer.Start(ctx, "task.process", trace.WithAttributes(
		attribute.String("scry.task_id", taskID.String()),
		attribute.Int("scry.delivery", d.Attempt()),
	))
	defer span.End()

	t, err := p.store.Claim(ctx, taskID, p.config.ClaimLease)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) || errors.Is(err, store.ErrAlreadyClaimed) {
			log.Debug("delivery is a no-op", "reason", err)
			return p.settle(ctx, d, outcomeNoop, nil)
		}
		span.RecordError(err)
		return p.settle(ctx, d, outcomeNack, fmt.Errorf("claim task: %w", err))
	}

	span.SetAttributes(attribute.String("scry.task_type", string(t.Type)))
	log = log.With("task_type", t.Type, "owner_id", t.OwnerID)
	ctx = logger.WithLogger(ctx, log)
	log.Info("task claimed", "attempt_count", t.AttemptCount)

	result, failure, err := p.run(ctx, t)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "task not finished")
		return p.settle(ctx, d, outcomeNack, err)
	case failure != nil:
		return p.fail(ctx, d, t, *failure)
	default:
		return p.complete(ctx, d, t, result)
	}
}

// run produces either a result, a failure to record, or an error that means
// the task should stay PROCESSING and the delivery be retried.
func (p *Processor) run(ctx context.Context, t *domain.Task) (*domain.Result, *domain.TaskFailure, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	remaining := p.config.MaxAttempts - t.AttemptCount
	if remaining <= 0 {
		log.Warn("task reclaimed with no attempts left", "attempt_count", t.AttemptCount)
		return failWith(domain.ErrorCodeAttemptsExhausted)
	}

	kind, err := ResultKindFor(t.Type)
	if err != nil {
		log.Error("task type has no result kind", "error", err)
		return failWith(domain.ErrorCodeGenerationFailed)
	}

	ref, err := content.ParseRef(t.PayloadRef)
	if err != nil {
		log.Warn("invalid payload reference", "error", redact.Error(err))
		return failWith(domain.ErrorCodeLoad)
	}

	c, err := p.loader.Load(ctx, ref)
	if err != nil {
		if errors.Is(err, content.ErrLoad) {
			log.Warn("payload could not be loaded", "ref_kind", ref.Kind, "error", redact.Error(err))
			return failWith(domain.ErrorCodeLoad)
		}
		return nil, nil, fmt.Errorf("load payload: %w", err)
	}

	route, err := p.router.Route(router.Request{
		TaskType:         t.Type,
		PayloadSize:      c.Size(),
		ComplexReasoning: t.ComplexReasoning,
		Multimodal:       c.Multimodal(),
	})
	if err != nil {
		log.Error("no route for task", "error", err)
		return failWith(domain.ErrorCodeGenerationFailed)
	}
	log = log.With("backend", route.Backend, "model", route.Model, "route_class", route.Class)
	ctx = logger.WithLogger(ctx, log)

	schema, err := generationSchema(kind)
	if err != nil {
		log.Error("no schema for result kind", "result_kind", kind, "error", err)
		return failWith(domain.ErrorCodeGenerationFailed)
	}

	text, err := p.prompts.Render(t.Type, prompt.Data{Content: c.Text, Schema: schema})
	if err != nil {
		log.Error("prompt rendering failed", "error", err)
		return failWith(domain.ErrorCodeGenerationFailed)
	}

	req := gateway.Request{Route: route, Prompt: text, Kind: kind}
	if c.Multimodal() {
		req.Attachment = c
	}

	result, err := p.generator.Generate(ctx, req, gateway.Options{
		Budget:    remaining,
		OnAttempt: p.recordAttempt(t.ID),
	})
	if err == nil {
		return result, nil, nil
	}
	return p.classify(ctx, err)
}

// recordAttempt persists each AI call before it is made, so a crash
// mid-call still counts the attempt.
func (p *Processor) recordAttempt(id uuid.UUID) func(ctx context.Context, attempt int) error {
	return func(ctx context.Context, attempt int) error {
		count, err := p.store.RecordAttempt(ctx, id, p.config.MaxAttempts)
		if err != nil {
			return err
		}
		logger.FromContextOrDefault(ctx, p.logger).Debug("attempt recorded",
			"attempt", attempt,
			"attempt_count", count)
		return nil
	}
}

// classify maps a generation error to a failure code, or to an error that
// keeps the task PROCESSING for redelivery.
func (p *Processor) classify(ctx context.Context, err error) (*domain.Result, *domain.TaskFailure, error) {
	log := logger.FromContextOrDefault(ctx, p.logger)

	if errors.Is(err, store.ErrAttemptCeiling) {
		log.Warn("attempt ceiling reached")
		return failWith(domain.ErrorCodeAttemptsExhausted)
	}

	gwErr, ok := gateway.AsError(err)
	if !ok {
		// Store errors from the attempt hook. The task stays PROCESSING and
		// the sweeper or a redelivery will pick it up again.
		return nil, nil, fmt.Errorf("record attempt: %w", err)
	}

	log.Warn("generation failed",
		"error_kind", gwErr.Kind.String(),
		"error_code", gwErr.Code,
		"attempts", gwErr.Attempts,
		"error", redact.Error(gwErr))

	switch gwErr.Kind {
	case gateway.MalformedOutput:
		return failWith(domain.ErrorCodeMalformedOutput)
	case gateway.Terminal:
		switch gwErr.Code {
		case gateway.CodeContentPolicy:
			return failWith(domain.ErrorCodeContentPolicy)
		case gateway.CodeAttemptsExhausted:
			return failWith(domain.ErrorCodeAttemptsExhausted)
		default:
			return failWith(domain.ErrorCodeGenerationFailed)
		}
	default:
		// A transient error surfacing here means the worker itself is
		// shutting down; leave the task for redelivery.
		return nil, nil, fmt.Errorf("generation interrupted: %w", gwErr)
	}
}

func (p *Processor) complete(ctx context.Context, d queue.Delivery, t *domain.Task, result *domain.Result) error {
	log := logger.FromContextOrDefault(ctx, p.logger)

	err := p.store.Complete(ctx, t.ID, result)
	switch {
	case err == nil:
		log.Info("task completed", "result_kind", result.Kind)
		p.finished(ctx, t, domain.TaskStatusCompleted, "")
		return p.settle(ctx, d, outcomeAck, nil)
	case errors.Is(err, store.ErrInvalidEntity):
		log.Error("generated result rejected by store", "error", redact.Error(err))
		return p.fail(ctx, d, t, domain.NewTaskFailure(domain.ErrorCodeMalformedOutput))
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrTaskNotFound):
		log.Warn("task finished elsewhere before completion was recorded")
		return p.settle(ctx, d, outcomeNoop, nil)
	default:
		return p.settle(ctx, d, outcomeNack, fmt.Errorf("complete task: %w", err))
	}
}

func (p *Processor) fail(ctx context.Context, d queue.Delivery, t *domain.Task, failure domain.TaskFailure) error {
	log := logger.FromContextOrDefault(ctx, p.logger)

	err := p.store.Fail(ctx, t.ID, failure)
	switch {
	case err == nil:
		log.Info("task failed", "error_code", failure.Code)
		p.finished(ctx, t, domain.TaskStatusFailed, failure.Code)
		return p.settle(ctx, d, outcomeAck, nil)
	case errors.Is(err, store.ErrInvalidTransition), errors.Is(err, store.ErrTaskNotFound):
		log.Warn("task finished elsewhere before failure was recorded")
		return p.settle(ctx, d, outcomeNoop, nil)
	default:
		return p.settle(ctx, d, outcomeNack, fmt.Errorf("fail task: %w", err))
	}
}

func (p *Processor) finished(ctx context.Context, t *domain.Task, status domain.TaskStatus, code domain.ErrorCode) {
	p.metrics.TaskFinished(string(t.Type), string(status), string(code), time.Since(t.CreatedAt))
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("scry.task_status", string(status)))
}

// settle acks the delivery when cause is nil and nacks it otherwise. It
// returns cause, joined with any settlement error.
func (p *Processor) settle(ctx context.Context, d queue.Delivery, outcome string, cause error) error {
	log := logger.FromContextOrDefault(ctx, p.logger)

	// Settlement must happen even when the work context was cancelled.
	settleCtx := context.WithoutCancel(ctx)

	if cause == nil {
		p.metrics.Delivery(outcome)
		if err := d.Ack(settleCtx); err != nil {
			log.Error("failed to ack delivery", "error", err)
			return fmt.Errorf("ack delivery: %w", err)
		}
		return nil
	}

	p.metrics.Delivery(outcomeNack)
	log.Warn("delivery released for retry", "error", redact.Error(cause))
	if err := d.Nack(settleCtx); err != nil {
		log.Error("failed to nack delivery", "error", err)
		return errors.Join(cause, fmt.Errorf("nack delivery: %w", err))
	}
	return cause
}

func generationSchema(kind domain.ResultKind) (string, error) {
	schema, err := generation.Schema(kind)
	if err != nil {
		return "", err
	}
	return string(schema), nil
}

func failWith(code domain.ErrorCode) (*domain.Result, *domain.TaskFailure, error) {
	f := domain.NewTaskFailure(code)
	return nil, &f, nil
}
