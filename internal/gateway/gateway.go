package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/phrazzld/scry-tasks/internal/config"
	"github.com/phrazzld/scry-tasks/internal/content"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/generation"
	"github.com/phrazzld/scry-tasks/internal/metrics"
	"github.com/phrazzld/scry-tasks/internal/platform/logger"
	"github.com/phrazzld/scry-tasks/internal/router"
	"github.com/phrazzld/scry-tasks/internal/telemetry"
)

// Request is one logical generation: a routed prompt and the result shape
// the output must decode into.
type Request struct {
	Route      router.Route
	Prompt     string
	Attachment *content.Content
	Kind       domain.ResultKind
}

// Options tune a single Generate call.
type Options struct {
	// Budget caps the attempts for this call below the configured maximum.
	// Zero or negative means the configured maximum.
	Budget int
	// OnAttempt runs before every attempt, after the rate limiter admits
	// it, with its 1-based number within this call. A non-nil error aborts
	// the call and is returned unchanged.
	OnAttempt func(ctx context.Context, attempt int) error
}

// Gateway performs generation calls against the configured backends.
type Gateway struct {
	cfg      config.GatewayConfig
	adapters map[router.Backend]Adapter
	limiters map[router.Backend]*rate.Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// New creates a Gateway over the given adapters. Backends without an
// adapter fail every call terminally.
func New(
	cfg config.GatewayConfig,
	adapters map[router.Backend]Adapter,
	log *slog.Logger,
	m *metrics.Metrics,
) (*Gateway, error) {
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("gateway max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.CallTimeout <= 0 {
		return nil, errors.New("gateway call timeout must be positive")
	}
	if len(adapters) == 0 {
		return nil, errors.New("gateway needs at least one backend adapter")
	}
	if log == nil {
		log = slog.Default()
	}

	limiters := make(map[router.Backend]*rate.Limiter, len(adapters))
	for backend := range adapters {
		if cfg.RequestsPerSecond > 0 {
			burst := cfg.Burst
			if burst < 1 {
				burst = 1
			}
			limiters[backend] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
		} else {
			limiters[backend] = rate.NewLimiter(rate.Inf, 1)
		}
	}

	return &Gateway{
		cfg:      cfg,
		adapters: adapters,
		limiters: limiters,
		logger:   log.With(slog.String("component", "gateway")),
		metrics:  m,
		tracer:   telemetry.Tracer(),
	}, nil
}

// MaxAttempts is the configured per-call attempt ceiling.
func (g *Gateway) MaxAttempts() int {
	return g.cfg.MaxAttempts
}

// Generate runs req against its routed backend until the output decodes
// into the requested result kind, a terminal failure occurs, or the attempt
// budget is spent. Every failure is a *Error except errors returned by
// opts.OnAttempt, which pass through unchanged.
func (g *Gateway) Generate(ctx context.Context, req Request, opts Options) (*domain.Result, error) {
	backend := req.Route.Backend
	adapter, ok := g.adapters[backend]
	if !ok {
		return nil, &Error{
			Kind:    Terminal,
			Code:    CodeUnsupported,
			Backend: backend,
			Err:     fmt.Errorf("no adapter configured for backend %q", backend),
		}
	}

	schema, err := generation.Schema(req.Kind)
	if err != nil {
		return nil, &Error{Kind: Terminal, Code: CodeInvalidRequest, Backend: backend, Err: err}
	}

	budget := g.cfg.MaxAttempts
	if opts.Budget > 0 && opts.Budget < budget {
		budget = opts.Budget
	}

	ctx, span := g.tracer.Start(ctx, "gateway.generate", trace.WithAttributes(
		attribute.String("gen_ai.system", string(backend)),
		attribute.String("gen_ai.request.model", req.Route.Model),
		attribute.String("scry.route_class", string(req.Route.Class)),
		attribute.String("scry.result_kind", string(req.Kind)),
	))
	defer span.End()

	log := logger.FromContextOrDefault(ctx, g.logger).With(
		slog.String("backend", string(backend)),
		slog.String("model", req.Route.Model),
	)

	call := Call{
		Model:      req.Route.Model,
		Prompt:     req.Prompt,
		Attachment: req.Attachment,
		Schema:     schema,
		SchemaName: generation.SchemaName(req.Kind),
	}

	var (
		attempts int
		lastErr  *Error
		hookErr  error
		result   *domain.Result
	)

	operation := func() error {
		// An attempt counts only once the limiter admits it.
		if err := g.limiters[backend].Wait(ctx); err != nil {
			return backoff.Permanent(g.cancelled(backend, attempts, err))
		}
		if opts.OnAttempt != nil {
			if err := opts.OnAttempt(ctx, attempts+1); err != nil {
				hookErr = err
				return backoff.Permanent(err)
			}
		}
		attempts++

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		raw, err := adapter.Generate(callCtx, call)
		cancel()
		elapsed := time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				g.metrics.Attempt(string(backend), req.Route.Model, CodeCancelled, elapsed)
				return backoff.Permanent(g.cancelled(backend, attempts, ctx.Err()))
			}
			gErr := classified(err, backend, attempts)
			g.metrics.Attempt(string(backend), req.Route.Model, gErr.Kind.String(), elapsed)
			lastErr = gErr
			if gErr.Kind == Terminal {
				return backoff.Permanent(gErr)
			}
			return gErr
		}

		decoded, err := generation.Decode(req.Kind, raw)
		if err != nil {
			gErr := &Error{
				Kind:     MalformedOutput,
				Code:     CodeMalformedOutput,
				Backend:  backend,
				Attempts: attempts,
				Err:      err,
			}
			g.metrics.Attempt(string(backend), req.Route.Model, MalformedOutput.String(), elapsed)
			lastErr = gErr
			return gErr
		}

		g.metrics.Attempt(string(backend), req.Route.Model, "success", elapsed)
		result = decoded
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.WarnContext(ctx, "generation attempt failed, retrying",
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(
		backoff.WithMaxRetries(g.newBackOff(), uint64(budget-1)), ctx), notify)
	span.SetAttributes(attribute.Int("scry.attempts", attempts))

	if err == nil {
		span.SetStatus(codes.Ok, "")
		return result, nil
	}

	final := g.finalError(ctx, err, hookErr, lastErr, backend, attempts)
	span.RecordError(final)
	span.SetStatus(codes.Error, final.Error())
	log.WarnContext(ctx, "generation failed",
		slog.Int("attempt", attempts),
		slog.String("error", final.Error()))
	return nil, final
}

func (g *Gateway) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.cfg.InitialBackoff
	b.MaxInterval = g.cfg.MaxBackoff
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return b
}

// finalError turns whatever the retry loop stopped on into the error
// Generate reports.
func (g *Gateway) finalError(
	ctx context.Context,
	err, hookErr error,
	lastErr *Error,
	backend router.Backend,
	attempts int,
) error {
	if hookErr != nil {
		return hookErr
	}
	if gErr, ok := AsError(err); ok && gErr.Code == CodeCancelled {
		return gErr
	}
	if ctx.Err() != nil {
		return g.cancelled(backend, attempts, ctx.Err())
	}
	if lastErr == nil {
		return classified(err, backend, attempts)
	}
	lastErr.Attempts = attempts
	switch lastErr.Kind {
	case Transient:
		return &Error{
			Kind:     Terminal,
			Code:     CodeAttemptsExhausted,
			Backend:  backend,
			Attempts: attempts,
			Err:      lastErr,
		}
	default:
		return lastErr
	}
}

func (g *Gateway) cancelled(backend router.Backend, attempts int, err error) *Error {
	return &Error{Kind: Transient, Code: CodeCancelled, Backend: backend, Attempts: attempts, Err: err}
}

func classified(err error, backend router.Backend, attempts int) *Error {
	src := ClassifyTransportError(err)
	gErr := *src
	gErr.Backend = backend
	gErr.Attempts = attempts
	return &gErr
}
