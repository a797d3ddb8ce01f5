package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-tasks/internal/config"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/router"
)

func testConfig() config.GatewayConfig {
	return config.GatewayConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		CallTimeout:       time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
	}
}

// scripted returns an adapter that replays responses in order and counts calls.
func scripted(calls *int32, steps ...func(Call) (string, error)) Adapter {
	return AdapterFunc(func(_ context.Context, call Call) (string, error) {
		n := int(atomic.AddInt32(calls, 1))
		if n > len(steps) {
			return "", fmt.Errorf("unexpected call %d", n)
		}
		return steps[n-1](call)
	})
}

func ok(raw string) func(Call) (string, error) {
	return func(Call) (string, error) { return raw, nil }
}

func fail(err error) func(Call) (string, error) {
	return func(Call) (string, error) { return "", err }
}

func newTestGateway(t *testing.T, a Adapter) *Gateway {
	t.Helper()
	g, err := New(testConfig(), map[router.Backend]Adapter{router.BackendOpenAI: a}, nil, nil)
	require.NoError(t, err)
	return g
}

func textRequest() Request {
	return Request{
		Route:  router.Route{Backend: router.BackendOpenAI, Model: "gpt-4o-mini", Class: router.ClassStandard},
		Prompt: "summarize this",
		Kind:   domain.ResultKindText,
	}
}

func TestNew_Validation(t *testing.T) {
	adapters := map[router.Backend]Adapter{router.BackendOpenAI: AdapterFunc(nil)}

	cfg := testConfig()
	cfg.MaxAttempts = 0
	_, err := New(cfg, adapters, nil, nil)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.CallTimeout = 0
	_, err = New(cfg, adapters, nil, nil)
	assert.Error(t, err)

	_, err = New(testConfig(), nil, nil, nil)
	assert.Error(t, err)
}

func TestGenerate_Success(t *testing.T) {
	var calls int32
	g := newTestGateway(t, scripted(&calls, ok("  a short summary  ")))

	result, err := g.Generate(context.Background(), textRequest(), Options{})
	require.NoError(t, err)
	assert.Equal(t, domain.ResultKindText, result.Kind)
	assert.Equal(t, "a short summary", result.Text)
	assert.EqualValues(t, 1, calls)
}

func TestGenerate_StructuredPassesSchema(t *testing.T) {
	var seen Call
	g := newTestGateway(t, AdapterFunc(func(_ context.Context, call Call) (string, error) {
		seen = call
		return "```json\n{\"items\":[{\"question\":\"Q\",\"answer\":\"A\"}]}\n```", nil
	}))

	req := textRequest()
	req.Kind = domain.ResultKindQAPairs
	result, err := g.Generate(context.Background(), req, Options{})
	require.NoError(t, err)
	require.Len(t, result.QAPairs, 1)
	assert.Equal(t, "Q", result.QAPairs[0].Question)
	assert.NotEmpty(t, seen.Schema)
	assert.Equal(t, "qa_pairs_response", seen.SchemaName)
	assert.Equal(t, "gpt-4o-mini", seen.Model)
}

func TestGenerate_TransientThenSuccess(t *testing.T) {
	var calls int32
	var hooks []int
	g := newTestGateway(t, scripted(&calls,
		fail(ClassifyHTTPStatus(http.StatusTooManyRequests, errors.New("slow down"))),
		fail(ClassifyTransportError(context.DeadlineExceeded)),
		ok("done"),
	))

	result, err := g.Generate(context.Background(), textRequest(), Options{
		OnAttempt: func(_ context.Context, attempt int) error {
			hooks = append(hooks, attempt)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Text)
	assert.EqualValues(t, 3, calls)
	assert.Equal(t, []int{1, 2, 3}, hooks)
}

func TestGenerate_TransientExhausted(t *testing.T) {
	var calls int32
	serverErr := ClassifyHTTPStatus(http.StatusBadGateway, errors.New("bad gateway"))
	g := newTestGateway(t, scripted(&calls, fail(serverErr), fail(serverErr), fail(serverErr)))

	_, err := g.Generate(context.Background(), textRequest(), Options{})
	require.Error(t, err)

	gErr, isGateway := AsError(err)
	require.True(t, isGateway)
	assert.Equal(t, Terminal, gErr.Kind)
	assert.Equal(t, CodeAttemptsExhausted, gErr.Code)
	assert.Equal(t, 3, gErr.Attempts)
	assert.Equal(t, router.BackendOpenAI, gErr.Backend)
	assert.EqualValues(t, 3, calls)
}

func TestGenerate_TerminalNotRetried(t *testing.T) {
	var calls int32
	g := newTestGateway(t, scripted(&calls,
		fail(ClassifyHTTPStatus(http.StatusUnauthorized, errors.New("bad key"))),
	))

	_, err := g.Generate(context.Background(), textRequest(), Options{})
	gErr, isGateway := AsError(err)
	require.True(t, isGateway)
	assert.Equal(t, Terminal, gErr.Kind)
	assert.Equal(t, CodeAuth, gErr.Code)
	assert.Equal(t, 1, gErr.Attempts)
	assert.EqualValues(t, 1, calls)
}

func TestGenerate_MalformedOutput(t *testing.T) {
	t.Run("retried then succeeds", func(t *testing.T) {
		var calls int32
		g := newTestGateway(t, scripted(&calls,
			ok("not json"),
			ok(`{"terms":[{"term":"cell","definition":"unit of life"}]}`),
		))
		req := textRequest()
		req.Kind = domain.ResultKindTerms

		result, err := g.Generate(context.Background(), req, Options{})
		require.NoError(t, err)
		assert.Len(t, result.Terms, 1)
		assert.EqualValues(t, 2, calls)
	})

	t.Run("exhausted stays malformed", func(t *testing.T) {
		var calls int32
		g := newTestGateway(t, scripted(&calls, ok("{}"), ok("[]"), ok("nope")))
		req := textRequest()
		req.Kind = domain.ResultKindMCQ

		_, err := g.Generate(context.Background(), req, Options{})
		gErr, isGateway := AsError(err)
		require.True(t, isGateway)
		assert.Equal(t, MalformedOutput, gErr.Kind)
		assert.Equal(t, CodeMalformedOutput, gErr.Code)
		assert.Equal(t, 3, gErr.Attempts)
	})
}

func TestGenerate_BudgetCapsAttempts(t *testing.T) {
	var calls int32
	serverErr := ClassifyHTTPStatus(http.StatusServiceUnavailable, errors.New("unavailable"))
	g := newTestGateway(t, scripted(&calls, fail(serverErr), fail(serverErr), fail(serverErr)))

	_, err := g.Generate(context.Background(), textRequest(), Options{Budget: 1})
	gErr, isGateway := AsError(err)
	require.True(t, isGateway)
	assert.Equal(t, CodeAttemptsExhausted, gErr.Code)
	assert.EqualValues(t, 1, calls)
}

func TestGenerate_OnAttemptErrorAborts(t *testing.T) {
	var calls int32
	ceiling := errors.New("ceiling reached")
	g := newTestGateway(t, scripted(&calls,
		fail(ClassifyHTTPStatus(http.StatusInternalServerError, errors.New("boom"))),
		ok("unreachable"),
	))

	_, err := g.Generate(context.Background(), textRequest(), Options{
		OnAttempt: func(_ context.Context, attempt int) error {
			if attempt == 2 {
				return ceiling
			}
			return nil
		},
	})
	assert.ErrorIs(t, err, ceiling)
	_, isGateway := AsError(err)
	assert.False(t, isGateway)
	assert.EqualValues(t, 1, calls)
}

func TestGenerate_LimiterWaitDoesNotSpendAttempt(t *testing.T) {
	var calls int32
	cfg := testConfig()
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	g, err := New(cfg, map[router.Backend]Adapter{
		router.BackendOpenAI: scripted(&calls, ok("first")),
	}, nil, nil)
	require.NoError(t, err)

	var recorded int32
	opts := Options{OnAttempt: func(context.Context, int) error {
		atomic.AddInt32(&recorded, 1)
		return nil
	}}

	_, err = g.Generate(context.Background(), textRequest(), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Generate(ctx, textRequest(), opts)
	gErr, isGateway := AsError(err)
	require.True(t, isGateway)
	assert.Equal(t, CodeCancelled, gErr.Code)
	assert.Zero(t, gErr.Attempts)

	assert.EqualValues(t, 1, atomic.LoadInt32(&recorded), "throttled call records no attempt")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGenerate_UnsupportedBackend(t *testing.T) {
	g := newTestGateway(t, AdapterFunc(func(context.Context, Call) (string, error) { return "x", nil }))
	req := textRequest()
	req.Route.Backend = router.BackendAnthropic

	_, err := g.Generate(context.Background(), req, Options{})
	gErr, isGateway := AsError(err)
	require.True(t, isGateway)
	assert.Equal(t, Terminal, gErr.Kind)
	assert.Equal(t, CodeUnsupported, gErr.Code)
}

func TestGenerate_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := newTestGateway(t, AdapterFunc(func(callCtx context.Context, _ Call) (string, error) {
		cancel()
		<-callCtx.Done()
		return "", callCtx.Err()
	}))

	_, err := g.Generate(ctx, textRequest(), Options{})
	gErr, isGateway := AsError(err)
	require.True(t, isGateway)
	assert.Equal(t, Transient, gErr.Kind)
	assert.Equal(t, CodeCancelled, gErr.Code)
}

func TestGenerate_CallTimeoutIsTransient(t *testing.T) {
	var calls int32
	cfg := testConfig()
	cfg.CallTimeout = 10 * time.Millisecond
	g, err := New(cfg, map[router.Backend]Adapter{
		router.BackendOpenAI: AdapterFunc(func(ctx context.Context, _ Call) (string, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				<-ctx.Done()
				return "", ctx.Err()
			}
			return "recovered", nil
		}),
	}, nil, nil)
	require.NoError(t, err)

	result, err := g.Generate(context.Background(), textRequest(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.EqualValues(t, 2, calls)
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
		code   string
	}{
		{http.StatusTooManyRequests, Transient, CodeRateLimited},
		{http.StatusRequestTimeout, Transient, CodeTimeout},
		{http.StatusInternalServerError, Transient, CodeServerError},
		{http.StatusServiceUnavailable, Transient, CodeServerError},
		{http.StatusUnauthorized, Terminal, CodeAuth},
		{http.StatusForbidden, Terminal, CodeAuth},
		{http.StatusBadRequest, Terminal, CodeInvalidRequest},
		{http.StatusNotFound, Terminal, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			gErr := ClassifyHTTPStatus(tt.status, errors.New("x"))
			assert.Equal(t, tt.kind, gErr.Kind)
			assert.Equal(t, tt.code, gErr.Code)
		})
	}
}

func TestClassifyTransportError(t *testing.T) {
	assert.Equal(t, CodeTimeout, ClassifyTransportError(context.DeadlineExceeded).Code)
	assert.Equal(t, CodeCancelled, ClassifyTransportError(context.Canceled).Code)
	assert.Equal(t, CodeNetwork, ClassifyTransportError(errors.New("connection reset")).Code)

	terminal := NewTerminalError(CodeContentPolicy, errors.New("blocked"))
	assert.Same(t, terminal, ClassifyTransportError(fmt.Errorf("wrapped: %w", terminal)))
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: Terminal, Code: CodeAuth, Backend: router.BackendGemini, Attempts: 1, Err: errors.New("denied")}
	assert.Contains(t, err.Error(), "terminal")
	assert.Contains(t, err.Error(), "auth")
	assert.Contains(t, err.Error(), "gemini")
	assert.Contains(t, err.Error(), "denied")
}
