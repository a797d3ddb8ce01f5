package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-tasks/internal/config"
	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/gateway"
	"github.com/phrazzld/scry-tasks/internal/router"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "debug", ShutdownTimeout: time.Second},
		Auth: config.AuthConfig{
			JWTSecret:     "thisisasecretkeythatis32charslong!!",
			TokenLifetime: time.Hour,
		},
		Storage: config.StorageConfig{Driver: "memory"},
		Queue: config.QueueConfig{
			VisibilityTimeout: time.Minute,
			Prefetch:          2,
			PollInterval:      10 * time.Millisecond,
			Buffer:            100,
		},
		Worker: config.WorkerConfig{
			Count:         2,
			Embedded:      true,
			ClaimLease:    time.Minute,
			SweepInterval: time.Minute,
			StaleAfter:    time.Minute,
			SweepBatch:    10,
		},
		Gateway: config.GatewayConfig{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
			CallTimeout:       time.Second,
			RequestsPerSecond: 1000,
			Burst:             10,
		},
		Router: config.RouterConfig{
			Standard:             config.RouteTarget{Backend: "openai", Model: "standard-model"},
			Structured:           config.RouteTarget{Backend: "openai", Model: "structured-model"},
			LongContext:          config.RouteTarget{Backend: "gemini", Model: "long-model"},
			Reasoning:            config.RouteTarget{Backend: "anthropic", Model: "reasoning-model"},
			LongContextThreshold: 10000,
		},
		Content: config.ContentConfig{CacheTTL: time.Minute},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixedAdapters answers every call on every backend with reply.
func fixedAdapters(reply string, calls *atomic.Int32) adapterFactory {
	return func(context.Context, config.LLMConfig) (map[router.Backend]gateway.Adapter, error) {
		a := gateway.AdapterFunc(func(context.Context, gateway.Call) (string, error) {
			calls.Add(1)
			return reply, nil
		})
		return map[router.Backend]gateway.Adapter{
			router.BackendOpenAI:    a,
			router.BackendGemini:    a,
			router.BackendAnthropic: a,
		}, nil
	}
}

func newTestApp(t *testing.T, reply string, calls *atomic.Int32) *application {
	t.Helper()
	app, err := newApplication(context.Background(), testConfig(), testLogger(), fixedAdapters(reply, calls))
	require.NoError(t, err)
	t.Cleanup(func() { app.close(context.Background()) })
	return app
}

func TestNewApplication_Memory(t *testing.T) {
	var calls atomic.Int32
	app := newTestApp(t, "summary", &calls)

	assert.NotNil(t, app.store)
	assert.NotNil(t, app.transport)
	assert.NotNil(t, app.pipeline)
	assert.NotNil(t, app.processor)
	assert.Nil(t, app.db)
}

func TestNewApplication_Failures(t *testing.T) {
	t.Run("no backends", func(t *testing.T) {
		factory := func(context.Context, config.LLMConfig) (map[router.Backend]gateway.Adapter, error) {
			return nil, errors.New("no AI backend credentials configured")
		}
		_, err := newApplication(context.Background(), testConfig(), testLogger(), factory)
		assert.ErrorContains(t, err, "AI backends")
	})

	t.Run("short jwt secret", func(t *testing.T) {
		cfg := testConfig()
		cfg.Auth.JWTSecret = "short"
		var calls atomic.Int32
		_, err := newApplication(context.Background(), cfg, testLogger(), fixedAdapters("x", &calls))
		assert.ErrorContains(t, err, "JWT")
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := testConfig()
		cfg.Storage.Driver = "redis"
		var calls atomic.Int32
		_, err := newApplication(context.Background(), cfg, testLogger(), fixedAdapters("x", &calls))
		assert.ErrorContains(t, err, "unknown storage driver")
	})
}

func TestBackendAdapters(t *testing.T) {
	_, err := backendAdapters(context.Background(), config.LLMConfig{})
	assert.Error(t, err)

	adapters, err := backendAdapters(context.Background(), config.LLMConfig{
		OpenAIAPIKey:    "sk-test",
		AnthropicAPIKey: "anthropic-test",
	})
	require.NoError(t, err)
	assert.Len(t, adapters, 2)
	assert.Contains(t, adapters, router.BackendOpenAI)
	assert.Contains(t, adapters, router.BackendAnthropic)
	assert.NotContains(t, adapters, router.BackendGemini)
}

func TestSubmitTask_WaitsWithInProcessWorkers(t *testing.T) {
	var calls atomic.Int32
	app := newTestApp(t, "Plants turn light into sugar.", &calls)

	var out bytes.Buffer
	err := submitTask(context.Background(), app, submitOptions{
		owner:    "user-1",
		taskType: "summary",
		payload:  "text:Photosynthesis converts light energy into chemical energy.",
		wait:     true,
		interval: 5 * time.Millisecond,
		timeout:  2 * time.Second,
	}, &out)
	require.NoError(t, err)

	var got domain.Task
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Plants turn light into sugar.", got.Result.Text)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitTask_InvalidSubmission(t *testing.T) {
	var calls atomic.Int32
	app := newTestApp(t, "x", &calls)

	var out bytes.Buffer
	err := submitTask(context.Background(), app, submitOptions{
		owner:    "user-1",
		taskType: "poetry",
		payload:  "text:x",
	}, &out)
	assert.Error(t, err)
	assert.Empty(t, out.String())
}

func TestHandler_SubmitAndRead(t *testing.T) {
	var calls atomic.Int32
	app := newTestApp(t, "x", &calls)
	srv := httptest.NewServer(app.handler())
	defer srv.Close()

	token, err := app.jwtService.GenerateToken(context.Background(), "user-1")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/tasks",
		strings.NewReader(`{"task_type":"glossary","payload_ref":"text:mitochondria, ribosome"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/tasks/"+accepted.TaskID, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "scry_tasks_submitted_total")
	assert.Contains(t, string(body), "go_goroutines")
}
