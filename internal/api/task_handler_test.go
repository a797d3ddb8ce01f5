package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/metrics"
	"github.com/phrazzld/scry-tasks/internal/platform/memory"
	"github.com/phrazzld/scry-tasks/internal/service/auth"
	"github.com/phrazzld/scry-tasks/internal/task"
)

// tokenValidator treats the bearer token as the owner ID.
type tokenValidator struct{}

func (tokenValidator) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	if token == "invalid" {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{Subject: token}, nil
}

type apiHarness struct {
	store  *memory.TaskStore
	queue  *memory.Queue
	router http.Handler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s := memory.NewTaskStore()
	q := memory.NewQueue(memory.DefaultQueueConfig(), logger)
	t.Cleanup(func() { _ = q.Close() })

	return &apiHarness{
		store: s,
		queue: q,
		router: NewRouter(RouterConfig{
			Tasks:     task.NewPipeline(s, q, logger, m),
			Validator: tokenValidator{},
			Gatherer:  reg,
			Logger:    logger,
		}),
	}
}

func (h *apiHarness) do(method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *apiHarness) submit(t *testing.T, owner string) uuid.UUID {
	t.Helper()
	w := h.do(http.MethodPost, "/api/tasks", owner, `{"task_type":"summary","payload_ref":"text:notes"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp SubmitTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp.TaskID)
	require.NoError(t, err)
	return id
}

func TestSubmitTask(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(http.MethodPost, "/api/tasks", "user-1",
		`{"task_type":"flashcards","payload_ref":"doc:3f1c","complex_reasoning":false}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp SubmitTaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PENDING", resp.Status)

	id, err := uuid.Parse(resp.TaskID)
	require.NoError(t, err)

	stored, err := h.store.Get(context.Background(), id, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskTypeFlashcards, stored.Type)
	assert.Equal(t, 1, h.queue.Len())
}

func TestSubmitTask_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		body       string
		wantStatus int
	}{
		{"no token", "", `{"task_type":"summary","payload_ref":"text:x"}`, http.StatusUnauthorized},
		{"invalid token", "invalid", `{"task_type":"summary","payload_ref":"text:x"}`, http.StatusUnauthorized},
		{"malformed json", "user-1", `{"task_type":`, http.StatusBadRequest},
		{"unknown field", "user-1", `{"task_type":"summary","payload_ref":"text:x","model":"gpt"}`, http.StatusBadRequest},
		{"missing task type", "user-1", `{"payload_ref":"text:x"}`, http.StatusBadRequest},
		{"missing payload", "user-1", `{"task_type":"summary"}`, http.StatusBadRequest},
		{"unknown task type", "user-1", `{"task_type":"poetry","payload_ref":"text:x"}`, http.StatusBadRequest},
		{"bad payload ref", "user-1", `{"task_type":"summary","payload_ref":"ftp:x"}`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newAPIHarness(t)
			w := h.do(http.MethodPost, "/api/tasks", tc.token, tc.body)
			assert.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, 0, h.queue.Len())
		})
	}
}

func TestGetTask_Lifecycle(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	id := h.submit(t, "user-1")

	w := h.do(http.MethodGet, "/api/tasks/"+id.String(), "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var pending TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	assert.Equal(t, "PENDING", pending.Status)
	assert.Nil(t, pending.Result)
	assert.Nil(t, pending.Error)

	_, err := h.store.Claim(ctx, id, time.Minute)
	require.NoError(t, err)
	_, err = h.store.RecordAttempt(ctx, id, 3)
	require.NoError(t, err)
	require.NoError(t, h.store.Complete(ctx, id, domain.NewTextResult("a short summary")))

	w = h.do(http.MethodGet, "/api/tasks/"+id.String(), "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var done TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &done))
	assert.Equal(t, "COMPLETED", done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "a short summary", done.Result.Text)
	assert.Nil(t, done.Error)
	assert.Equal(t, 1, done.AttemptCount)
}

func TestGetTask_Failed(t *testing.T) {
	h := newAPIHarness(t)
	ctx := context.Background()
	id := h.submit(t, "user-1")

	_, err := h.store.Claim(ctx, id, time.Minute)
	require.NoError(t, err)
	require.NoError(t, h.store.Fail(ctx, id, domain.NewTaskFailure(domain.ErrorCodeContentPolicy)))

	w := h.do(http.MethodGet, "/api/tasks/"+id.String(), "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp TaskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FAILED", resp.Status)
	assert.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(domain.ErrorCodeContentPolicy), resp.Error.Code)
	assert.Equal(t, domain.FailureMessage(domain.ErrorCodeContentPolicy), resp.Error.Message)
}

func TestGetTask_Errors(t *testing.T) {
	h := newAPIHarness(t)
	id := h.submit(t, "user-1")

	tests := []struct {
		name       string
		path       string
		token      string
		wantStatus int
	}{
		{"other owner", "/api/tasks/" + id.String(), "user-2", http.StatusForbidden},
		{"unknown task", "/api/tasks/" + uuid.NewString(), "user-1", http.StatusNotFound},
		{"malformed id", "/api/tasks/not-a-uuid", "user-1", http.StatusBadRequest},
		{"unauthenticated", "/api/tasks/" + id.String(), "", http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := h.do(http.MethodGet, tc.path, tc.token, "")
			assert.Equal(t, tc.wantStatus, w.Code)
			assert.NotContains(t, w.Body.String(), "payload_ref")
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newAPIHarness(t)
	h.submit(t, "user-1")

	w := h.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	w = h.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("summary")))
}
