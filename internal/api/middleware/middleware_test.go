package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/phrazzld/scry-tasks/internal/api/shared"
	"github.com/phrazzld/scry-tasks/internal/platform/logger"
	"github.com/phrazzld/scry-tasks/internal/service/auth"
)

type validatorFunc func(ctx context.Context, token string) (*auth.Claims, error)

func (f validatorFunc) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	return f(ctx, token)
}

func TestAuthenticate(t *testing.T) {
	validator := validatorFunc(func(_ context.Context, token string) (*auth.Claims, error) {
		switch token {
		case "good":
			return &auth.Claims{Subject: "owner-1"}, nil
		case "expired":
			return nil, auth.ErrExpiredToken
		case "nosub":
			return nil, auth.ErrMissingSubject
		case "broken":
			return nil, errors.New("key store at /etc/keys unavailable")
		default:
			return nil, auth.ErrInvalidToken
		}
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantOwner  string
	}{
		{"valid", "Bearer good", http.StatusOK, "owner-1"},
		{"lowercase scheme", "bearer good", http.StatusOK, "owner-1"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"no token", "Bearer ", http.StatusUnauthorized, ""},
		{"invalid", "Bearer bad", http.StatusUnauthorized, ""},
		{"expired", "Bearer expired", http.StatusUnauthorized, ""},
		{"no subject", "Bearer nosub", http.StatusUnauthorized, ""},
		{"validator failure", "Bearer broken", http.StatusInternalServerError, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var owner string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				owner, _ = GetOwnerID(r)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/tasks/1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()

			NewAuthMiddleware(validator).Authenticate(next).ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, tc.wantOwner, owner)
			assert.NotContains(t, w.Body.String(), "/etc/keys")
		})
	}
}

func TestTraceMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var traceID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
		logger.FromContext(r.Context()).Info("inside handler")
	})

	NewTraceMiddleware(base)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Len(t, traceID, 32)
	assert.Contains(t, buf.String(), "msg=\"inside handler\" trace_id="+traceID)
}
