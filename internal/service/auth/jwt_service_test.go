package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-tasks/internal/config"
)

const testSecret = "test-secret-that-is-long-enough-for-testing"

func TestNewJWTService(t *testing.T) {
	_, err := NewJWTService(config.AuthConfig{JWTSecret: "short"})
	assert.Error(t, err)

	svc, err := NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetime: time.Minute})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := newHMACJWTService(testSecret, time.Hour, func() time.Time { return fixedTime })
	require.NoError(t, err)

	token, err := svc.GenerateToken(context.Background(), "owner-42")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "owner-42", claims.Subject)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)

	_, err = svc.GenerateToken(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	fixedTime := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, err := newHMACJWTService(testSecret, time.Hour, func() time.Time { return fixedTime })
	require.NoError(t, err)

	sign := func(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}

	valid := jwt.RegisteredClaims{
		Subject:   "owner-1",
		IssuedAt:  jwt.NewNumericDate(fixedTime),
		ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:  "valid",
			token: sign(t, testSecret, jwt.SigningMethodHS256, valid),
		},
		{
			name:    "wrong secret",
			token:   sign(t, "wrong-secret-that-is-long-enough-for-testing", jwt.SigningMethodHS256, valid),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "malformed",
			token:   "not.a.token",
			wantErr: ErrInvalidToken,
		},
		{
			name: "expired beyond skew",
			token: sign(t, testSecret, jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject:   "owner-1",
				ExpiresAt: jwt.NewNumericDate(fixedTime.Add(-10 * time.Minute)),
			}),
			wantErr: ErrExpiredToken,
		},
		{
			name: "expired within skew",
			token: sign(t, testSecret, jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject:   "owner-1",
				ExpiresAt: jwt.NewNumericDate(fixedTime.Add(-time.Minute)),
			}),
		},
		{
			name: "no expiry",
			token: sign(t, testSecret, jwt.SigningMethodHS256, jwt.RegisteredClaims{
				Subject: "owner-1",
			}),
			wantErr: ErrInvalidToken,
		},
		{
			name: "missing subject",
			token: sign(t, testSecret, jwt.SigningMethodHS256, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
			}),
			wantErr: ErrMissingSubject,
		},
		{
			name:    "wrong algorithm",
			token:   sign(t, testSecret, jwt.SigningMethodHS512, valid),
			wantErr: ErrInvalidToken,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			claims, err := svc.ValidateToken(context.Background(), tc.token)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "owner-1", claims.Subject)
		})
	}
}
