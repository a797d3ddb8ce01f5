package auth

import (
	"context"
	"time"
)

// JWTService defines operations for managing JWT authentication tokens.
// The token subject identifies the owner of every task submitted with it.
type JWTService interface {
	// GenerateToken creates a signed JWT for ownerID.
	// Returns the token string or an error if token generation fails.
	GenerateToken(ctx context.Context, ownerID string) (string, error)

	// ValidateToken validates the provided token string and extracts the claims.
	// Returns the claims if the token is valid, or an error if validation
	// fails (expired, invalid signature, missing subject, etc.).
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims represents the validated claims of a token.
type Claims struct {
	// Subject is the owner identity the token was issued for.
	Subject   string    `json:"sub"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
