package domain

import (
	"context"
	"time"
)

type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenService issues and verifies portal bearer tokens.
type TokenService interface {
	Issue(ctx context.Context, p Principal) (*IssuedToken, error)
	Parse(ctx context.Context, raw string) (*Principal, error)
}
