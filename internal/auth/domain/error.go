package domain

import "errors"

var (
	ErrMissingToken = errors.New("missing_token")
	ErrInvalidToken = errors.New("invalid_token")
	ErrTokenExpired = errors.New("token_expired")
	ErrUnknownUser  = errors.New("unknown_user")
)
