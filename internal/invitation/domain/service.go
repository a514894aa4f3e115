package domain

import (
	"context"
	"errors"
)

type Service interface {
	Invite(ctx context.Context, req InviteRequest) (*InviteResult, error)
	BatchInvite(ctx context.Context, req BatchInviteRequest) (*BatchInviteResult, error)
	Accept(ctx context.Context, token string) (*AcceptResult, error)
}

var (
	ErrInvalidInvitation = errors.New("invalid_invitation")
	ErrEmptyBatch        = errors.New("invalid_invitations")
)
