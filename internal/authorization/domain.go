package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Authorize checks actor ("system" or "profile:<id>") against object/action in orgID.
	Authorize(ctx context.Context, actor string, orgID snowflake.ID, object string, action string) error
}

var (
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrForbidden           = errors.New("forbidden")
)

// ProfileSubject formats the casbin subject for a profile.
func ProfileSubject(id snowflake.ID) string {
	return "profile:" + id.String()
}
