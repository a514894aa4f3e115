package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanAccessAdmin(t *testing.T) {
	cases := map[Role]bool{
		RoleUser:        false,
		RoleSupport:     true,
		RoleOrgAdmin:    true,
		RoleGlobalAdmin: true,
		Role("root"):    false,
		Role(""):        false,
	}
	for role, want := range cases {
		assert.Equal(t, want, CanAccessAdmin(role), "role %q", role)
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("  ORG_ADMIN ")
	require.NoError(t, err)
	assert.Equal(t, RoleOrgAdmin, role)

	_, err = ParseRole("owner")
	assert.ErrorIs(t, err, ErrInvalidRole)
}
