package authorization

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	profiledomain "github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAuthz(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&profiledomain.Profile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	enforcer, err := NewMemoryEnforcer()
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	return NewService(Params{DB: conn, Log: zap.NewNop(), Enforcer: enforcer}), conn
}

func seedProfile(t *testing.T, conn *gorm.DB, id, orgID snowflake.ID, role profiledomain.Role) {
	t.Helper()
	err := conn.Create(&profiledomain.Profile{
		ID:        id,
		OrgID:     orgID,
		Email:     id.String() + "@example.com",
		FullName:  "Test",
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}).Error
	if err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func TestAuthorizeRolePolicies(t *testing.T) {
	svc, conn := setupAuthz(t)
	seedProfile(t, conn, 1, 100, profiledomain.RoleUser)
	seedProfile(t, conn, 2, 100, profiledomain.RoleSupport)
	seedProfile(t, conn, 3, 100, profiledomain.RoleOrgAdmin)
	seedProfile(t, conn, 4, 999, profiledomain.RoleGlobalAdmin)

	cases := []struct {
		name    string
		profile snowflake.ID
		object  string
		action  string
		allowed bool
	}{
		{"user launches", 1, ObjectSession, ActionSessionLaunch, true},
		{"user cannot revoke", 1, ObjectDevice, ActionDeviceRevoke, false},
		{"support re-enrolls", 2, ObjectDevice, ActionDeviceReEnroll, true},
		{"support cannot revoke", 2, ObjectDevice, ActionDeviceRevoke, false},
		{"org admin revokes", 3, ObjectDevice, ActionDeviceRevoke, true},
		{"org admin cannot onboard", 3, ObjectOrganization, ActionOrganizationOnboard, false},
		{"global admin onboards", 4, ObjectOrganization, ActionOrganizationOnboard, true},
		{"global admin crosses org", 4, ObjectResource, ActionManage, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(context.Background(), ProfileSubject(tc.profile), 100, tc.object, tc.action)
			if tc.allowed && err != nil {
				t.Fatalf("expected allowed, got %v", err)
			}
			if !tc.allowed && !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
		})
	}
}

func TestAuthorizeRejectsOtherOrganization(t *testing.T) {
	svc, conn := setupAuthz(t)
	seedProfile(t, conn, 3, 100, profiledomain.RoleOrgAdmin)

	err := svc.Authorize(context.Background(), ProfileSubject(3), 200, ObjectDevice, ActionView)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc, _ := setupAuthz(t)
	ctx := context.Background()

	if err := svc.Authorize(ctx, "", 1, ObjectDevice, ActionView); !errors.Is(err, ErrInvalidActor) {
		t.Fatalf("expected ErrInvalidActor, got %v", err)
	}
	if err := svc.Authorize(ctx, "profile:abc", 1, ObjectDevice, ActionView); !errors.Is(err, ErrInvalidActor) {
		t.Fatalf("expected ErrInvalidActor, got %v", err)
	}
	if err := svc.Authorize(ctx, "system", 0, ObjectDevice, ActionView); !errors.Is(err, ErrInvalidOrganization) {
		t.Fatalf("expected ErrInvalidOrganization, got %v", err)
	}
	if err := svc.Authorize(ctx, "system", 1, ObjectSecret, ActionSecretRead); err != nil {
		t.Fatalf("system should read secrets: %v", err)
	}
}

func TestAuthorizeFollowsRoleChange(t *testing.T) {
	svc, conn := setupAuthz(t)
	seedProfile(t, conn, 5, 100, profiledomain.RoleUser)

	if err := svc.Authorize(context.Background(), ProfileSubject(5), 100, ObjectProfile, ActionManage); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden before promotion, got %v", err)
	}
	if err := conn.Exec(`UPDATE profiles SET role = ? WHERE id = ?`, profiledomain.RoleOrgAdmin, 5).Error; err != nil {
		t.Fatalf("promote: %v", err)
	}
	if err := svc.Authorize(context.Background(), ProfileSubject(5), 100, ObjectProfile, ActionManage); err != nil {
		t.Fatalf("expected allowed after promotion, got %v", err)
	}
}
