package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/profile/domain"
	"github.com/smallbiznis/accessportal/internal/profile/repository"
	"github.com/smallbiznis/accessportal/pkg/db"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Profile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, _ := snowflake.NewNode(2)
	return NewService(Params{DB: conn, Log: zaptest.NewLogger(t), GenID: node, Repo: repository.Provide()})
}

func TestCreateProfile(t *testing.T) {
	svc := newTestService(t)

	p, err := svc.Create(context.Background(), domain.CreateProfileRequest{
		OrgID:    10,
		Email:    " Support@Acme.com ",
		FullName: "Sam Support",
		Role:     domain.RoleSupport,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Email != "support@acme.com" {
		t.Fatalf("email not normalized: %q", p.Email)
	}

	got, err := svc.Get(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Role != domain.RoleSupport {
		t.Fatalf("unexpected role %q", got.Role)
	}
}

func TestCreateProfileValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, domain.CreateProfileRequest{Email: "a@b.co", FullName: "A"}); !errors.Is(err, domain.ErrInvalidOrganization) {
		t.Fatalf("expected ErrInvalidOrganization, got %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateProfileRequest{OrgID: 1, Email: "nope", FullName: "A"}); !errors.Is(err, domain.ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := svc.Create(ctx, domain.CreateProfileRequest{OrgID: 1, Email: "a@b.co", FullName: "A", Role: "owner"}); !errors.Is(err, domain.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestCreateProfileDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	req := domain.CreateProfileRequest{OrgID: 1, Email: "a@b.co", FullName: "A"}
	if _, err := svc.Create(context.Background(), req); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(context.Background(), req); !errors.Is(err, domain.ErrProfileExists) {
		t.Fatalf("expected ErrProfileExists, got %v", err)
	}
}

func TestUpdateRoleScopedToOrg(t *testing.T) {
	svc := newTestService(t)
	p, err := svc.Create(context.Background(), domain.CreateProfileRequest{OrgID: 1, Email: "a@b.co", FullName: "A"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.UpdateRole(context.Background(), 2, p.ID, domain.RoleOrgAdmin); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across orgs, got %v", err)
	}
	updated, err := svc.UpdateRole(context.Background(), 1, p.ID, domain.RoleOrgAdmin)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Role != domain.RoleOrgAdmin {
		t.Fatalf("role not updated: %q", updated.Role)
	}
}
