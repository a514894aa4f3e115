package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/accessportal/internal/organization/domain"
	"github.com/smallbiznis/accessportal/internal/organization/repository"
	"github.com/smallbiznis/accessportal/pkg/db"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) domain.Service {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := conn.AutoMigrate(&domain.Organization{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return NewService(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Repo:  repository.NewRepository(conn),
		GenID: node,
	})
}

func TestCreateDerivesSlug(t *testing.T) {
	svc := newTestService(t)

	org, err := svc.Create(context.Background(), domain.CreateOrganizationRequest{
		Name: "  Acme Corp ",
		Logo: "https://cdn.acme.test/logo.png",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if org.Slug != "acme-corp" {
		t.Fatalf("expected slug acme-corp, got %q", org.Slug)
	}
	if org.Name != "Acme Corp" {
		t.Fatalf("expected trimmed name, got %q", org.Name)
	}

	got, err := svc.GetByID(context.Background(), org.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Logo != "https://cdn.acme.test/logo.png" {
		t.Fatalf("unexpected logo %q", got.Logo)
	}
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.Create(context.Background(), domain.CreateOrganizationRequest{Name: "Acme"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.Create(context.Background(), domain.CreateOrganizationRequest{Name: "acme"})
	if !errors.Is(err, domain.ErrOrganizationExists) {
		t.Fatalf("expected ErrOrganizationExists, got %v", err)
	}
}

func TestCreateRejectsBlankName(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Create(context.Background(), domain.CreateOrganizationRequest{Name: "   "})
	if !errors.Is(err, domain.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.GetByID(context.Background(), "12345")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = svc.GetByID(context.Background(), "not-an-id")
	if !errors.Is(err, domain.ErrInvalidOrganization) {
		t.Fatalf("expected ErrInvalidOrganization, got %v", err)
	}
}

func TestListOrdersByCreation(t *testing.T) {
	svc := newTestService(t)
	for _, name := range []string{"One", "Two"} {
		if _, err := svc.Create(context.Background(), domain.CreateOrganizationRequest{Name: name}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	orgs, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orgs) != 2 || orgs[0].Name != "One" {
		t.Fatalf("unexpected list %+v", orgs)
	}
}
