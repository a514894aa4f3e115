package context

import (
	stdcontext "context"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := stdcontext.Background()
	ctx = WithRequestID(ctx, " req-1 ")
	ctx = WithOrgID(ctx, "42")
	ctx = WithActor(ctx, "user", "7")
	ctx = WithClient(ctx, "10.0.0.1", "curl/8")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected request id req-1, got %q", got)
	}
	if got := OrgIDFromContext(ctx); got != "42" {
		t.Fatalf("expected org id 42, got %q", got)
	}
	if typ, id := ActorFromContext(ctx); typ != "user" || id != "7" {
		t.Fatalf("unexpected actor %q/%q", typ, id)
	}
	if ip, ua := ClientFromContext(ctx); ip != "10.0.0.1" || ua != "curl/8" {
		t.Fatalf("unexpected client %q/%q", ip, ua)
	}
}

func TestEmptyContext(t *testing.T) {
	ctx := stdcontext.Background()
	if RequestIDFromContext(ctx) != "" || OrgIDFromContext(ctx) != "" {
		t.Fatal("expected empty identifiers")
	}
	if typ, id := ActorFromContext(ctx); typ != "" || id != "" {
		t.Fatal("expected empty actor")
	}
}
