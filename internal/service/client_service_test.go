package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/security"
)

func TestClientServiceCreateValidates(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	cases := []struct {
		name string
		in   CreateClientInput
	}{
		{"missing name", CreateClientInput{Email: "a@example.com", Password: testSecret}},
		{"bad email", CreateClientInput{Name: "a", Email: "not-an-email", Password: testSecret}},
		{"short password", CreateClientInput{Name: "a", Email: "a@example.com", Password: "short"}},
		{"unknown role", CreateClientInput{Name: "a", Email: "a@example.com", Password: testSecret, Role: "root"}},
	}
	for _, tc := range cases {
		if _, err := h.clients.Create(ctx, tc.in); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}

	c, err := h.clients.Create(ctx, CreateClientInput{Name: " Alice ", Email: " Alice@Example.com ", Password: testSecret})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Email != "alice@example.com" || c.Name != "Alice" || c.Role != domain.RoleUser || !c.Active {
		t.Fatalf("unexpected client: %+v", c)
	}
	if !security.CheckPassword(c.PasswordHash, testSecret) {
		t.Fatal("expected stored hash to verify")
	}
	if _, err := h.clients.Create(ctx, CreateClientInput{Name: "b", Email: "alice@example.com", Password: testSecret}); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected EmailTaken, got %v", err)
	}
}

func TestClientServiceUpdate(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c := h.newClient(t, "c@example.com", domain.RoleUser)

	if _, err := h.clients.Update(ctx, c.ID, UpdateClientInput{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected empty update to be rejected, got %v", err)
	}
	role, secret := "moderator", "another-long-secret"
	updated, err := h.clients.Update(ctx, c.ID, UpdateClientInput{Role: &role, Password: &secret})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Role != domain.RoleModerator || !security.CheckPassword(updated.PasswordHash, secret) {
		t.Fatalf("unexpected update result: %+v", updated)
	}
	if _, err := h.clients.Update(ctx, 999, UpdateClientInput{Role: &role}); !errors.Is(err, domain.ErrClientNotFound) {
		t.Fatalf("expected ClientNotFound, got %v", err)
	}
}

func TestClientServiceEnsureAdminIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c, created, err := h.clients.EnsureAdmin(ctx, h.sink, "root@example.com", testSecret)
	if err != nil || !created || c.Role != domain.RoleAdmin {
		t.Fatalf("first ensure: %+v created=%v err=%v", c, created, err)
	}
	again, created, err := h.clients.EnsureAdmin(ctx, h.sink, "root@example.com", testSecret)
	if err != nil || created || again.ID != c.ID {
		t.Fatalf("second ensure: %+v created=%v err=%v", again, created, err)
	}
	entries := h.entriesFor(t, domain.ActionClientCreated)
	if len(entries) != 1 || entries[0].Actor != domain.ActorSystem {
		t.Fatalf("expected one system entry, got %+v", entries)
	}
}
