package service

import (
	"context"
	"testing"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
)

func TestStatsSnapshotCountsEverySource(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	h.newClient(t, "root@example.com", domain.RoleAdmin)
	h.newClient(t, "agent@example.com", domain.RoleUser)
	admin, _ := h.login(t, "root@example.com")
	agent, _ := h.login(t, "agent@example.com")

	stale, err := h.ctrl.RegisterDevice(ctx, agent, 0, laptop("stale-host"))
	if err != nil {
		t.Fatalf("register stale: %v", err)
	}
	if _, err := h.ctrl.RecordConnections(ctx, agent, stale.Device.ID, []ConnectionInput{
		{LocalIP: "10.0.0.2", LocalPort: 40000, RemoteIP: "192.0.2.7", RemotePort: 443, Protocol: "tcp"},
	}); err != nil {
		t.Fatalf("record connection: %v", err)
	}
	h.clock.Advance(time.Minute)
	if _, err := h.ctrl.RegisterDevice(ctx, agent, 0, laptop("fresh-host")); err != nil {
		t.Fatalf("register fresh: %v", err)
	}
	if _, err := h.ctrl.PostChat(ctx, agent, ChatInput{Room: "ops", Body: "hello", Kind: "text"}); err != nil {
		t.Fatalf("post chat: %v", err)
	}

	before := h.auditCount(t)
	stats, err := h.ctrl.Stats(ctx, admin)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{
		Clients:        2,
		ActiveClients:  2,
		Devices:        2,
		OnlineDevices:  1,
		ActiveSessions: 2,
		Connections:    1,
		ChatMessages:   1,
		AuditEntries:   before,
	}
	got := *stats
	got.GeneratedAt = time.Time{}
	if got != want {
		t.Fatalf("stats mismatch:\n got %+v\nwant %+v", got, want)
	}
	if !stats.GeneratedAt.Equal(h.clock.Now()) {
		t.Fatalf("expected snapshot time from the clock, got %v", stats.GeneratedAt)
	}
}

func TestStatsDeniedReadIsAudited(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.newClient(t, "user@example.com", domain.RoleUser)
	p, _ := h.login(t, "user@example.com")

	_, err := h.ctrl.Stats(context.Background(), p)
	if domain.KindOf(err) != domain.KindAuthorization {
		t.Fatalf("expected authorization error, got %v", err)
	}
	denied := h.entriesFor(t, domain.ActionStatsRead)
	if len(denied) != 1 || denied[0].Outcome != domain.OutcomeDenied {
		t.Fatalf("expected one denied stats_read entry, got %+v", denied)
	}
}
