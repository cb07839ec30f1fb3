package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
)

func TestSessionSweeperPurgesAndAudits(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c := h.newClient(t, "c@example.com", domain.RoleUser)
	for i := 0; i < 3; i++ {
		if _, err := h.sessions.Issue(ctx, c.ID, time.Minute, SessionMeta{}); err != nil {
			t.Fatalf("issue: %v", err)
		}
	}
	sweeper := NewSessionSweeper(h.sessions, h.sink, time.Hour, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := sweeper.SweepOnce(ctx)
	if err != nil || n != 0 {
		t.Fatalf("nothing should be purged yet: n=%d err=%v", n, err)
	}
	if got := h.entriesFor(t, domain.ActionSessionsPurged); len(got) != 0 {
		t.Fatalf("empty sweep must not audit, got %d", len(got))
	}

	h.clock.Advance(2 * time.Hour)
	n, err = sweeper.SweepOnce(ctx)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 purged, got n=%d err=%v", n, err)
	}
	entries := h.entriesFor(t, domain.ActionSessionsPurged)
	if len(entries) != 1 || entries[0].Actor != domain.ActorSystem || entries[0].TargetID != "3" {
		t.Fatalf("unexpected sweep entries: %+v", entries)
	}
}

func TestSessionSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	sweeper := NewSessionSweeper(h.sessions, h.sink, 10*time.Millisecond, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
