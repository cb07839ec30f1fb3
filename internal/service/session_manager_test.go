package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
)

func TestSessionIssueValidateRevoke(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c1 := h.newClient(t, "c1@example.com", domain.RoleUser)

	issued, err := h.sessions.Issue(ctx, c1.ID, time.Hour, SessionMeta{IP: "10.0.0.9"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !issued.ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("expected expiry now+ttl, got %s", issued.ExpiresAt)
	}
	s, err := h.sessions.Validate(ctx, issued.Token)
	if err != nil || s.ClientID != c1.ID {
		t.Fatalf("validate: session=%+v err=%v", s, err)
	}

	if err := h.sessions.Revoke(ctx, issued.Token, "10.0.0.9"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := h.sessions.Validate(ctx, issued.Token); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Fatalf("expected TokenRevoked after revoke, got %v", err)
	}
	if err := h.sessions.Revoke(ctx, issued.Token, "10.0.0.9"); err != nil {
		t.Fatalf("second revoke must succeed, got %v", err)
	}

	logins := h.entriesFor(t, domain.ActionLoginSuccess)
	if len(logins) != 1 || logins[0].Actor != domain.ClientActor(c1.ID) || logins[0].TargetID != idString(issued.SessionID) {
		t.Fatalf("unexpected login entries: %+v", logins)
	}
	logouts := h.entriesFor(t, domain.ActionLogout)
	if len(logouts) != 2 {
		t.Fatalf("expected one logout entry per revoke call, got %d", len(logouts))
	}
	if logouts[0].Reason != "" || logouts[1].Reason != domain.ReasonTokenRevoked {
		t.Fatalf("unexpected logout reasons %q %q", logouts[0].Reason, logouts[1].Reason)
	}
}

func TestSessionValidateDistinguishesFailures(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c1 := h.newClient(t, "c1@example.com", domain.RoleUser)

	if _, err := h.sessions.Validate(ctx, "nonexistent-token"); !errors.Is(err, domain.ErrTokenUnknown) {
		t.Fatalf("expected TokenUnknown, got %v", err)
	}
	if _, err := h.sessions.Validate(ctx, ""); !errors.Is(err, domain.ErrTokenMissing) {
		t.Fatalf("expected TokenMissing, got %v", err)
	}

	issued, err := h.sessions.Issue(ctx, c1.ID, time.Minute, SessionMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	h.clock.Advance(time.Minute)
	if _, err := h.sessions.Validate(ctx, issued.Token); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected TokenExpired at the expiry instant, got %v", err)
	}
}

func TestSessionRevokeOfExpiredTokenIsNoOp(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c1 := h.newClient(t, "c1@example.com", domain.RoleUser)

	issued, err := h.sessions.Issue(ctx, c1.ID, time.Minute, SessionMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	h.clock.Advance(2 * time.Minute)
	if err := h.sessions.Revoke(ctx, issued.Token, ""); err != nil {
		t.Fatalf("revoking an expired token must succeed: %v", err)
	}
	if _, err := h.sessions.Validate(ctx, issued.Token); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("expected TokenExpired to survive the revoke, got %v", err)
	}
	s, err := h.sessionRepo.FindByHash(ctx, h.sessions.tokens.Hash(issued.Token))
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if s.RevokedAt != nil {
		t.Fatalf("expired session must not be marked revoked, got %v", s.RevokedAt)
	}
	logouts := h.entriesFor(t, domain.ActionLogout)
	if len(logouts) != 1 || logouts[0].Reason != domain.ReasonTokenExpired {
		t.Fatalf("expected one logout entry with reason token_expired, got %+v", logouts)
	}

	n, err := h.sessions.PurgeExpired(ctx, time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected the expired row to be purgeable, got n=%d err=%v", n, err)
	}
}

func TestSessionIssueRejectsInactiveClient(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c := h.newClient(t, "off@example.com", domain.RoleUser)
	if _, err := h.clients.Deactivate(ctx, c.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := h.sessions.Issue(ctx, c.ID, time.Hour, SessionMeta{}); !errors.Is(err, domain.ErrClientInactive) {
		t.Fatalf("expected ClientInactive, got %v", err)
	}
	denied := h.entriesFor(t, domain.ActionLoginDenied)
	if len(denied) != 1 || denied[0].Reason != domain.ReasonClientInactive || denied[0].Outcome != domain.OutcomeDenied {
		t.Fatalf("unexpected denial entries: %+v", denied)
	}
}

func TestSessionIssueRevokesWhenAuditFails(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c := h.newClient(t, "c@example.com", domain.RoleUser)

	h.sink.fail.Store(true)
	issued, err := h.sessions.Issue(ctx, c.ID, time.Hour, SessionMeta{})
	if !errors.Is(err, domain.ErrStorageUnavailable) || issued != nil {
		t.Fatalf("expected storage failure and no token, got %+v err=%v", issued, err)
	}
	h.sink.fail.Store(false)

	active, err := h.sessions.ListActive(ctx, c.ID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected unaudited session to be revoked, got %d active", len(active))
	}
}

func TestSessionRevokeIsLinearizable(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c := h.newClient(t, "c@example.com", domain.RoleUser)
	issued, err := h.sessions.Issue(ctx, c.ID, time.Hour, SessionMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.sessions.Validate(ctx, issued.Token)
		}()
	}
	if err := h.sessions.Revoke(ctx, issued.Token, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := h.sessions.Validate(ctx, issued.Token); !errors.Is(err, domain.ErrTokenRevoked) {
			t.Fatalf("validate %d after revoke returned %v", i, err)
		}
	}
	wg.Wait()
}

func TestSessionPurgeKeepsRevokedRowsAndReportsExpired(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c := h.newClient(t, "c@example.com", domain.RoleUser)

	expired, err := h.sessions.Issue(ctx, c.ID, time.Minute, SessionMeta{})
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	revoked, err := h.sessions.Issue(ctx, c.ID, time.Minute, SessionMeta{})
	if err != nil {
		t.Fatalf("issue revoked: %v", err)
	}
	if err := h.sessions.Revoke(ctx, revoked.Token, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	live, err := h.sessions.Issue(ctx, c.ID, 48*time.Hour, SessionMeta{})
	if err != nil {
		t.Fatalf("issue live: %v", err)
	}

	h.clock.Advance(2 * time.Hour)
	n, err := h.sessions.PurgeExpired(ctx, time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly the never-revoked expired row purged, got %d", n)
	}
	if _, err := h.sessions.Validate(ctx, expired.Token); !errors.Is(err, domain.ErrTokenExpired) {
		t.Fatalf("purged token must still report TokenExpired, got %v", err)
	}
	if _, err := h.sessions.Validate(ctx, revoked.Token); !errors.Is(err, domain.ErrTokenRevoked) {
		t.Fatalf("revoked row must survive the purge, got %v", err)
	}
	if _, err := h.sessions.Validate(ctx, live.Token); err != nil {
		t.Fatalf("live token must stay valid, got %v", err)
	}
}

func TestSessionRevokeByIDAudited(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	c := h.newClient(t, "c@example.com", domain.RoleUser)
	issued, err := h.sessions.Issue(ctx, c.ID, time.Hour, SessionMeta{})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	s, err := h.sessions.RevokeByID(ctx, issued.SessionID, domain.ActorSystem, "")
	if err != nil || s.RevokedAt == nil {
		t.Fatalf("revoke by id: %+v err=%v", s, err)
	}
	if _, err := h.sessions.RevokeByID(ctx, 9999, domain.ActorSystem, ""); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected SessionNotFound, got %v", err)
	}
	if got := h.entriesFor(t, domain.ActionSessionRevoked); len(got) != 1 {
		t.Fatalf("expected one session_revoked entry, got %d", len(got))
	}
}
