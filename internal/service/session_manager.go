package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/clock"
	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/observability"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
	"github.com/sandeepkv93/device-presence-service/internal/security"
)

const (
	revokeReasonLogout      = "logout"
	revokeReasonAdmin       = "admin_revoked"
	revokeReasonDeactivated = "client_deactivated"
	revokeReasonAuditFailed = "audit_failed"

	purgeBatchSize = 500
)

type SessionMeta struct {
	UserAgent string
	IP        string
}

type IssuedSession struct {
	Token     string    `json:"token"`
	SessionID uint      `json:"session_id"`
	ClientID  uint      `json:"client_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SessionManager struct {
	repo       repository.SessionRepository
	clients    repository.ClientRepository
	tokens     *security.SessionTokenManager
	audit      AuditSink
	clock      clock.Clock
	defaultTTL time.Duration
	logger     *slog.Logger
}

func NewSessionManager(
	repo repository.SessionRepository,
	clients repository.ClientRepository,
	tokens *security.SessionTokenManager,
	audit AuditSink,
	clk clock.Clock,
	defaultTTL time.Duration,
	logger *slog.Logger,
) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		repo:       repo,
		clients:    clients,
		tokens:     tokens,
		audit:      audit,
		clock:      clk,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

// Issue mints a session for an already verified client. The token is only
// returned once its login_success entry is durable.
func (m *SessionManager) Issue(ctx context.Context, clientID uint, ttl time.Duration, meta SessionMeta) (*IssuedSession, error) {
	client, err := m.clients.FindByID(ctx, clientID)
	if err != nil {
		return nil, err
	}
	actor := domain.ClientActor(client.ID)
	if !client.Active {
		if _, err := m.audit.Record(ctx, AuditRecord{
			Actor:      actor,
			Action:     domain.ActionLoginDenied,
			TargetType: domain.TargetClient,
			TargetID:   strconv.FormatUint(uint64(client.ID), 10),
			Outcome:    domain.OutcomeDenied,
			Reason:     domain.ReasonClientInactive,
			IP:         meta.IP,
		}); err != nil {
			return nil, err
		}
		observability.RecordAuthLogin(ctx, "inactive")
		return nil, domain.ErrClientInactive
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	now := m.clock.Now()
	expiresAt := now.Add(ttl)
	raw, jti, err := m.tokens.Sign(client.ID, now, expiresAt)
	if err != nil {
		return nil, domain.StorageUnavailable(err)
	}
	session := &domain.Session{
		ClientID:  client.ID,
		TokenHash: m.tokens.Hash(raw),
		TokenID:   jti,
		UserAgent: truncate(meta.UserAgent, 512),
		IP:        meta.IP,
		ExpiresAt: expiresAt,
	}
	if err := m.repo.Create(ctx, session); err != nil {
		return nil, err
	}

	if _, err := m.audit.Record(ctx, AuditRecord{
		Actor:      actor,
		Action:     domain.ActionLoginSuccess,
		TargetType: domain.TargetSession,
		TargetID:   strconv.FormatUint(uint64(session.ID), 10),
		Outcome:    domain.OutcomeSuccess,
		IP:         meta.IP,
	}); err != nil {
		// The session exists but was never acknowledged; kill it.
		if _, rerr := m.repo.RevokeByHash(context.WithoutCancel(ctx), session.TokenHash, revokeReasonAuditFailed, m.clock.Now()); rerr != nil {
			m.logger.ErrorContext(ctx, "revoke unaudited session failed", "session_id", session.ID, "error", rerr)
		}
		return nil, err
	}

	if err := m.clients.TouchLastAccess(ctx, client.ID, now); err != nil {
		m.logger.WarnContext(ctx, "update last access failed", "client_id", client.ID, "error", err)
	}
	observability.RecordAuthLogin(ctx, "success")
	return &IssuedSession{
		Token:     raw,
		SessionID: session.ID,
		ClientID:  client.ID,
		Role:      string(client.Role),
		ExpiresAt: expiresAt,
	}, nil
}

// Validate resolves a raw token to its session row. On authentication failures
// the session, when one exists, is returned alongside the error so callers can
// attribute the denial.
func (m *SessionManager) Validate(ctx context.Context, raw string) (*domain.Session, error) {
	if raw == "" {
		observability.RecordSessionValidation(ctx, domain.ReasonTokenMissing)
		return nil, domain.ErrTokenMissing
	}
	claims, err := m.tokens.Parse(raw)
	if err != nil {
		observability.RecordSessionValidation(ctx, domain.ReasonTokenUnknown)
		return nil, domain.ErrTokenUnknown
	}
	now := m.clock.Now()
	session, err := m.repo.FindByHash(ctx, m.tokens.Hash(raw))
	if errors.Is(err, domain.ErrSessionNotFound) {
		// Purged rows were expired and never revoked; the signed expiry still tells.
		if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
			observability.RecordSessionValidation(ctx, domain.ReasonTokenExpired)
			return nil, domain.ErrTokenExpired
		}
		observability.RecordSessionValidation(ctx, domain.ReasonTokenUnknown)
		return nil, domain.ErrTokenUnknown
	}
	if err != nil {
		return nil, err
	}
	if session.TokenID != claims.ID {
		observability.RecordSessionValidation(ctx, domain.ReasonTokenUnknown)
		return nil, domain.ErrTokenUnknown
	}
	if err := session.ValidAt(now); err != nil {
		observability.RecordSessionValidation(ctx, domain.ReasonOf(err))
		return session, err
	}
	observability.RecordSessionValidation(ctx, "valid")
	return session, nil
}

// Revoke ends the session behind raw. Unknown, expired and already revoked
// tokens are a successful no-op. Exactly one logout entry is written per call.
func (m *SessionManager) Revoke(ctx context.Context, raw, ip string) error {
	rec := AuditRecord{
		Actor:      domain.ActorSystem,
		Action:     domain.ActionLogout,
		TargetType: domain.TargetSession,
		Outcome:    domain.OutcomeSuccess,
		IP:         ip,
	}
	var session *domain.Session
	if _, err := m.tokens.Parse(raw); err == nil {
		s, err := m.repo.FindByHash(ctx, m.tokens.Hash(raw))
		switch {
		case err == nil:
			session = s
		case !errors.Is(err, domain.ErrSessionNotFound):
			return err
		}
	}

	if session == nil {
		rec.Reason = domain.ReasonTokenUnknown
	} else {
		rec.Actor = domain.ClientActor(session.ClientID)
		rec.TargetID = strconv.FormatUint(uint64(session.ID), 10)
		now := m.clock.Now()
		revoked, err := m.repo.RevokeByHash(ctx, session.TokenHash, revokeReasonLogout, now)
		if err != nil {
			return err
		}
		switch {
		case revoked:
		case session.RevokedAt == nil && !now.Before(session.ExpiresAt):
			rec.Reason = domain.ReasonTokenExpired
		default:
			rec.Reason = domain.ReasonTokenRevoked
		}
	}
	if _, err := m.audit.Record(ctx, rec); err != nil {
		observability.RecordAuthLogout(ctx, "audit_error")
		return err
	}
	observability.RecordAuthLogout(ctx, "success")
	return nil
}

// RevokeByID is the administrative revocation path.
func (m *SessionManager) RevokeByID(ctx context.Context, sessionID uint, actor, ip string) (*domain.Session, error) {
	session, changed, err := m.repo.RevokeByID(ctx, sessionID, revokeReasonAdmin, m.clock.Now())
	if err != nil {
		return nil, err
	}
	rec := AuditRecord{
		Actor:      actor,
		Action:     domain.ActionSessionRevoked,
		TargetType: domain.TargetSession,
		TargetID:   strconv.FormatUint(uint64(sessionID), 10),
		Outcome:    domain.OutcomeSuccess,
		IP:         ip,
	}
	if !changed {
		rec.Reason = domain.ReasonTokenRevoked
	}
	if _, err := m.audit.Record(ctx, rec); err != nil {
		return nil, err
	}
	return session, nil
}

// RevokeAllForClient is used on deactivation; the caller audits the deactivation itself.
func (m *SessionManager) RevokeAllForClient(ctx context.Context, clientID uint) (int64, error) {
	return m.repo.RevokeByClientID(ctx, clientID, revokeReasonDeactivated, m.clock.Now())
}

func (m *SessionManager) ListActive(ctx context.Context, clientID uint) ([]domain.Session, error) {
	return m.repo.ListActiveByClientID(ctx, clientID, m.clock.Now())
}

func (m *SessionManager) CountActive(ctx context.Context) (int64, error) {
	return m.repo.CountActive(ctx, m.clock.Now())
}

// PurgeExpired removes never-revoked sessions that expired more than
// retention ago, in bounded batches.
func (m *SessionManager) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := m.clock.Now().Add(-retention)
	var total int64
	for {
		n, err := m.repo.PurgeExpired(ctx, cutoff, purgeBatchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < purgeBatchSize {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
