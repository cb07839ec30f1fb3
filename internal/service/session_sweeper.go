package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/observability"
)

// SessionSweeper periodically deletes sessions that expired long ago and were
// never revoked. Revoked rows are kept as evidence.
type SessionSweeper struct {
	sessions  *SessionManager
	audit     AuditSink
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

func NewSessionSweeper(sessions *SessionManager, audit AuditSink, interval, retention time.Duration, logger *slog.Logger) *SessionSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweeper{sessions: sessions, audit: audit, interval: interval, retention: retention, logger: logger}
}

// SweepOnce purges one round and audits it when anything was removed.
func (s *SessionSweeper) SweepOnce(ctx context.Context) (int64, error) {
	ctx, span := observability.StartSpan(ctx, "session.sweep")
	defer span.End()

	n, err := s.sessions.PurgeExpired(ctx, s.retention)
	if n > 0 {
		observability.RecordSessionsPurged(ctx, n)
		if _, aerr := s.audit.Record(ctx, AuditRecord{
			Actor:      domain.ActorSystem,
			Action:     domain.ActionSessionsPurged,
			TargetType: domain.TargetSession,
			TargetID:   strconv.FormatInt(n, 10),
		}); aerr != nil && err == nil {
			err = aerr
		}
	}
	if err != nil {
		span.RecordError(err)
		return n, err
	}
	return n, nil
}

// Run sweeps on every tick until ctx is cancelled.
func (s *SessionSweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "session sweep failed", "purged", n, "error", err)
				continue
			}
			s.logger.DebugContext(ctx, "session sweep finished", "purged", n)
		}
	}
}
