package service

import (
	"context"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/clock"
	"golang.org/x/sync/errgroup"
)

type Stats struct {
	Clients        int64     `json:"clients"`
	ActiveClients  int64     `json:"active_clients"`
	Devices        int64     `json:"devices"`
	OnlineDevices  int64     `json:"online_devices"`
	ActiveSessions int64     `json:"active_sessions"`
	Connections    int64     `json:"connections"`
	ChatMessages   int64     `json:"chat_messages"`
	AuditEntries   int64     `json:"audit_entries"`
	GeneratedAt    time.Time `json:"generated_at"`
}

type StatsService struct {
	clients     *ClientService
	presence    *PresenceTracker
	sessions    *SessionManager
	connections *ConnectionRecorder
	chat        *ChatService
	audit       *AuditRecorder
	clock       clock.Clock
}

func NewStatsService(
	clients *ClientService,
	presence *PresenceTracker,
	sessions *SessionManager,
	connections *ConnectionRecorder,
	chat *ChatService,
	audit *AuditRecorder,
	clk clock.Clock,
) *StatsService {
	return &StatsService{
		clients:     clients,
		presence:    presence,
		sessions:    sessions,
		connections: connections,
		chat:        chat,
		audit:       audit,
		clock:       clk,
	}
}

// Snapshot runs the counters concurrently; any failure fails the whole snapshot.
func (s *StatsService) Snapshot(ctx context.Context) (*Stats, error) {
	out := &Stats{GeneratedAt: s.clock.Now()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.clients.Counts(gctx)
		out.Clients, out.ActiveClients = c.Total, c.Active
		return err
	})
	g.Go(func() error {
		c, err := s.presence.Counts(gctx)
		out.Devices, out.OnlineDevices = c.Total, c.Online
		return err
	})
	g.Go(func() (err error) {
		out.ActiveSessions, err = s.sessions.CountActive(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.Connections, err = s.connections.Count(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.ChatMessages, err = s.chat.Count(gctx)
		return err
	})
	g.Go(func() (err error) {
		out.AuditEntries, err = s.audit.Count(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
