package service

import (
	"context"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
)

// AuditSink is the write side of the audit trail. Implementations must return an
// error whenever the entry was not durably stored.
type AuditSink interface {
	Record(ctx context.Context, rec AuditRecord) (uint64, error)
}

// AuditReader is the read side of the audit trail.
type AuditReader interface {
	List(ctx context.Context, f repository.AuditFilter) ([]domain.AuditLogEntry, error)
}

// PasswordVerifier compares a stored one-way hash with a plaintext secret.
type PasswordVerifier func(hash, plain string) bool

// AccessService is everything the HTTP layer may ask of the core.
type AccessService interface {
	Authenticate(ctx context.Context, token, ip string) (*Principal, error)
	Login(ctx context.Context, email, secret string, meta SessionMeta) (*IssuedSession, error)
	Logout(ctx context.Context, token, ip string) error

	RegisterDevice(ctx context.Context, p *Principal, ownerID uint, info domain.SystemInfo) (*Presence, error)
	ListDevices(ctx context.Context, p *Principal, ownerID *uint) ([]Presence, error)
	GetDevice(ctx context.Context, p *Principal, deviceID uint) (*Presence, error)
	Heartbeat(ctx context.Context, p *Principal, deviceID uint, in HeartbeatInput) (*Presence, error)
	ForceOffline(ctx context.Context, p *Principal, deviceID uint) (*Presence, error)

	RecordConnections(ctx context.Context, p *Principal, deviceID uint, in []ConnectionInput) ([]uint, error)
	ListConnections(ctx context.Context, p *Principal, f repository.ConnectionFilter, req repository.PageRequest) (repository.Page[domain.Connection], error)

	ListAudit(ctx context.Context, p *Principal, f repository.AuditFilter) ([]domain.AuditLogEntry, error)
	RevokeSession(ctx context.Context, p *Principal, sessionID uint) (*domain.Session, error)

	CreateClient(ctx context.Context, p *Principal, in CreateClientInput) (*domain.Client, error)
	UpdateClient(ctx context.Context, p *Principal, clientID uint, in UpdateClientInput) (*domain.Client, error)
	DeactivateClient(ctx context.Context, p *Principal, clientID uint) (*domain.Client, error)
	GetClient(ctx context.Context, p *Principal, clientID uint) (*domain.Client, error)
	ListClients(ctx context.Context, p *Principal, req repository.PageRequest) (repository.Page[domain.Client], error)

	PostChat(ctx context.Context, p *Principal, in ChatInput) (*domain.ChatMessage, error)
	ListChat(ctx context.Context, p *Principal, room string, limit int) ([]domain.ChatMessage, error)

	Stats(ctx context.Context, p *Principal) (*Stats, error)

	// RejectRequest audits a request refused at the transport boundary and
	// returns cause, or the audit failure when it could not be stored.
	RejectRequest(ctx context.Context, p *Principal, rec AuditRecord, cause error) error
}
