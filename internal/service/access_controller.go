package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/sandeepkv93/device-presence-service/internal/domain"
	"github.com/sandeepkv93/device-presence-service/internal/observability"
	"github.com/sandeepkv93/device-presence-service/internal/repository"
	"github.com/sandeepkv93/device-presence-service/internal/security"
)

// Principal is an authenticated caller for the duration of one request.
type Principal struct {
	ClientID  uint        `json:"client_id"`
	Name      string      `json:"name"`
	Role      domain.Role `json:"role"`
	SessionID uint        `json:"session_id"`
	ExpiresAt time.Time   `json:"expires_at"`
	IP        string      `json:"-"`
}

func (p *Principal) Actor() string {
	if p == nil {
		return domain.ActorSystem
	}
	return domain.ClientActor(p.ClientID)
}

type AccessControllerOptions struct {
	AuditHeartbeats bool
}

// AccessController is the single entry point for handlers. It authenticates,
// authorizes, dispatches to the owning component and records the outcome.
type AccessController struct {
	sessions    *SessionManager
	identities  *CachedIdentityResolver
	clients     *ClientService
	presence    *PresenceTracker
	connections *ConnectionRecorder
	chat        *ChatService
	stats       *StatsService
	audit       AuditSink
	auditLog    AuditReader
	verify      PasswordVerifier
	opts        AccessControllerOptions
	logger      *slog.Logger
}

func NewAccessController(
	sessions *SessionManager,
	identities *CachedIdentityResolver,
	clients *ClientService,
	presence *PresenceTracker,
	connections *ConnectionRecorder,
	chat *ChatService,
	stats *StatsService,
	audit AuditSink,
	auditLog AuditReader,
	opts AccessControllerOptions,
	logger *slog.Logger,
) *AccessController {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessController{
		sessions:    sessions,
		identities:  identities,
		clients:     clients,
		presence:    presence,
		connections: connections,
		chat:        chat,
		stats:       stats,
		audit:       audit,
		auditLog:    auditLog,
		verify:      security.CheckPassword,
		opts:        opts,
		logger:      logger,
	}
}

var _ AccessService = (*AccessController)(nil)

func idString(id uint) string { return strconv.FormatUint(uint64(id), 10) }

func (a *AccessController) record(ctx context.Context, rec AuditRecord) error {
	_, err := a.audit.Record(ctx, rec)
	return err
}

// deny audits a refused attempt and returns cause, or the audit failure when
// the denial could not be stored.
func (a *AccessController) deny(ctx context.Context, rec AuditRecord, cause error) error {
	rec.Outcome = domain.OutcomeDenied
	if rec.Reason == "" {
		rec.Reason = domain.ReasonOf(cause)
	}
	if err := a.record(ctx, rec); err != nil {
		return err
	}
	return cause
}

// Authenticate turns a bearer token into a principal. Every refusal is audited.
func (a *AccessController) Authenticate(ctx context.Context, token, ip string) (*Principal, error) {
	session, err := a.sessions.Validate(ctx, token)
	if err != nil {
		if domain.KindOf(err) != domain.KindAuthentication {
			return nil, err
		}
		rec := AuditRecord{Actor: domain.ActorSystem, Action: domain.ActionAuthDenied, TargetType: domain.TargetSession, IP: ip}
		if session != nil {
			rec.Actor = domain.ClientActor(session.ClientID)
			rec.TargetID = idString(session.ID)
		}
		return nil, a.deny(ctx, rec, err)
	}

	ident, err := a.identities.Resolve(ctx, session.ClientID)
	if errors.Is(err, domain.ErrClientNotFound) {
		return nil, a.deny(ctx, AuditRecord{
			Actor:      domain.ClientActor(session.ClientID),
			Action:     domain.ActionAuthDenied,
			TargetType: domain.TargetSession,
			TargetID:   idString(session.ID),
			IP:         ip,
		}, domain.ErrTokenUnknown)
	}
	if err != nil {
		return nil, err
	}
	if !ident.Active {
		return nil, a.deny(ctx, AuditRecord{
			Actor:      domain.ClientActor(session.ClientID),
			Action:     domain.ActionAuthDenied,
			TargetType: domain.TargetSession,
			TargetID:   idString(session.ID),
			IP:         ip,
		}, domain.ErrClientInactive)
	}
	return &Principal{
		ClientID:  session.ClientID,
		Name:      ident.Name,
		Role:      ident.Role,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
		IP:        ip,
	}, nil
}

// Authorize checks the role level only. Denials are audited under the
// attempted action.
func (a *AccessController) Authorize(ctx context.Context, p *Principal, required domain.Role, action, targetType, targetID string) error {
	if p != nil && p.Role.Satisfies(required) {
		observability.RecordAccessDecision(ctx, string(required), "allow")
		return nil
	}
	observability.RecordAccessDecision(ctx, string(required), "deny")
	rec := AuditRecord{
		Actor:      p.Actor(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Reason:     domain.ReasonInsufficientPrivilege,
	}
	if p != nil {
		rec.IP = p.IP
	}
	return a.deny(ctx, rec, domain.ErrForbidden)
}

// authorizeDevice applies the ownership rule: owners act on their own
// devices, moderators and above on any.
func (a *AccessController) authorizeDevice(ctx context.Context, p *Principal, deviceID uint, action string) (*domain.Device, error) {
	d, err := a.presence.Lookup(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if d.ClientID == p.ClientID {
		observability.RecordAccessDecision(ctx, "device_owner", "allow")
		return d, nil
	}
	if err := a.Authorize(ctx, p, domain.RoleModerator, action, domain.TargetDevice, idString(deviceID)); err != nil {
		return nil, err
	}
	return d, nil
}

// rejected audits a validation failure as a denial under action and passes
// every other error through unchanged.
func (a *AccessController) rejected(ctx context.Context, p *Principal, action, targetType, targetID string, err error) error {
	if domain.KindOf(err) != domain.KindValidation {
		return err
	}
	rec := AuditRecord{Actor: p.Actor(), Action: action, TargetType: targetType, TargetID: targetID}
	if p != nil {
		rec.IP = p.IP
	}
	return a.deny(ctx, rec, err)
}

// RejectRequest records a request refused before it reached a component, such
// as a malformed body or parameter, and returns cause. The actor comes from p
// when rec does not name one.
func (a *AccessController) RejectRequest(ctx context.Context, p *Principal, rec AuditRecord, cause error) error {
	if rec.Actor == "" {
		rec.Actor = p.Actor()
	}
	if rec.IP == "" && p != nil {
		rec.IP = p.IP
	}
	return a.deny(ctx, rec, cause)
}

// auditMutation records the result of a privileged mutation. Validation
// failures are denials and conflicts are failures. Other errors are returned
// without an entry because nothing changed and the store may be the thing
// that failed.
func (a *AccessController) auditMutation(ctx context.Context, p *Principal, action, targetType, targetID string, opErr error) error {
	rec := AuditRecord{Actor: p.Actor(), Action: action, TargetType: targetType, TargetID: targetID, IP: p.IP}
	switch {
	case opErr == nil:
		rec.Outcome = domain.OutcomeSuccess
		return a.record(ctx, rec)
	case domain.KindOf(opErr) == domain.KindValidation:
		return a.deny(ctx, rec, opErr)
	case domain.KindOf(opErr) == domain.KindConflict:
		rec.Outcome = domain.OutcomeFailure
		rec.Reason = domain.ReasonOf(opErr)
		if err := a.record(ctx, rec); err != nil {
			return err
		}
		return opErr
	default:
		return opErr
	}
}

func (a *AccessController) Login(ctx context.Context, email, secret string, meta SessionMeta) (*IssuedSession, error) {
	client, err := a.clients.FindByEmail(ctx, email)
	if errors.Is(err, domain.ErrClientNotFound) {
		a.verify("", secret)
		observability.RecordAuthLogin(ctx, "invalid_credentials")
		return nil, a.deny(ctx, AuditRecord{
			Actor:      domain.ActorSystem,
			Action:     domain.ActionLoginDenied,
			TargetType: domain.TargetClient,
			TargetID:   truncate(email, 160),
			Reason:     domain.ReasonInvalidCredentials,
			IP:         meta.IP,
		}, domain.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}
	if !a.verify(client.PasswordHash, secret) {
		observability.RecordAuthLogin(ctx, "invalid_credentials")
		return nil, a.deny(ctx, AuditRecord{
			Actor:      domain.ClientActor(client.ID),
			Action:     domain.ActionLoginDenied,
			TargetType: domain.TargetClient,
			TargetID:   idString(client.ID),
			Reason:     domain.ReasonInvalidCredentials,
			IP:         meta.IP,
		}, domain.ErrInvalidCredentials)
	}
	return a.sessions.Issue(ctx, client.ID, 0, meta)
}

func (a *AccessController) Logout(ctx context.Context, token, ip string) error {
	return a.sessions.Revoke(ctx, token, ip)
}

func (a *AccessController) RegisterDevice(ctx context.Context, p *Principal, ownerID uint, info domain.SystemInfo) (*Presence, error) {
	if ownerID == 0 {
		ownerID = p.ClientID
	}
	if ownerID != p.ClientID {
		if err := a.Authorize(ctx, p, domain.RoleModerator, domain.ActionDeviceRegistered, domain.TargetClient, idString(ownerID)); err != nil {
			return nil, err
		}
		owner, err := a.clients.Get(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if !owner.Active {
			return nil, domain.ErrClientInactive
		}
	}
	relink := p.Role.Satisfies(domain.RoleAdmin)
	pres, _, err := a.presence.Register(ctx, ownerID, info, relink)
	if err != nil {
		return nil, a.auditMutation(ctx, p, domain.ActionDeviceRegistered, domain.TargetDevice, info.Fingerprint(), err)
	}
	if err := a.auditMutation(ctx, p, domain.ActionDeviceRegistered, domain.TargetDevice, idString(pres.Device.ID), nil); err != nil {
		return nil, err
	}
	return pres, nil
}

// ListDevices lists the caller's devices, or another client's when ownerID is
// set and the caller is a moderator or above.
func (a *AccessController) ListDevices(ctx context.Context, p *Principal, ownerID *uint) ([]Presence, error) {
	owner := p.ClientID
	if ownerID != nil && *ownerID != p.ClientID {
		if err := a.Authorize(ctx, p, domain.RoleModerator, domain.ActionDevicesListed, domain.TargetClient, idString(*ownerID)); err != nil {
			return nil, err
		}
		owner = *ownerID
	}
	return a.presence.ListForClient(ctx, owner)
}

func (a *AccessController) GetDevice(ctx context.Context, p *Principal, deviceID uint) (*Presence, error) {
	if _, err := a.authorizeDevice(ctx, p, deviceID, domain.ActionDevicesListed); err != nil {
		return nil, err
	}
	return a.presence.Get(ctx, deviceID)
}

func (a *AccessController) Heartbeat(ctx context.Context, p *Principal, deviceID uint, in HeartbeatInput) (*Presence, error) {
	if _, err := a.authorizeDevice(ctx, p, deviceID, domain.ActionDeviceHeartbeat); err != nil {
		return nil, err
	}
	pres, err := a.presence.Heartbeat(ctx, deviceID, in)
	if err != nil {
		return nil, a.rejected(ctx, p, domain.ActionDeviceHeartbeat, domain.TargetDevice, idString(deviceID), err)
	}
	if a.opts.AuditHeartbeats {
		if err := a.auditMutation(ctx, p, domain.ActionDeviceHeartbeat, domain.TargetDevice, idString(deviceID), nil); err != nil {
			return nil, err
		}
	}
	return pres, nil
}

func (a *AccessController) ForceOffline(ctx context.Context, p *Principal, deviceID uint) (*Presence, error) {
	target := idString(deviceID)
	if err := a.Authorize(ctx, p, domain.RoleModerator, domain.ActionDeviceForcedOffline, domain.TargetDevice, target); err != nil {
		return nil, err
	}
	pres, err := a.presence.ForceOffline(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := a.auditMutation(ctx, p, domain.ActionDeviceForcedOffline, domain.TargetDevice, target, nil); err != nil {
		return nil, err
	}
	return pres, nil
}

func (a *AccessController) RecordConnections(ctx context.Context, p *Principal, deviceID uint, in []ConnectionInput) ([]uint, error) {
	if _, err := a.authorizeDevice(ctx, p, deviceID, domain.ActionConnectionsRecorded); err != nil {
		return nil, err
	}
	var sessionID *uint
	if p.SessionID != 0 {
		id := p.SessionID
		sessionID = &id
	}
	ids, err := a.connections.RecordBatch(ctx, deviceID, sessionID, in)
	if err != nil {
		return nil, a.auditMutation(ctx, p, domain.ActionConnectionsRecorded, domain.TargetDevice, idString(deviceID), err)
	}
	if err := a.auditMutation(ctx, p, domain.ActionConnectionsRecorded, domain.TargetDevice, idString(deviceID), nil); err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *AccessController) ListConnections(ctx context.Context, p *Principal, f repository.ConnectionFilter, req repository.PageRequest) (repository.Page[domain.Connection], error) {
	if err := a.Authorize(ctx, p, domain.RoleModerator, domain.ActionConnectionsListed, domain.TargetDevice, ""); err != nil {
		return repository.Page[domain.Connection]{}, err
	}
	page, err := a.connections.List(ctx, f, req)
	if err != nil {
		return page, a.rejected(ctx, p, domain.ActionConnectionsListed, domain.TargetDevice, "", err)
	}
	return page, nil
}

// ListAudit is admin only, and reading the trail is itself recorded.
func (a *AccessController) ListAudit(ctx context.Context, p *Principal, f repository.AuditFilter) ([]domain.AuditLogEntry, error) {
	if err := a.Authorize(ctx, p, domain.RoleAdmin, domain.ActionAuditLogRead, domain.TargetAudit, ""); err != nil {
		return nil, err
	}
	entries, err := a.auditLog.List(ctx, f)
	if err != nil {
		return nil, a.rejected(ctx, p, domain.ActionAuditLogRead, domain.TargetAudit, "", err)
	}
	if err := a.auditMutation(ctx, p, domain.ActionAuditLogRead, domain.TargetAudit, "", nil); err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *AccessController) RevokeSession(ctx context.Context, p *Principal, sessionID uint) (*domain.Session, error) {
	if err := a.Authorize(ctx, p, domain.RoleAdmin, domain.ActionSessionRevoked, domain.TargetSession, idString(sessionID)); err != nil {
		return nil, err
	}
	return a.sessions.RevokeByID(ctx, sessionID, p.Actor(), p.IP)
}

func (a *AccessController) CreateClient(ctx context.Context, p *Principal, in CreateClientInput) (*domain.Client, error) {
	if err := a.Authorize(ctx, p, domain.RoleAdmin, domain.ActionClientCreated, domain.TargetClient, ""); err != nil {
		return nil, err
	}
	c, err := a.clients.Create(ctx, in)
	if err != nil {
		return nil, a.auditMutation(ctx, p, domain.ActionClientCreated, domain.TargetClient, truncate(in.Email, 160), err)
	}
	if err := a.auditMutation(ctx, p, domain.ActionClientCreated, domain.TargetClient, idString(c.ID), nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (a *AccessController) UpdateClient(ctx context.Context, p *Principal, clientID uint, in UpdateClientInput) (*domain.Client, error) {
	target := idString(clientID)
	if err := a.Authorize(ctx, p, domain.RoleAdmin, domain.ActionClientUpdated, domain.TargetClient, target); err != nil {
		return nil, err
	}
	if clientID == p.ClientID {
		demoted := false
		if in.Role != nil {
			r, _ := domain.ParseRole(*in.Role)
			demoted = r != p.Role
		}
		if demoted || (in.Active != nil && !*in.Active) {
			return nil, a.auditMutation(ctx, p, domain.ActionClientUpdated, domain.TargetClient, target,
				domain.Validation(domain.ReasonInvalidInput, "administrators cannot demote or deactivate themselves"))
		}
	}
	c, err := a.clients.Update(ctx, clientID, in)
	if err != nil {
		return nil, a.auditMutation(ctx, p, domain.ActionClientUpdated, domain.TargetClient, target, err)
	}
	a.invalidateIdentity(ctx, clientID)
	if in.Active != nil {
		if *in.Active {
			a.presence.ResetUnknown(ctx)
		} else if err := a.endSessions(ctx, p, domain.ActionClientUpdated, clientID); err != nil {
			return nil, err
		}
	}
	if err := a.auditMutation(ctx, p, domain.ActionClientUpdated, domain.TargetClient, target, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// DeactivateClient disables the account and ends all of its sessions. The
// row itself is kept.
func (a *AccessController) DeactivateClient(ctx context.Context, p *Principal, clientID uint) (*domain.Client, error) {
	target := idString(clientID)
	if err := a.Authorize(ctx, p, domain.RoleAdmin, domain.ActionClientDeactivated, domain.TargetClient, target); err != nil {
		return nil, err
	}
	if clientID == p.ClientID {
		return nil, a.auditMutation(ctx, p, domain.ActionClientDeactivated, domain.TargetClient, target,
			domain.Validation(domain.ReasonInvalidInput, "administrators cannot deactivate themselves"))
	}
	c, err := a.clients.Deactivate(ctx, clientID)
	if err != nil {
		return nil, err
	}
	a.invalidateIdentity(ctx, clientID)
	if err := a.endSessions(ctx, p, domain.ActionClientDeactivated, clientID); err != nil {
		return nil, err
	}
	if err := a.auditMutation(ctx, p, domain.ActionClientDeactivated, domain.TargetClient, target, nil); err != nil {
		return nil, err
	}
	return c, nil
}

// endSessions revokes every session of a client whose row has already been
// changed. When revocation fails the committed change is still recorded as a
// failure under action before the error is returned.
func (a *AccessController) endSessions(ctx context.Context, p *Principal, action string, clientID uint) error {
	_, err := a.sessions.RevokeAllForClient(ctx, clientID)
	if err == nil {
		return nil
	}
	a.logger.ErrorContext(ctx, "session revocation after client change failed", "client_id", clientID, "action", action, "error", err)
	if aerr := a.record(ctx, AuditRecord{
		Actor:      p.Actor(),
		Action:     action,
		TargetType: domain.TargetClient,
		TargetID:   idString(clientID),
		Outcome:    domain.OutcomeFailure,
		Reason:     domain.ReasonOf(err),
		IP:         p.IP,
	}); aerr != nil {
		return aerr
	}
	return err
}

func (a *AccessController) GetClient(ctx context.Context, p *Principal, clientID uint) (*domain.Client, error) {
	if clientID != p.ClientID {
		if err := a.Authorize(ctx, p, domain.RoleAdmin, domain.ActionClientsListed, domain.TargetClient, idString(clientID)); err != nil {
			return nil, err
		}
	}
	return a.clients.Get(ctx, clientID)
}

func (a *AccessController) ListClients(ctx context.Context, p *Principal, req repository.PageRequest) (repository.Page[domain.Client], error) {
	if err := a.Authorize(ctx, p, domain.RoleAdmin, domain.ActionClientsListed, domain.TargetClient, ""); err != nil {
		return repository.Page[domain.Client]{}, err
	}
	return a.clients.List(ctx, req)
}

func (a *AccessController) PostChat(ctx context.Context, p *Principal, in ChatInput) (*domain.ChatMessage, error) {
	msg, err := a.chat.Post(ctx, p.ClientID, p.Name, in)
	if err != nil {
		return nil, a.auditMutation(ctx, p, domain.ActionChatMessagePosted, domain.TargetChat, truncate(in.Room, 50), err)
	}
	if err := a.auditMutation(ctx, p, domain.ActionChatMessagePosted, domain.TargetChat, msg.Room, nil); err != nil {
		return nil, err
	}
	return msg, nil
}

func (a *AccessController) ListChat(ctx context.Context, p *Principal, room string, limit int) ([]domain.ChatMessage, error) {
	msgs, err := a.chat.List(ctx, room, limit)
	if err != nil {
		return nil, a.rejected(ctx, p, domain.ActionChatListed, domain.TargetChat, truncate(room, 50), err)
	}
	return msgs, nil
}

func (a *AccessController) Stats(ctx context.Context, p *Principal) (*Stats, error) {
	if err := a.Authorize(ctx, p, domain.RoleModerator, domain.ActionStatsRead, "", ""); err != nil {
		return nil, err
	}
	return a.stats.Snapshot(ctx)
}

func (a *AccessController) invalidateIdentity(ctx context.Context, clientID uint) {
	if err := a.identities.Invalidate(ctx, clientID); err != nil {
		a.logger.WarnContext(ctx, "identity cache invalidation failed", "client_id", clientID, "error", err)
	}
}
