package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const ActorSystem = "system"

type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeDenied  AuditOutcome = "denied"
	OutcomeFailure AuditOutcome = "failure"
)

const (
	ActionLoginSuccess        = "login_success"
	ActionLoginDenied         = "login_denied"
	ActionLogout              = "logout"
	ActionAuthDenied          = "auth_denied"
	ActionSessionRevoked      = "session_revoked"
	ActionDeviceRegistered    = "device_registered"
	ActionDeviceHeartbeat     = "device_heartbeat"
	ActionDeviceForcedOffline = "device_forced_offline"
	ActionConnectionsRecorded = "connections_recorded"
	ActionClientCreated       = "client_created"
	ActionClientUpdated       = "client_updated"
	ActionClientDeactivated   = "client_deactivated"
	ActionChatMessagePosted   = "chat_message_posted"
	ActionChatListed          = "chat_messages_listed"
	ActionSessionsPurged      = "sessions_purged"
	ActionAuditLogRead        = "audit_log_read"
	ActionConnectionsListed   = "connections_listed"
	ActionDevicesListed       = "devices_listed"
	ActionClientsListed       = "clients_listed"
	ActionStatsRead           = "stats_read"
)

const (
	TargetClient  = "client"
	TargetDevice  = "device"
	TargetSession = "session"
	TargetChat    = "chat_room"
	TargetAudit   = "audit_log"
)

// ClientActor renders the actor reference for an authenticated client.
func ClientActor(clientID uint) string {
	return "client:" + strconv.FormatUint(uint64(clientID), 10)
}

// ParseClientActor is the inverse of ClientActor.
func ParseClientActor(actor string) (uint, bool) {
	raw, ok := strings.CutPrefix(actor, "client:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// AuditLogEntry is append-only. Sequence is the ordering key; RecordedAt is metadata.
type AuditLogEntry struct {
	Sequence      uint64       `gorm:"primaryKey;autoIncrement:false" json:"sequence"`
	Actor         string       `gorm:"size:64;index;not null" json:"actor"`
	ActorClientID *uint        `gorm:"index" json:"actor_client_id,omitempty"`
	Action        string       `gorm:"size:64;index;not null" json:"action"`
	TargetType    string       `gorm:"size:32" json:"target_type,omitempty"`
	TargetID      string       `gorm:"size:160" json:"target_id,omitempty"`
	Outcome       AuditOutcome `gorm:"size:16;not null" json:"outcome"`
	Reason        string       `gorm:"size:64" json:"reason,omitempty"`
	IP            string       `gorm:"size:64" json:"ip,omitempty"`
	RecordedAt    time.Time    `gorm:"index;not null" json:"recorded_at"`
	PrevHash      string       `gorm:"size:64;not null" json:"prev_hash"`
	Hash          string       `gorm:"size:64;uniqueIndex;not null" json:"hash"`
}

// AuditHead tracks the tail of the chain; there is exactly one row with ID 1.
type AuditHead struct {
	ID           uint   `gorm:"primaryKey"`
	LastSequence uint64 `gorm:"not null"`
	LastHash     string `gorm:"size:64;not null"`
}

// ComputeHash binds the entry content to its predecessor.
func (e AuditLogEntry) ComputeHash() string {
	payload := fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		e.Sequence,
		e.Actor,
		e.Action,
		e.TargetType,
		e.TargetID,
		e.Outcome,
		e.Reason,
		e.IP,
		e.RecordedAt.UTC().UnixMicro(),
		e.PrevHash,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// GenesisHash is the PrevHash of sequence 1.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"
