package domain

import (
	"strings"
	"time"
)

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

type Device struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ClientID        uint       `gorm:"index;not null" json:"client_id"`
	Fingerprint     string     `gorm:"size:160;uniqueIndex;not null" json:"fingerprint"`
	Name            string     `gorm:"size:100" json:"name"`
	Kind            string     `gorm:"size:50" json:"kind"`
	Hostname        string     `gorm:"size:100;index" json:"hostname"`
	OS              string     `gorm:"size:50" json:"os"`
	OSVersion       string     `gorm:"size:50" json:"os_version"`
	LocalIP         string     `gorm:"size:45" json:"local_ip"`
	PublicIP        string     `gorm:"size:45" json:"public_ip"`
	MACAddress      string     `gorm:"size:20" json:"mac_address"`
	Processor       string     `gorm:"size:100" json:"processor"`
	MemoryTotal     string     `gorm:"size:20" json:"memory_total"`
	DiskTotal       string     `gorm:"size:20" json:"disk_total"`
	IsVirtual       bool       `json:"is_virtual"`
	VirtualType     string     `gorm:"size:50" json:"virtual_type,omitempty"`
	LastHeartbeatAt time.Time  `gorm:"index;not null" json:"last_heartbeat_at"`
	OfflineFencedAt *time.Time `json:"offline_fenced_at,omitempty"`
	RegisteredAt    time.Time  `gorm:"not null" json:"registered_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// StatusAt derives presence from heartbeat history only. A force-offline fence hides
// every heartbeat at or before it.
func (d Device) StatusAt(now time.Time, threshold time.Duration) PresenceStatus {
	if d.LastHeartbeatAt.IsZero() {
		return StatusOffline
	}
	if d.OfflineFencedAt != nil && !d.LastHeartbeatAt.After(*d.OfflineFencedAt) {
		return StatusOffline
	}
	if now.Sub(d.LastHeartbeatAt) <= threshold {
		return StatusOnline
	}
	return StatusOffline
}

// SystemInfo is the bundle an agent reports when it registers.
type SystemInfo struct {
	Name        string
	Kind        string
	Hostname    string
	OS          string
	OSVersion   string
	LocalIP     string
	PublicIP    string
	MACAddress  string
	Processor   string
	MemoryTotal string
	DiskTotal   string
	IsVirtual   bool
	VirtualType string
}

// Fingerprint prefers the MAC address and falls back to the hostname, matching how
// agents are re-identified across reinstalls.
func (s SystemInfo) Fingerprint() string {
	if mac := normalizeMAC(s.MACAddress); mac != "" {
		return "mac:" + mac
	}
	if host := strings.ToLower(strings.TrimSpace(s.Hostname)); host != "" {
		return "host:" + host
	}
	return ""
}

func normalizeMAC(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.NewReplacer("-", "", ":", "", ".", "").Replace(v)
	if v == "" || strings.Trim(v, "0") == "" {
		return ""
	}
	return v
}
