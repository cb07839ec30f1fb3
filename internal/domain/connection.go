package domain

import "time"

// Connection is write-once; repositories expose no update or delete for it.
type Connection struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	DeviceID      uint      `gorm:"index;not null" json:"device_id"`
	ClientID      uint      `gorm:"index;not null" json:"client_id"`
	SessionID     *uint     `gorm:"index" json:"session_id,omitempty"`
	LocalIP       string    `gorm:"size:45" json:"local_ip"`
	LocalPort     int       `json:"local_port"`
	RemoteIP      string    `gorm:"size:45" json:"remote_ip"`
	RemotePort    int       `json:"remote_port"`
	Protocol      string    `gorm:"size:10" json:"protocol"`
	State         string    `gorm:"size:20" json:"state"`
	Process       string    `gorm:"size:100" json:"process,omitempty"`
	PID           int       `json:"pid,omitempty"`
	BytesSent     int64     `json:"bytes_sent"`
	BytesReceived int64     `json:"bytes_received"`
	RecordedAt    time.Time `gorm:"index;not null" json:"recorded_at"`
}
