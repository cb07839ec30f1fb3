package domain

import "time"

type Session struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ClientID      uint       `gorm:"index;not null" json:"client_id"`
	TokenHash     string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	TokenID       string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	IP            string     `gorm:"size:64" json:"ip"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ValidAt is the whole truth table: revocation wins over expiry.
func (s Session) ValidAt(now time.Time) error {
	if s.RevokedAt != nil {
		return ErrTokenRevoked
	}
	if !now.Before(s.ExpiresAt) {
		return ErrTokenExpired
	}
	return nil
}
