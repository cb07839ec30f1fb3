package domain

import "time"

type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ClientID  uint      `gorm:"index;not null" json:"client_id"`
	Room      string    `gorm:"size:50;index;not null;default:general" json:"room"`
	Author    string    `gorm:"size:100" json:"author"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	Kind      string    `gorm:"size:20;not null;default:text" json:"kind"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
