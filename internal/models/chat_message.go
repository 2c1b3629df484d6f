package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatMessage is one entry of the append-only per-room chat log.
// Messages are never edited or deleted. Seq is the storage ordering key
// and the cursor for incremental retrieval; ID is the public identifier.
type ChatMessage struct {
	Seq       uint      `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID        string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"id"`
	RoomID    string    `gorm:"type:varchar(64);not null;index:idx_chat_room" json:"room_id"`
	UserID    string    `gorm:"type:varchar(100);not null" json:"user"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `json:"timestamp"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
