// Package chat is the append-only per-room message log. It shares the
// room's identity and access scope with the signaling exchange but is
// otherwise independent of the handshake.
package chat

import (
	"fmt"
	"time"

	"github.com/peerbridge/peerbridge/internal/models"

	"gorm.io/gorm"
)

type Relay struct {
	db *gorm.DB
}

func NewRelay(db *gorm.DB) *Relay {
	return &Relay{db: db}
}

// Send appends a message attributed to the caller with a server timestamp.
// Room existence and membership are the façade's responsibility; the relay
// itself only appends.
func (r *Relay) Send(roomID, userID, text string, now time.Time) (*models.ChatMessage, error) {
	msg := &models.ChatMessage{
		RoomID:    roomID,
		UserID:    userID,
		Message:   text,
		CreatedAt: now,
	}
	if err := r.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("append chat message: %w", err)
	}
	return msg, nil
}

// Messages returns the room's full log in arrival order. This is the
// baseline polling contract; clients re-render the whole list.
func (r *Relay) Messages(roomID string) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	if err := r.db.Where("room_id = ?", roomID).Order("seq asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	return out, nil
}

// MessagesSince returns messages appended after the given sequence cursor,
// in arrival order. With afterSeq 0 it degrades to the full history.
func (r *Relay) MessagesSince(roomID string, afterSeq uint) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	if err := r.db.Where("room_id = ? AND seq > ?", roomID, afterSeq).
		Order("seq asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	return out, nil
}
