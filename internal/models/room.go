package models

import "time"

// RoomStatus is the lifecycle state of a call room.
// Keep values stable because they are part of the public API.
type RoomStatus string

const (
	RoomStatusActive RoomStatus = "active"
	RoomStatusEnded  RoomStatus = "ended"
)

// Room is an ephemeral call room tracked by the registry. Rooms live in
// memory only; they are created explicitly and reaped after an idle TTL.
type Room struct {
	ID              string     `json:"room_id"`
	Name            string     `json:"name"`
	Code            string     `json:"code"`
	ShareableLink   string     `json:"shareable_link"`
	MaxParticipants int        `json:"max_participants"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	Status          RoomStatus `json:"status"`

	// Participants maps user ID to join time. Membership is a set;
	// join order carries no meaning.
	Participants map[string]time.Time `json:"-"`
}

func (r *Room) ParticipantsCount() int {
	return len(r.Participants)
}

func (r *Room) HasParticipant(userID string) bool {
	_, ok := r.Participants[userID]
	return ok
}

// ParticipantIDs returns a copy of the membership set for responses.
func (r *Room) ParticipantIDs() []string {
	ids := make([]string, 0, len(r.Participants))
	for id := range r.Participants {
		ids = append(ids, id)
	}
	return ids
}
