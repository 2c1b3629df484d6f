package handlers

import (
	"net/http"
	"time"

	"github.com/peerbridge/peerbridge/internal/models"

	"github.com/gin-gonic/gin"
)

type createRoomRequest struct {
	Name string `json:"name"`
	// Pointer so an explicit 0 is distinguishable from an absent field:
	// absent means the configured default, 0 is rejected as invalid.
	MaxParticipants *int `json:"max_participants"`
}

type roomResponse struct {
	RoomID          string            `json:"room_id"`
	Name            string            `json:"name"`
	Code            string            `json:"code"`
	ShareableLink   string            `json:"shareable_link"`
	Status          models.RoomStatus `json:"status"`
	MaxParticipants int               `json:"max_participants"`
	Participants    []string          `json:"participants"`
	CreatedBy       string            `json:"created_by"`
	CreatedAt       time.Time         `json:"created_at"`
	ExpiresAt       time.Time         `json:"expires_at"`
}

func toRoomResponse(room *models.Room) roomResponse {
	return roomResponse{
		RoomID:          room.ID,
		Name:            room.Name,
		Code:            room.Code,
		ShareableLink:   room.ShareableLink,
		Status:          room.Status,
		MaxParticipants: room.MaxParticipants,
		Participants:    room.ParticipantIDs(),
		CreatedBy:       room.CreatedBy,
		CreatedAt:       room.CreatedAt,
		ExpiresAt:       room.ExpiresAt,
	}
}

func (h *Handlers) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	maxParticipants := h.config.DefaultMaxParticipants
	if req.MaxParticipants != nil {
		maxParticipants = *req.MaxParticipants
	}
	if maxParticipants > h.config.MaxParticipantsLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max participants above limit"})
		return
	}

	room, err := h.rooms.Create(req.Name, maxParticipants, userID(c), h.nowFn())
	if err != nil {
		h.writeRoomError(c, err)
		return
	}

	h.logger.Info("room created", "room_id", room.ID, "created_by", room.CreatedBy, "max_participants", room.MaxParticipants)
	c.JSON(http.StatusCreated, toRoomResponse(room))
}

func (h *Handlers) ListRooms(c *gin.Context) {
	active := h.rooms.List(h.nowFn())
	out := make([]roomResponse, 0, len(active))
	for _, room := range active {
		out = append(out, toRoomResponse(room))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *Handlers) GetRoom(c *gin.Context) {
	room, err := h.rooms.Get(c.Param("room_id"), h.nowFn())
	if err != nil {
		h.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomResponse(room))
}

// GetRoomByCode resolves a short join code to the full room, for clients
// following a shared link.
func (h *Handlers) GetRoomByCode(c *gin.Context) {
	room, err := h.rooms.GetByCode(c.Param("code"), h.nowFn())
	if err != nil {
		h.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomResponse(room))
}

func (h *Handlers) JoinRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	caller := userID(c)

	room, err := h.rooms.Join(roomID, caller, h.nowFn())
	if err != nil {
		h.writeRoomError(c, err)
		return
	}

	// Let everyone already in the room know, online or not.
	h.broadcastEvent(roomID, "participant-joined", caller)
	for _, member := range room.ParticipantIDs() {
		if member == caller {
			continue
		}
		h.notifier.NotifyIncomingCall(member, room.ID, room.Name, caller)
	}

	h.logger.Info("room joined", "room_id", roomID, "user_id", caller, "participants", room.ParticipantsCount())
	c.JSON(http.StatusOK, toRoomResponse(room))
}

// EndRoom closes a room. Only the creator or an operator may end it; the
// eviction hook tears down signaling state and open sockets.
func (h *Handlers) EndRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	caller := userID(c)

	room, err := h.rooms.Get(roomID, h.nowFn())
	if err != nil {
		h.writeRoomError(c, err)
		return
	}
	if room.CreatedBy != caller && !h.config.IsAdmin(caller) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the room creator can end the room"})
		return
	}

	h.broadcastEvent(roomID, "room-ended", caller)

	ended, err := h.rooms.End(roomID, h.nowFn())
	if err != nil {
		h.writeRoomError(c, err)
		return
	}

	h.logger.Info("room ended", "room_id", roomID, "ended_by", caller)
	c.JSON(http.StatusOK, toRoomResponse(ended))
}
