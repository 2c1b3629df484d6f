package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/peerbridge/peerbridge/internal/models"

	"github.com/gin-gonic/gin"
)

const maxMessageLength = 2000

type sendMessageRequest struct {
	Message string `json:"message" binding:"required"`
}

type chatMessageResponse struct {
	Seq       uint      `json:"seq"`
	MessageID string    `json:"message_id"`
	RoomID    string    `json:"room_id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func toChatMessageResponse(m *models.ChatMessage) chatMessageResponse {
	return chatMessageResponse{
		Seq:       m.Seq,
		MessageID: m.ID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
}

func (h *Handlers) SendMessage(c *gin.Context) {
	roomID := c.Param("room_id")
	if !h.requireParticipant(c, roomID) {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Message) > maxMessageLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}

	msg, err := h.chat.Send(roomID, userID(c), req.Message, h.nowFn())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.rooms.Touch(roomID, h.nowFn())
	h.broadcastEvent(roomID, "chat", userID(c))
	c.JSON(http.StatusCreated, toChatMessageResponse(msg))
}

// GetMessages returns the room history in send order. ?after= skips
// messages up to and including that sequence number.
func (h *Handlers) GetMessages(c *gin.Context) {
	roomID := c.Param("room_id")
	if !h.requireParticipant(c, roomID) {
		return
	}

	var (
		msgs []models.ChatMessage
		err  error
	)
	if after := c.Query("after"); after != "" {
		seq, parseErr := strconv.ParseUint(after, 10, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be an integer"})
			return
		}
		msgs, err = h.chat.MessagesSince(roomID, uint(seq))
	} else {
		msgs, err = h.chat.Messages(roomID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]chatMessageResponse, 0, len(msgs))
	for i := range msgs {
		out = append(out, toChatMessageResponse(&msgs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "messages": out})
}
