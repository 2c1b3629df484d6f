package handlers

import (
	"net/http"
	"strconv"

	"github.com/peerbridge/peerbridge/internal/signaling"

	"github.com/gin-gonic/gin"
)

type sdpRequest struct {
	SDP string `json:"sdp" binding:"required"`
}

type sdpResponse struct {
	RoomID string  `json:"room_id"`
	SDP    *string `json:"sdp"`
}

type candidateRequest struct {
	Candidate string `json:"candidate" binding:"required"`
}

type candidatesResponse struct {
	RoomID     string   `json:"room_id"`
	Candidates []string `json:"candidates"`
	NextCursor int      `json:"next_cursor"`
}

func (h *Handlers) writeSignalingError(c *gin.Context, err error) {
	switch err {
	case signaling.ErrSessionNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "no signaling session for room"})
	case signaling.ErrOfferExists:
		c.JSON(http.StatusConflict, gin.H{"error": "offer already submitted"})
	case signaling.ErrAnswerExists:
		c.JSON(http.StatusConflict, gin.H{"error": "answer already submitted"})
	case signaling.ErrNoOffer:
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "no offer to answer"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// SubmitOffer stores the caller's SDP offer. The slot is write-once; a
// second offer for the same room is rejected.
func (h *Handlers) SubmitOffer(c *gin.Context) {
	roomID := c.Param("room_id")
	if !h.requireParticipant(c, roomID) {
		return
	}

	var req sdpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.exchange.SubmitOffer(roomID, userID(c), req.SDP); err != nil {
		h.writeSignalingError(c, err)
		return
	}

	h.rooms.Touch(roomID, h.nowFn())
	h.broadcastEvent(roomID, "offer", userID(c))
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "state": h.exchange.State(roomID)})
}

func (h *Handlers) GetOffer(c *gin.Context) {
	roomID := c.Param("room_id")
	if !h.requireParticipant(c, roomID) {
		return
	}

	resp := sdpResponse{RoomID: roomID}
	if sdp, ok := h.exchange.Offer(roomID); ok {
		resp.SDP = &sdp
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitAnswer stores the SDP answer. Requires a prior offer and is
// write-once, same as the offer slot.
func (h *Handlers) SubmitAnswer(c *gin.Context) {
	roomID := c.Param("room_id")
	if !h.requireParticipant(c, roomID) {
		return
	}

	var req sdpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.exchange.SubmitAnswer(roomID, userID(c), req.SDP); err != nil {
		h.writeSignalingError(c, err)
		return
	}

	h.rooms.Touch(roomID, h.nowFn())
	h.broadcastEvent(roomID, "answer", userID(c))
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "state": h.exchange.State(roomID)})
}

func (h *Handlers) GetAnswer(c *gin.Context) {
	roomID := c.Param("room_id")
	if !h.requireParticipant(c, roomID) {
		return
	}

	resp := sdpResponse{RoomID: roomID}
	if sdp, ok := h.exchange.Answer(roomID); ok {
		resp.SDP = &sdp
	}
	c.JSON(http.StatusOK, resp)
}

// SubmitCandidate appends a trickled ICE candidate. Candidates are accepted
// in any session state, including before the offer.
func (h *Handlers) SubmitCandidate(c *gin.Context) {
	roomID := c.Param("room_id")
	if !h.requireParticipant(c, roomID) {
		return
	}

	var req candidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.exchange.SubmitCandidate(roomID, req.Candidate)
	h.rooms.Touch(roomID, h.nowFn())
	h.broadcastEvent(roomID, "candidate", userID(c))
	c.JSON(http.StatusOK, gin.H{"room_id": roomID})
}

// GetCandidates returns candidates from the ?since= cursor onward. Clients
// poll with next_cursor to read only what is new.
func (h *Handlers) GetCandidates(c *gin.Context) {
	roomID := c.Param("room_id")
	if !h.requireParticipant(c, roomID) {
		return
	}

	since, err := strconv.Atoi(c.DefaultQuery("since", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer"})
		return
	}
	if since < 0 {
		since = 0
	}

	candidates := h.exchange.Candidates(roomID, since)
	c.JSON(http.StatusOK, candidatesResponse{
		RoomID:     roomID,
		Candidates: candidates,
		NextCursor: since + len(candidates),
	})
}

// GetSignalingState reports the session progression for pollers that only
// need to know whether to fetch the offer or the answer yet.
func (h *Handlers) GetSignalingState(c *gin.Context) {
	roomID := c.Param("room_id")
	if !h.requireParticipant(c, roomID) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "state": h.exchange.State(roomID)})
}
