package handlers

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 30 * time.Second
)

// roomEvent tells a connected client that something changed in the room.
// The payload itself is fetched over HTTP; the socket only carries hints,
// so SDP and candidate bodies never transit it.
type roomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	From   string `json:"from,omitempty"`
	At     int64  `json:"at"`
}

func (h *Handlers) broadcastEvent(roomID, eventType string, from string) {
	payload, err := json.Marshal(roomEvent{
		Type:   eventType,
		RoomID: roomID,
		From:   from,
		At:     h.nowFn().UnixNano(),
	})
	if err != nil {
		return
	}
	h.hub.Broadcast(roomID, payload)
}

// HandleWebSocket attaches the caller to the room's notification stream.
// The connection is receive-only apart from ping frames.
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	roomID := c.Query("room_id")
	if roomID == "" {
		roomID = c.Param("room_id")
	}
	if !h.requireParticipant(c, roomID) {
		return
	}

	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "room_id", roomID, "user_id", userID(c), "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 32),
		roomID: roomID,
		userID: userID(c),
	}

	h.hub.Add(client)
	h.logger.Debug("ws connected", "room_id", roomID, "user_id", client.userID)

	go h.writePump(client)
	h.readPump(client)
}

func (h *Handlers) readPump(client *wsClient) {
	defer func() {
		h.logger.Debug("ws disconnect", "room_id", client.roomID, "user_id", client.userID)
		_ = client.conn.Close()
		h.hub.Remove(client)
	}()

	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		// Inbound frames are drained and ignored except for keepalive.
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handlers) writePump(client *wsClient) {
	defer func() {
		_ = client.conn.Close()
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
