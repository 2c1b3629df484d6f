package handlers

import (
	"sync"

	"github.com/gorilla/websocket"
)

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	roomID    string
	userID    string
	closeOnce sync.Once
}

func (c *wsClient) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *wsClient) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// EventHub fans out room event notifications to connected sockets. It is a
// hint channel only; clients still poll the HTTP API for the payloads.
type EventHub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*wsClient // roomID -> userID -> client
}

func NewEventHub() *EventHub {
	return &EventHub{
		rooms: make(map[string]map[string]*wsClient),
	}
}

func (h *EventHub) Add(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[client.roomID]
	if !ok {
		members = make(map[string]*wsClient)
		h.rooms[client.roomID] = members
	}

	// A user reconnecting replaces their previous socket.
	if old := members[client.userID]; old != nil {
		_ = old.conn.Close()
		old.closeSend()
	}

	members[client.userID] = client
}

// Remove deregisters a client. Identity is compared, not just the user key:
// a stale socket replaced by a reconnect must not tear down its successor.
func (h *EventHub) Remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[client.roomID]
	if !ok {
		return
	}

	if current, exists := members[client.userID]; !exists || current != client {
		return
	}

	client.closeSend()
	delete(members, client.userID)
	if len(members) == 0 {
		delete(h.rooms, client.roomID)
	}
}

func (h *EventHub) Broadcast(roomID string, payload []byte) {
	h.mu.Lock()
	var clients []*wsClient
	if members, ok := h.rooms[roomID]; ok {
		clients = make([]*wsClient, 0, len(members))
		for _, client := range members {
			clients = append(clients, client)
		}
	}
	h.mu.Unlock()

	for _, client := range clients {
		if !client.trySend(payload) {
			_ = client.conn.Close()
		}
	}
}

// CloseRoom drops every socket for a room. Called when a room ends or is
// reaped.
func (h *EventHub) CloseRoom(roomID string) {
	h.mu.Lock()
	members, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, roomID)
	h.mu.Unlock()

	for _, client := range members {
		_ = client.conn.Close()
		client.closeSend()
	}
}
