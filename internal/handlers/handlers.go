package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/peerbridge/peerbridge/internal/chat"
	"github.com/peerbridge/peerbridge/internal/config"
	"github.com/peerbridge/peerbridge/internal/ledger"
	"github.com/peerbridge/peerbridge/internal/providers"
	"github.com/peerbridge/peerbridge/internal/push"
	"github.com/peerbridge/peerbridge/internal/rooms"
	"github.com/peerbridge/peerbridge/internal/signaling"
	"github.com/peerbridge/peerbridge/internal/turn"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type Handlers struct {
	config     *config.Config
	rooms      *rooms.Store
	exchange   *signaling.Exchange
	chat       *chat.Relay
	ledger     *ledger.Ledger
	providers  *providers.Directory
	notifier   *push.Notifier
	turnServer *turn.Server // nil when the embedded relay is disabled
	hub        *EventHub
	wsUpgrader websocket.Upgrader
	logger     *slog.Logger
	nowFn      func() time.Time
}

func New(
	cfg *config.Config,
	roomStore *rooms.Store,
	exchange *signaling.Exchange,
	chatRelay *chat.Relay,
	usageLedger *ledger.Ledger,
	directory *providers.Directory,
	notifier *push.Notifier,
	turnServer *turn.Server,
	logger *slog.Logger,
) *Handlers {
	h := &Handlers{
		config:     cfg,
		rooms:      roomStore,
		exchange:   exchange,
		chat:       chatRelay,
		ledger:     usageLedger,
		providers:  directory,
		notifier:   notifier,
		turnServer: turnServer,
		hub:        NewEventHub(),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
		nowFn:  time.Now,
	}

	// Expired and ended rooms take their signaling state and any open
	// notification sockets with them.
	roomStore.SetEvictHook(func(roomID string) {
		exchange.Drop(roomID)
		h.hub.CloseRoom(roomID)
	})

	return h
}

// userID returns the authenticated caller set by AuthMiddleware. The empty
// fallback never happens on routes behind the middleware.
func userID(c *gin.Context) string {
	return c.GetString("user_id")
}

// requireParticipant resolves the room and rejects callers that are not
// members. Signaling and chat routes all share this gate.
func (h *Handlers) requireParticipant(c *gin.Context, roomID string) bool {
	ok, err := h.rooms.IsParticipant(roomID, userID(c), h.nowFn())
	if err != nil {
		h.writeRoomError(c, err)
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room participant"})
		return false
	}
	return true
}

func (h *Handlers) writeRoomError(c *gin.Context, err error) {
	switch err {
	case rooms.ErrRoomNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
	case rooms.ErrRoomFull:
		c.JSON(http.StatusConflict, gin.H{"error": "room is full"})
	case rooms.ErrRoomEnded:
		c.JSON(http.StatusConflict, gin.H{"error": "room ended"})
	case rooms.ErrInvalidCapacity:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
