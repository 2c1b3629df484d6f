package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peerbridge/peerbridge/internal/chat"
	"github.com/peerbridge/peerbridge/internal/config"
	"github.com/peerbridge/peerbridge/internal/database"
	"github.com/peerbridge/peerbridge/internal/ledger"
	"github.com/peerbridge/peerbridge/internal/providers"
	"github.com/peerbridge/peerbridge/internal/push"
	"github.com/peerbridge/peerbridge/internal/rooms"
	"github.com/peerbridge/peerbridge/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "handlers-test-secret"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Initialize(":memory:")
	require.NoError(t, err)

	cfg := &config.Config{
		JWTSecret:              testSecret,
		AdminUsers:             []string{"admin"},
		DefaultMaxParticipants: 2,
		MaxParticipantsLimit:   50,
	}

	logger := slog.New(slog.DiscardHandler)
	h := New(
		cfg,
		rooms.NewStore(30*time.Minute, time.Hour, "http://localhost:8080"),
		signaling.NewExchange(),
		chat.NewRelay(db),
		ledger.New(db),
		providers.NewDirectory(db),
		push.NewNotifier(db, push.VAPIDKeys{}, logger),
		nil,
		logger,
	)

	router := gin.New()
	api := router.Group("/api", AuthMiddleware(cfg.JWTSecret))
	api.POST("/rooms", h.CreateRoom)
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:room_id", h.GetRoom)
	api.POST("/rooms/:room_id/join", h.JoinRoom)
	api.DELETE("/rooms/:room_id", h.EndRoom)
	api.POST("/rooms/:room_id/offer", h.SubmitOffer)
	api.GET("/rooms/:room_id/offer", h.GetOffer)
	api.POST("/rooms/:room_id/answer", h.SubmitAnswer)
	api.GET("/rooms/:room_id/answer", h.GetAnswer)
	api.POST("/rooms/:room_id/candidates", h.SubmitCandidate)
	api.GET("/rooms/:room_id/candidates", h.GetCandidates)
	api.POST("/rooms/:room_id/messages", h.SendMessage)
	api.GET("/rooms/:room_id/messages", h.GetMessages)
	api.POST("/usage", h.LogUsage)
	api.GET("/usage", h.GetAllUsage)
	api.GET("/usage/:session_id", h.GetUsage)
	api.POST("/billing", h.RecordBilling)
	api.POST("/providers", h.RegisterProvider)
	api.GET("/providers", h.ListProviders)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := SignToken(testSecret, user, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func createRoom(t *testing.T, router *gin.Engine, user string) string {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/rooms", user, gin.H{"name": "standup"})
	require.Equal(t, http.StatusCreated, rec.Code)
	roomID, ok := decodeBody(t, rec)["room_id"].(string)
	require.True(t, ok)
	return roomID
}

func TestAuthRequired(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredTokenRejected(t *testing.T) {
	router := newTestRouter(t)

	token, err := SignToken(testSecret, "alice", -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoomLifecycle(t *testing.T) {
	router := newTestRouter(t)

	roomID := createRoom(t, router, "alice")

	rec := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "alice", body["created_by"])

	rec = doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["participants"], 2)

	// Default capacity is 2; a third participant is turned away.
	rec = doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/join", "carol", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Only the creator may end the room.
	rec = doJSON(t, router, http.MethodDelete, "/api/rooms/"+roomID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/rooms/"+roomID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRoomCapacityValidation(t *testing.T) {
	router := newTestRouter(t)

	// Explicit zero is invalid, not "use the default".
	rec := doJSON(t, router, http.MethodPost, "/api/rooms", "alice",
		gin.H{"name": "standup", "max_participants": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/rooms", "alice",
		gin.H{"name": "standup", "max_participants": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Absent means the configured default.
	rec = doJSON(t, router, http.MethodPost, "/api/rooms", "alice", gin.H{"name": "standup"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["max_participants"])
}

func TestAdminCanEndAnyRoom(t *testing.T) {
	router := newTestRouter(t)

	roomID := createRoom(t, router, "alice")
	rec := doJSON(t, router, http.MethodDelete, "/api/rooms/"+roomID, "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRoomReturnsNotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/rooms/nope/join", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignalingFlow(t *testing.T) {
	router := newTestRouter(t)

	roomID := createRoom(t, router, "alice")
	rec := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Answer before offer is a precondition failure.
	rec = doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/answer", "bob", gin.H{"sdp": "answer-sdp"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/offer", "alice", gin.H{"sdp": "offer-sdp"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The offer slot is write-once.
	rec = doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/offer", "bob", gin.H{"sdp": "other-offer"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/offer", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "offer-sdp", decodeBody(t, rec)["sdp"])

	rec = doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/answer", "bob", gin.H{"sdp": "answer-sdp"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answered", decodeBody(t, rec)["state"])

	rec = doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/answer", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answer-sdp", decodeBody(t, rec)["sdp"])
}

func TestSignalingRequiresMembership(t *testing.T) {
	router := newTestRouter(t)

	roomID := createRoom(t, router, "alice")

	rec := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/offer", "mallory", gin.H{"sdp": "offer-sdp"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/candidates", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCandidatesCursor(t *testing.T) {
	router := newTestRouter(t)

	roomID := createRoom(t, router, "alice")
	for i := 0; i < 3; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/candidates", "alice",
			gin.H{"candidate": fmt.Sprintf("candidate-%d", i)})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/candidates", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Len(t, body["candidates"], 3)
	assert.Equal(t, float64(3), body["next_cursor"])

	rec = doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/candidates?since=2", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Len(t, body["candidates"], 1)
	assert.Equal(t, float64(3), body["next_cursor"])
}

func TestChatRoundTrip(t *testing.T) {
	router := newTestRouter(t)

	roomID := createRoom(t, router, "alice")
	rec := doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/messages", "alice", gin.H{"message": "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/api/rooms/"+roomID+"/messages", "bob", gin.H{"message": "hi"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/messages", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msgs, ok := decodeBody(t, rec)["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "alice", first["user_id"])
	assert.Equal(t, "hello", first["message"])

	rec = doJSON(t, router, http.MethodGet, "/api/rooms/"+roomID+"/messages", "mallory", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUsageAndBilling(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/usage", "alice",
		gin.H{"server_url": "turn:relay.example.com:3478", "session_id": "sess-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/usage/sess-1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decodeBody(t, rec)["user"])

	rec = doJSON(t, router, http.MethodGet, "/api/usage/sess-missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/billing", "alice", gin.H{
		"session_id":      "sess-1",
		"provider_id":     "prov-1",
		"start_time":      1,
		"end_time":        1 + 2*time.Minute.Nanoseconds(),
		"cost_per_minute": 0.2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.InEpsilon(t, 0.40, body["total_cost"].(float64), 1e-9)
	assert.InEpsilon(t, 0.36, body["provider_earnings"].(float64), 1e-9)
	assert.InEpsilon(t, 0.04, body["protocol_fee"].(float64), 1e-9)
}

func TestBillingAcceptsZeroDurationAtEpochZero(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/billing", "alice", gin.H{
		"session_id":      "sess-0",
		"provider_id":     "prov-1",
		"start_time":      0,
		"end_time":        0,
		"cost_per_minute": 0.2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["duration_minutes"])
	assert.Equal(t, float64(0), body["total_cost"])
}

func TestBillingRejectsInvertedInterval(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/billing", "alice", gin.H{
		"session_id":      "sess-1",
		"provider_id":     "prov-1",
		"start_time":      100,
		"end_time":        50,
		"cost_per_minute": 0.2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsageDumpIsOperatorOnly(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/usage", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/usage", "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProviderRegistration(t *testing.T) {
	router := newTestRouter(t)

	reg := gin.H{"name": "relay-eu", "url": "turn:relay.example.com:3478", "location": "eu-west"}
	rec := doJSON(t, router, http.MethodPost, "/api/providers", "alice", reg)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/providers", "bob", reg)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/providers", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}
