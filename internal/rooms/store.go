package rooms

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/peerbridge/peerbridge/internal/models"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is at capacity")
	ErrRoomEnded       = errors.New("room already ended")
	ErrInvalidCapacity = errors.New("max participants must be at least 1")
)

// Join codes avoid ambiguous characters so they survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// EvictFunc is called after a room is removed, with the lock released.
// The signaling exchange and the notification hub use it to drop per-room
// state so sessions never outlive their room.
type EvictFunc func(roomID string)

// Store is the in-memory room registry. Every operation is a short atomic
// read-modify-write under one mutex; expired rooms are reaped both lazily on
// access and by a background sweep.
type Store struct {
	mu        sync.Mutex
	rooms     map[string]*models.Room
	codeIndex map[string]string // join code -> room ID

	roomTTL       time.Duration
	sweepInterval time.Duration
	linkBase      string

	onEvict EvictFunc
}

func NewStore(roomTTL, sweepInterval time.Duration, linkBase string) *Store {
	s := &Store{
		rooms:         make(map[string]*models.Room),
		codeIndex:     make(map[string]string),
		roomTTL:       roomTTL,
		sweepInterval: sweepInterval,
		linkBase:      strings.TrimSuffix(linkBase, "/"),
	}
	go s.sweepLoop()
	return s
}

// SetEvictHook registers the eviction callback. Must be called during
// wiring, before the store receives traffic.
func (s *Store) SetEvictHook(fn EvictFunc) {
	s.onEvict = fn
}

// Create allocates a new room with the caller as its first participant.
func (s *Store) Create(name string, maxParticipants int, creator string, now time.Time) (*models.Room, error) {
	if maxParticipants < 1 {
		return nil, ErrInvalidCapacity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := gonanoid.New(16)
	if err != nil {
		return nil, err
	}
	code, err := s.uniqueCodeLocked()
	if err != nil {
		return nil, err
	}

	room := &models.Room{
		ID:              id,
		Name:            name,
		Code:            code,
		ShareableLink:   fmt.Sprintf("%s/join/%s", s.linkBase, code),
		MaxParticipants: maxParticipants,
		CreatedBy:       creator,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(s.roomTTL),
		Status:          models.RoomStatusActive,
		Participants:    map[string]time.Time{creator: now},
	}

	s.rooms[id] = room
	s.codeIndex[code] = id
	return snapshot(room), nil
}

// Join adds the user to the room. Joining a room you are already in is a
// no-op success. The capacity check and the insert happen under the same
// lock so concurrent joiners can never overshoot MaxParticipants.
func (s *Store) Join(roomID, userID string, now time.Time) (*models.Room, error) {
	s.mu.Lock()
	room, err := s.loadActiveLocked(roomID, now)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	if !room.HasParticipant(userID) {
		if room.ParticipantsCount() >= room.MaxParticipants {
			s.mu.Unlock()
			return nil, ErrRoomFull
		}
		room.Participants[userID] = now
	}
	room.UpdatedAt = now
	room.ExpiresAt = now.Add(s.roomTTL)
	snap := snapshot(room)
	s.mu.Unlock()
	return snap, nil
}

// Get returns a snapshot of the room.
func (s *Store) Get(roomID string, now time.Time) (*models.Room, error) {
	s.mu.Lock()
	room, err := s.loadActiveLocked(roomID, now)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := snapshot(room)
	s.mu.Unlock()
	return snap, nil
}

// GetByCode resolves a join code to its room.
func (s *Store) GetByCode(code string, now time.Time) (*models.Room, error) {
	s.mu.Lock()
	roomID, ok := s.codeIndex[strings.ToUpper(code)]
	if !ok {
		s.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	room, err := s.loadActiveLocked(roomID, now)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snap := snapshot(room)
	s.mu.Unlock()
	return snap, nil
}

// List returns snapshots of all live rooms, oldest first.
func (s *Store) List(now time.Time) []*models.Room {
	s.mu.Lock()
	evicted := s.reapExpiredLocked(now)

	out := make([]*models.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		out = append(out, snapshot(room))
	}
	s.mu.Unlock()
	s.notifyEvicted(evicted)

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// IsParticipant reports whether the user is an active member of the room.
func (s *Store) IsParticipant(roomID, userID string, now time.Time) (bool, error) {
	s.mu.Lock()
	room, err := s.loadActiveLocked(roomID, now)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	ok := room.HasParticipant(userID)
	s.mu.Unlock()
	return ok, nil
}

// Touch refreshes the idle TTL after a successful room-scoped operation.
func (s *Store) Touch(roomID string, now time.Time) {
	s.mu.Lock()
	if room, ok := s.rooms[roomID]; ok && room.Status == models.RoomStatusActive {
		room.UpdatedAt = now
		room.ExpiresAt = now.Add(s.roomTTL)
	}
	s.mu.Unlock()
}

// End tears the room down explicitly and returns its final snapshot.
func (s *Store) End(roomID string, now time.Time) (*models.Room, error) {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrRoomNotFound
	}

	room.Status = models.RoomStatusEnded
	room.UpdatedAt = now
	snap := snapshot(room)
	s.removeLocked(roomID)
	s.mu.Unlock()

	s.notifyEvicted([]string{roomID})
	return snap, nil
}

func (s *Store) loadActiveLocked(roomID string, now time.Time) (*models.Room, error) {
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if !room.ExpiresAt.IsZero() && now.After(room.ExpiresAt) {
		s.removeLocked(roomID)
		// Late eviction notification is acceptable here; the sweep would
		// deliver it anyway within one interval.
		go s.notifyEvicted([]string{roomID})
		return nil, ErrRoomEnded
	}
	return room, nil
}

func (s *Store) removeLocked(roomID string) {
	if room, ok := s.rooms[roomID]; ok {
		delete(s.codeIndex, room.Code)
	}
	delete(s.rooms, roomID)
}

func (s *Store) reapExpiredLocked(now time.Time) []string {
	var evicted []string
	for id, room := range s.rooms {
		if !room.ExpiresAt.IsZero() && now.After(room.ExpiresAt) {
			s.removeLocked(id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (s *Store) notifyEvicted(roomIDs []string) {
	if s.onEvict == nil {
		return
	}
	for _, id := range roomIDs {
		s.onEvict(id)
	}
}

func (s *Store) sweepLoop() {
	if s.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.sweepInterval)
	for range ticker.C {
		s.mu.Lock()
		evicted := s.reapExpiredLocked(time.Now())
		s.mu.Unlock()
		s.notifyEvicted(evicted)
	}
}

func (s *Store) uniqueCodeLocked() (string, error) {
	for {
		code, err := gonanoid.Generate(codeAlphabet, 6)
		if err != nil {
			return "", err
		}
		if _, taken := s.codeIndex[code]; !taken {
			return code, nil
		}
	}
}

// snapshot copies the room so callers never share the store's mutable state.
func snapshot(room *models.Room) *models.Room {
	cp := *room
	cp.Participants = make(map[string]time.Time, len(room.Participants))
	for id, joined := range room.Participants {
		cp.Participants[id] = joined
	}
	return &cp
}
