package rooms

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore() *Store {
	// Zero sweep interval keeps the background loop out of tests;
	// lazy eviction on access still applies.
	return NewStore(30*time.Minute, 0, "https://calls.example.com")
}

func TestCreateRoomInitialState(t *testing.T) {
	store := newTestStore()
	base := time.Unix(1_700_000_000, 0)

	room, err := store.Create("standup", 4, "alice", base)
	if err != nil {
		t.Fatalf("create room failed: %v", err)
	}

	if room.ID == "" || room.Code == "" {
		t.Fatalf("expected ID and code to be set, got %+v", room)
	}
	if !room.HasParticipant("alice") || room.ParticipantsCount() != 1 {
		t.Fatalf("creator should be the only participant, got %v", room.ParticipantIDs())
	}
	if room.Status != "active" {
		t.Fatalf("expected active room, got %s", room.Status)
	}

	second, err := store.Create("standup-2", 4, "alice", base.Add(time.Second))
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if second.ID == room.ID || second.Code == room.Code {
		t.Fatalf("expected unique IDs and codes, got %s/%s twice", room.ID, room.Code)
	}
}

func TestCreateRoomRejectsBadCapacity(t *testing.T) {
	store := newTestStore()

	if _, err := store.Create("x", 0, "alice", time.Unix(1_700_000_000, 0)); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity, got %v", err)
	}
	if _, err := store.Create("x", -3, "alice", time.Unix(1_700_000_000, 0)); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity for negative capacity, got %v", err)
	}
}

func TestJoinRespectsCapacity(t *testing.T) {
	store := newTestStore()
	base := time.Unix(1_700_100_000, 0)

	room, _ := store.Create("duo", 2, "alice", base)

	if _, err := store.Join(room.ID, "bob", base.Add(time.Second)); err != nil {
		t.Fatalf("bob join failed: %v", err)
	}
	if _, err := store.Join(room.ID, "carol", base.Add(2*time.Second)); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}

	// The failed join must not change membership.
	got, err := store.Get(room.ID, base.Add(3*time.Second))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ParticipantsCount() != 2 {
		t.Fatalf("expected 2 participants after rejected join, got %d", got.ParticipantsCount())
	}
}

func TestJoinIsIdempotentForMembers(t *testing.T) {
	store := newTestStore()
	base := time.Unix(1_700_200_000, 0)

	room, _ := store.Create("duo", 2, "alice", base)
	if _, err := store.Join(room.ID, "bob", base.Add(time.Second)); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	// Re-joining when full must still succeed for an existing member.
	got, err := store.Join(room.ID, "bob", base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("repeat join failed: %v", err)
	}
	if got.ParticipantsCount() != 2 {
		t.Fatalf("repeat join changed membership: %v", got.ParticipantIDs())
	}
}

func TestJoinUnknownRoom(t *testing.T) {
	store := newTestStore()
	if _, err := store.Join("missing", "bob", time.Unix(1_700_000_000, 0)); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

// Concurrent joiners racing for the last slots must never overshoot capacity.
func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	store := newTestStore()
	base := time.Unix(1_700_300_000, 0)

	const capacity = 5
	room, _ := store.Create("crowd", capacity, "owner", base)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := store.Join(room.ID, fmt.Sprintf("user-%d", n), base.Add(time.Second))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	joined := 0
	for err := range errs {
		if err == nil {
			joined++
		} else if !errors.Is(err, ErrRoomFull) {
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if joined != capacity-1 {
		t.Fatalf("expected %d successful joins, got %d", capacity-1, joined)
	}

	got, _ := store.Get(room.ID, base.Add(2*time.Second))
	if got.ParticipantsCount() != capacity {
		t.Fatalf("capacity invariant violated: %d > %d", got.ParticipantsCount(), capacity)
	}
}

func TestGetByCode(t *testing.T) {
	store := newTestStore()
	base := time.Unix(1_700_400_000, 0)

	room, _ := store.Create("named", 3, "alice", base)
	got, err := store.GetByCode(room.Code, base.Add(time.Second))
	if err != nil {
		t.Fatalf("get by code failed: %v", err)
	}
	if got.ID != room.ID {
		t.Fatalf("code resolved to wrong room: %s != %s", got.ID, room.ID)
	}

	if _, err := store.GetByCode("ZZZZZZ", base.Add(time.Second)); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound for unknown code, got %v", err)
	}
}

func TestEndAndExpiryEvictRoom(t *testing.T) {
	store := newTestStore()
	base := time.Unix(1_700_500_000, 0)

	var mu sync.Mutex
	var evicted []string
	store.SetEvictHook(func(roomID string) {
		mu.Lock()
		evicted = append(evicted, roomID)
		mu.Unlock()
	})

	room, _ := store.Create("short", 2, "alice", base)
	if _, err := store.End(room.ID, base.Add(time.Second)); err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if _, err := store.Get(room.ID, base.Add(2*time.Second)); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound after end, got %v", err)
	}

	// TTL expiry via lazy eviction.
	store.roomTTL = time.Millisecond
	room2, _ := store.Create("stale", 2, "alice", base.Add(3*time.Second))
	afterExpiry := base.Add(3 * time.Second).Add(2 * time.Millisecond)
	if _, err := store.Get(room2.ID, afterExpiry); !errors.Is(err, ErrRoomEnded) {
		t.Fatalf("expected ErrRoomEnded after ttl, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) == 0 || evicted[0] != room.ID {
		t.Fatalf("expected evict hook for %s, got %v", room.ID, evicted)
	}
}

func TestListSnapshotsRooms(t *testing.T) {
	store := newTestStore()
	base := time.Unix(1_700_600_000, 0)

	a, _ := store.Create("a", 2, "alice", base)
	b, _ := store.Create("b", 2, "bob", base.Add(time.Second))

	rooms := store.List(base.Add(2 * time.Second))
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}
	if rooms[0].ID != a.ID || rooms[1].ID != b.ID {
		t.Fatalf("expected creation order %s,%s got %s,%s", a.ID, b.ID, rooms[0].ID, rooms[1].ID)
	}

	// Mutating the snapshot must not leak into the store.
	rooms[0].Participants["mallory"] = base
	got, _ := store.Get(a.ID, base.Add(3*time.Second))
	if got.HasParticipant("mallory") {
		t.Fatal("snapshot mutation leaked into store")
	}
}
