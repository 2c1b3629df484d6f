// Package signaling holds the per-room offer/answer/candidate mailbox for
// the WebRTC handshake. Offer and answer are write-once slots; candidates
// are an append-only list so trickle ICE can flow in any order. All waiting
// is done by callers polling the getters; nothing blocks in here.
package signaling

import (
	"errors"
	"sync"
)

var (
	ErrSessionNotFound = errors.New("no signaling session for room")
	ErrOfferExists     = errors.New("offer already submitted")
	ErrAnswerExists    = errors.New("answer already submitted")
	ErrNoOffer         = errors.New("no offer to answer yet")
)

// session is the handshake state for one room. Payloads are opaque strings
// stored byte-for-byte; the exchange never parses SDP.
type session struct {
	offer      string
	offerSet   bool
	offerBy    string
	answer     string
	answerSet  bool
	answerBy   string
	candidates []string
}

// Exchange tracks one session per room. Sessions are created implicitly by
// the first SubmitOffer and dropped when the room registry evicts the room.
type Exchange struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func NewExchange() *Exchange {
	return &Exchange{sessions: make(map[string]*session)}
}

// SubmitOffer stores the room's offer. Exactly one caller can win; every
// later attempt observes ErrOfferExists and should fetch the stored offer
// instead of retrying.
func (e *Exchange) SubmitOffer(roomID, userID, payload string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions[roomID]
	if sess == nil {
		sess = &session{}
		e.sessions[roomID] = sess
	}
	if sess.offerSet {
		return ErrOfferExists
	}
	sess.offer = payload
	sess.offerSet = true
	sess.offerBy = userID
	return nil
}

// Offer returns the stored offer, if any. Safe to poll.
func (e *Exchange) Offer(roomID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions[roomID]
	if sess == nil || !sess.offerSet {
		return "", false
	}
	return sess.offer, true
}

// SubmitAnswer stores the answer. It requires a prior offer and is
// write-once, mirroring SubmitOffer.
func (e *Exchange) SubmitAnswer(roomID, userID, payload string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions[roomID]
	if sess == nil || !sess.offerSet {
		return ErrNoOffer
	}
	if sess.answerSet {
		return ErrAnswerExists
	}
	sess.answer = payload
	sess.answerSet = true
	sess.answerBy = userID
	return nil
}

// Answer returns the stored answer, if any. Safe to poll.
func (e *Exchange) Answer(roomID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions[roomID]
	if sess == nil || !sess.answerSet {
		return "", false
	}
	return sess.answer, true
}

// SubmitCandidate appends an ICE candidate. Candidates may arrive before
// the answer or even before the offer; there is no ordering precondition.
func (e *Exchange) SubmitCandidate(roomID, payload string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions[roomID]
	if sess == nil {
		sess = &session{}
		e.sessions[roomID] = sess
	}
	sess.candidates = append(sess.candidates, payload)
}

// Candidates returns all accumulated candidates in submission order,
// skipping the first `since` entries. Callers that poll pass the count
// they have already seen; passing 0 returns the full list.
func (e *Exchange) Candidates(roomID string, since int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions[roomID]
	if sess == nil || since >= len(sess.candidates) {
		return nil
	}
	if since < 0 {
		since = 0
	}
	out := make([]string, len(sess.candidates)-since)
	copy(out, sess.candidates[since:])
	return out
}

// State reports the handshake phase for a room: "empty", "offered" or
// "answered".
func (e *Exchange) State(roomID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sess := e.sessions[roomID]
	switch {
	case sess == nil || !sess.offerSet:
		return "empty"
	case !sess.answerSet:
		return "offered"
	default:
		return "answered"
	}
}

// Drop clears the session for a room. Wired as the room store's evict hook.
func (e *Exchange) Drop(roomID string) {
	e.mu.Lock()
	delete(e.sessions, roomID)
	e.mu.Unlock()
}
