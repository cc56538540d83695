package collaboration

import (
	"encoding/json"
	"testing"
	"time"

	"docsync/internal/models"

	"github.com/go-playground/assert/v2"
)

func testDocument() *models.Document {
	return &models.Document{
		ID:      "doc-1",
		Title:   "Initial Title",
		Content: "initial content",
	}
}

// awaitFrame blocks for a frame delivered by the room goroutine.
func awaitFrame(t *testing.T, s *Session) models.Envelope {
	t.Helper()
	select {
	case raw := <-s.send:
		var env models.Envelope
		assert.Equal(t, json.Unmarshal(raw, &env), nil)
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("session %s never received a frame", s.ParticipantID)
		return models.Envelope{}
	}
}

func waitForRoomExit(t *testing.T, room *Room) {
	t.Helper()
	select {
	case <-room.dead:
	case <-time.After(2 * time.Second):
		t.Fatal("room did not shut down")
	}
}

func TestJoinCreatesRoomLazily(t *testing.T) {
	m := NewSessionManager(&capturePersister{}, time.Minute)

	assert.Equal(t, len(m.Presence("doc-1")), 0)

	s := newTestSession("alice", true)
	room := m.Join(testDocument(), s)

	// the joiner gets the document's current state; once it arrives the
	// registration is complete
	state := decodeState(t, awaitFrame(t, s))
	assert.Equal(t, state.Title, "Initial Title")

	assert.Equal(t, room.documentID, "doc-1")
	assert.Equal(t, len(m.Presence("doc-1")), 1)
	assert.Equal(t, m.Presence("doc-1")[0].ParticipantID, "alice")
}

func TestRoomDiesWhenLastSessionLeaves(t *testing.T) {
	m := NewSessionManager(&capturePersister{}, time.Minute)

	a := newTestSession("alice", true)
	b := newTestSession("bob", true)
	room := m.Join(testDocument(), a)
	m.Join(testDocument(), b)

	room.leave(a)
	room.leave(b)
	waitForRoomExit(t, room)

	m.mu.RLock()
	_, alive := m.rooms["doc-1"]
	m.mu.RUnlock()
	assert.Equal(t, alive, false)
	assert.Equal(t, len(m.Presence("doc-1")), 0)
}

func TestJoinAfterRoomDeathCreatesFreshRoom(t *testing.T) {
	m := NewSessionManager(&capturePersister{}, time.Minute)

	a := newTestSession("alice", true)
	first := m.Join(testDocument(), a)
	first.leave(a)
	waitForRoomExit(t, first)

	b := newTestSession("bob", true)
	second := m.Join(testDocument(), b)
	awaitFrame(t, b)

	assert.Equal(t, first == second, false)
	assert.Equal(t, len(m.Presence("doc-1")), 1)
}

func TestAnnounceStateWithoutRoomIsNoop(t *testing.T) {
	m := NewSessionManager(&capturePersister{}, time.Minute)

	// no room is live for this document; nothing to deliver to
	m.AnnounceState(models.DocumentState{ID: "doc-1", Title: "T", Content: "c"})
}

func TestAnnounceStateReachesLiveRoom(t *testing.T) {
	m := NewSessionManager(&capturePersister{}, time.Minute)

	a := newTestSession("alice", true)
	m.Join(testDocument(), a)
	awaitFrame(t, a) // initial state

	m.AnnounceState(models.DocumentState{ID: "doc-1", Title: "From REST", Content: "rest body"})

	state := decodeState(t, awaitFrame(t, a))
	assert.Equal(t, state.Title, "From REST")
	assert.Equal(t, state.Content, "rest body")
}
