package collaboration

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"docsync/internal/models"

	"github.com/go-playground/assert/v2"
)

// capturePersister records every state the rooms mark dirty.
type capturePersister struct {
	mu     sync.Mutex
	states []models.DocumentState
}

func (p *capturePersister) MarkDirty(state models.DocumentState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *capturePersister) marked() []models.DocumentState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.DocumentState{}, p.states...)
}

func newTestRoom(persister *capturePersister) *Room {
	manager := NewSessionManager(persister, time.Minute)
	return newRoom(manager, models.DocumentState{
		ID:      "doc-1",
		Title:   "Initial Title",
		Content: "initial content",
	})
}

func newTestSession(participantID string, canEdit bool) *Session {
	s := &Session{
		Session: models.NewSession("doc-1", participantID, participantID, false, canEdit),
		send:    make(chan []byte, 16),
	}
	s.touch()
	return s
}

// nextFrame pops one queued frame, failing the test when none is there.
func nextFrame(t *testing.T, s *Session) models.Envelope {
	t.Helper()
	select {
	case raw := <-s.send:
		var env models.Envelope
		assert.Equal(t, json.Unmarshal(raw, &env), nil)
		return env
	default:
		t.Fatalf("session %s has no queued frame", s.ParticipantID)
		return models.Envelope{}
	}
}

func frameCount(s *Session) int {
	return len(s.send)
}

func drain(s *Session) {
	for {
		select {
		case <-s.send:
		default:
			return
		}
	}
}

func decodeState(t *testing.T, env models.Envelope) models.DocumentState {
	t.Helper()
	assert.Equal(t, env.Type, models.MessageTypeUpdate)
	var state models.DocumentState
	assert.Equal(t, json.Unmarshal(env.Data, &state), nil)
	return state
}

func strptr(s string) *string { return &s }

func TestJoinerReceivesCurrentState(t *testing.T) {
	room := newTestRoom(&capturePersister{})
	a := newTestSession("alice", true)

	room.handleRegister(a)

	state := decodeState(t, nextFrame(t, a))
	assert.Equal(t, state.Title, "Initial Title")
	assert.Equal(t, state.Content, "initial content")
	assert.Equal(t, frameCount(a), 0)
}

func TestJoinAnnouncedToOthersOnly(t *testing.T) {
	room := newTestRoom(&capturePersister{})
	a := newTestSession("alice", true)
	b := newTestSession("bob", true)

	room.handleRegister(a)
	drain(a)

	room.handleRegister(b)

	env := nextFrame(t, a)
	assert.Equal(t, env.Type, models.MessageTypeUserJoined)
	var entry models.PresenceEntry
	assert.Equal(t, json.Unmarshal(env.Data, &entry), nil)
	assert.Equal(t, entry.ParticipantID, "bob")

	// the joiner gets the state frame, not its own join
	decodeState(t, nextFrame(t, b))
	assert.Equal(t, frameCount(b), 0)
}

func TestUpdateFieldLevelLastWriterWins(t *testing.T) {
	persister := &capturePersister{}
	room := newTestRoom(persister)
	a := newTestSession("alice", true)
	b := newTestSession("bob", true)
	room.handleRegister(a)
	room.handleRegister(b)
	drain(a)
	drain(b)

	room.handleUpdate(inboundUpdate{sender: a, update: models.UpdatePayload{
		ID: "doc-1", Title: strptr("Alice's Title"),
	}})
	room.handleUpdate(inboundUpdate{sender: b, update: models.UpdatePayload{
		ID: "doc-1", Content: strptr("bob's content"),
	}})

	// a partial edit leaves the other field alone
	assert.Equal(t, room.state.Title, "Alice's Title")
	assert.Equal(t, room.state.Content, "bob's content")

	marked := persister.marked()
	assert.Equal(t, len(marked), 2)
	assert.Equal(t, marked[1].Title, "Alice's Title")
	assert.Equal(t, marked[1].Content, "bob's content")
}

func TestBroadcastExcludesSender(t *testing.T) {
	room := newTestRoom(&capturePersister{})
	a := newTestSession("alice", true)
	b := newTestSession("bob", true)
	room.handleRegister(a)
	room.handleRegister(b)
	drain(a)
	drain(b)

	room.handleUpdate(inboundUpdate{sender: a, update: models.UpdatePayload{
		ID: "doc-1", Title: strptr("New Title"),
	}})

	state := decodeState(t, nextFrame(t, b))
	assert.Equal(t, state.Title, "New Title")
	assert.Equal(t, state.Content, "initial content")
	assert.Equal(t, frameCount(a), 0)
}

func TestReadOnlySessionCannotEdit(t *testing.T) {
	persister := &capturePersister{}
	room := newTestRoom(persister)
	a := newTestSession("alice", true)
	viewer := newTestSession("viewer", false)
	room.handleRegister(a)
	room.handleRegister(viewer)
	drain(a)
	drain(viewer)

	room.handleUpdate(inboundUpdate{sender: viewer, update: models.UpdatePayload{
		ID: "doc-1", Title: strptr("hijacked"),
	}})

	// the sender alone gets the rejection
	env := nextFrame(t, viewer)
	assert.Equal(t, env.Type, models.MessageTypeError)
	var rejection models.ErrorPayload
	assert.Equal(t, json.Unmarshal(env.Data, &rejection), nil)
	assert.Equal(t, rejection.Code, "forbidden")

	assert.Equal(t, frameCount(a), 0)
	assert.Equal(t, room.state.Title, "Initial Title")
	assert.Equal(t, len(persister.marked()), 0)
}

func TestRejectedEditsLeaveNoTrace(t *testing.T) {
	// interleaved rejected edits must yield exactly the state of the
	// accepted edits alone
	room := newTestRoom(&capturePersister{})
	editor := newTestSession("editor", true)
	viewer := newTestSession("viewer", false)
	room.handleRegister(editor)
	room.handleRegister(viewer)
	drain(editor)
	drain(viewer)

	accepted := []models.UpdatePayload{
		{ID: "doc-1", Title: strptr("draft")},
		{ID: "doc-1", Content: strptr("first paragraph")},
		{ID: "doc-1", Title: strptr("final"), Content: strptr("whole text")},
	}

	for _, update := range accepted {
		room.handleUpdate(inboundUpdate{sender: viewer, update: models.UpdatePayload{
			ID: "doc-1", Title: strptr("noise"), Content: strptr("noise"),
		}})
		room.handleUpdate(inboundUpdate{sender: editor, update: update})
	}
	room.handleUpdate(inboundUpdate{sender: viewer, update: models.UpdatePayload{
		ID: "doc-1", Content: strptr("trailing noise"),
	}})

	assert.Equal(t, room.state.Title, "final")
	assert.Equal(t, room.state.Content, "whole text")
}

func TestUpdateForOtherDocumentDropped(t *testing.T) {
	persister := &capturePersister{}
	room := newTestRoom(persister)
	a := newTestSession("alice", true)
	b := newTestSession("bob", true)
	room.handleRegister(a)
	room.handleRegister(b)
	drain(a)
	drain(b)

	room.handleUpdate(inboundUpdate{sender: a, update: models.UpdatePayload{
		ID: "some-other-doc", Title: strptr("misrouted"),
	}})

	assert.Equal(t, room.state.Title, "Initial Title")
	assert.Equal(t, frameCount(b), 0)
	assert.Equal(t, len(persister.marked()), 0)
}

func TestLeaveBroadcastsUserLeft(t *testing.T) {
	room := newTestRoom(&capturePersister{})
	a := newTestSession("alice", true)
	b := newTestSession("bob", true)
	room.handleRegister(a)
	room.handleRegister(b)
	drain(a)
	drain(b)
	assert.Equal(t, len(room.Presence()), 2)

	room.handleUnregister(b)

	env := nextFrame(t, a)
	assert.Equal(t, env.Type, models.MessageTypeUserLeft)
	var left models.UserLeftPayload
	assert.Equal(t, json.Unmarshal(env.Data, &left), nil)
	assert.Equal(t, left.ParticipantID, "bob")

	assert.Equal(t, len(room.Presence()), 1)
	assert.Equal(t, room.Presence()[0].ParticipantID, "alice")
}

func TestReconnectSupersedesStaleSession(t *testing.T) {
	room := newTestRoom(&capturePersister{})
	b := newTestSession("bob", true)
	stale := newTestSession("alice", true)
	room.handleRegister(b)
	room.handleRegister(stale)
	drain(b)
	drain(stale)

	fresh := newTestSession("alice", true)
	room.handleRegister(fresh)

	// exactly one presence entry per participant, owned by the new session
	assert.Equal(t, len(room.Presence()), 2)
	room.mu.RLock()
	assert.Equal(t, room.presence["alice"], fresh)
	_, staleStillIn := room.sessions[stale]
	room.mu.RUnlock()
	assert.Equal(t, staleStillIn, false)

	// the supersession itself is silent: bob only sees the re-join
	env := nextFrame(t, b)
	assert.Equal(t, env.Type, models.MessageTypeUserJoined)
	assert.Equal(t, frameCount(b), 0)

	// a late unregister of the superseded session must not announce a leave
	room.handleUnregister(stale)
	assert.Equal(t, frameCount(b), 0)
	assert.Equal(t, len(room.Presence()), 2)
}

func TestAnnounceReachesEverySession(t *testing.T) {
	persister := &capturePersister{}
	room := newTestRoom(persister)
	a := newTestSession("alice", true)
	b := newTestSession("bob", false)
	room.handleRegister(a)
	room.handleRegister(b)
	drain(a)
	drain(b)

	room.handleAnnounce(models.DocumentState{
		ID: "doc-1", Title: "Restored Title", Content: "restored content",
	})

	for _, s := range []*Session{a, b} {
		state := decodeState(t, nextFrame(t, s))
		assert.Equal(t, state.Title, "Restored Title")
		assert.Equal(t, state.Content, "restored content")
	}
	assert.Equal(t, room.state.Content, "restored content")

	// the announced write is already durable
	assert.Equal(t, len(persister.marked()), 0)
}

func TestQueuedUpdateFromDepartedSessionDropped(t *testing.T) {
	persister := &capturePersister{}
	room := newTestRoom(persister)
	editor := newTestSession("editor", true)
	viewer := newTestSession("viewer", false)
	room.handleRegister(editor)
	room.handleRegister(viewer)
	drain(editor)
	drain(viewer)

	// the viewer leaves while its edit is still queued; processing the
	// stale edit must not send the rejection ack on its closed channel
	room.handleUnregister(viewer)
	drain(editor) // user_left
	room.handleUpdate(inboundUpdate{sender: viewer, update: models.UpdatePayload{
		ID: "doc-1", Title: strptr("late rejection"),
	}})

	assert.Equal(t, room.state.Title, "Initial Title")
	assert.Equal(t, frameCount(editor), 0)

	// an editor's stale edit is dropped the same way, not applied
	room.handleUnregister(editor)
	room.handleUpdate(inboundUpdate{sender: editor, update: models.UpdatePayload{
		ID: "doc-1", Title: strptr("late write"),
	}})

	assert.Equal(t, room.state.Title, "Initial Title")
	assert.Equal(t, len(persister.marked()), 0)
}

func TestSlowSessionDropped(t *testing.T) {
	room := newTestRoom(&capturePersister{})
	a := newTestSession("alice", true)
	slow := &Session{
		Session: models.NewSession("doc-1", "slow", "slow", false, true),
		send:    make(chan []byte), // unbuffered and never read
	}
	slow.touch()
	room.handleRegister(a)
	drain(a)

	room.mu.Lock()
	room.sessions[slow] = true
	room.presence["slow"] = slow
	room.mu.Unlock()

	room.handleUpdate(inboundUpdate{sender: a, update: models.UpdatePayload{
		ID: "doc-1", Title: strptr("T"),
	}})

	room.mu.RLock()
	_, stillIn := room.sessions[slow]
	room.mu.RUnlock()
	assert.Equal(t, stillIn, false)

	// alice hears the drop as an ordinary departure
	env := nextFrame(t, a)
	assert.Equal(t, env.Type, models.MessageTypeUserLeft)
}
