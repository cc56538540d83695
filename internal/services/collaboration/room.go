package collaboration

import (
	"log"
	"runtime/debug"
	"sync"
	"time"

	"docsync/internal/models"
)

// Room is the live set of sessions editing one document. A single
// goroutine (run) owns the authoritative document state and the
// presence set; every join, leave and edit is serialized through its
// channels, so "apply update, then broadcast" and "add presence, then
// broadcast join" are atomic with respect to each other. Rooms are
// fully independent: a fault in one never touches another.
type Room struct {
	documentID string
	manager    *SessionManager

	// state is touched only by the run goroutine.
	state models.DocumentState

	// mu guards sessions and presence for snapshot readers (presence
	// endpoint, idle sweep); the run goroutine is the only writer.
	mu       sync.RWMutex
	sessions map[*Session]bool
	presence map[string]*Session // participantID -> session

	register   chan *Session
	unregister chan *Session
	inbound    chan inboundUpdate
	announce   chan models.DocumentState

	// dead is closed when the run goroutine exits, so senders racing a
	// room shutdown never block on its channels.
	dead chan struct{}
}

type inboundUpdate struct {
	sender *Session
	update models.UpdatePayload
}

func newRoom(manager *SessionManager, state models.DocumentState) *Room {
	return &Room{
		documentID: state.ID,
		manager:    manager,
		state:      state,
		sessions:   make(map[*Session]bool),
		presence:   make(map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inboundUpdate, 256),
		announce:   make(chan models.DocumentState),
		dead:       make(chan struct{}),
	}
}

func (r *Room) run() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic in room %s: %v\n%s", r.documentID, rec, debug.Stack())
		}
		r.manager.detach(r)
		close(r.dead)
		r.closeAll()
	}()

	for {
		select {
		case s := <-r.register:
			r.handleRegister(s)

		case s := <-r.unregister:
			r.handleUnregister(s)

		case msg := <-r.inbound:
			r.handleUpdate(msg)

		case state := <-r.announce:
			r.handleAnnounce(state)
		}

		if r.empty() {
			return
		}
	}
}

// handleRegister adds a session, sends it the current authoritative
// state, and announces the join to everyone else.
func (r *Room) handleRegister(s *Session) {
	r.mu.Lock()
	// A lingering session from the same participant is superseded by
	// the fresh join; duplicate presence entries must not coexist.
	if old, ok := r.presence[s.ParticipantID]; ok && old != s {
		r.removeLocked(old)
	}
	r.sessions[s] = true
	r.presence[s.ParticipantID] = s
	r.mu.Unlock()

	log.Printf("  Session %s joined document %s (total: %d)",
		s.ID, r.documentID, r.memberCount())

	// The joiner gets the full current state up front, so it needs no
	// separate fetch to render.
	if frame, err := models.NewEnvelope(models.MessageTypeUpdate, r.state); err == nil {
		if !s.trySend(frame) {
			r.drop(s)
			return
		}
	}

	frame, err := models.NewEnvelope(models.MessageTypeUserJoined, models.PresenceEntry{
		ParticipantID: s.ParticipantID,
		DisplayName:   s.DisplayName,
		IsAnonymous:   s.IsAnonymous,
	})
	if err != nil {
		return
	}
	r.broadcast(frame, s)
}

// handleUnregister removes a session on any close path. The leave
// broadcast only fires if the session still held the presence entry; a
// session already superseded by a reconnect leaves silently.
func (r *Room) handleUnregister(s *Session) {
	r.mu.Lock()
	hadPresence := r.removeLocked(s)
	r.mu.Unlock()

	if !hadPresence {
		return
	}

	log.Printf("  Session %s left document %s (remaining: %d)",
		s.ID, r.documentID, r.memberCount())

	frame, err := models.NewEnvelope(models.MessageTypeUserLeft, models.UserLeftPayload{
		ParticipantID: s.ParticipantID,
	})
	if err != nil {
		return
	}
	r.broadcast(frame, nil)
}

// handleUpdate applies one edit with field-level last-writer-wins and
// fans the resulting full state out to every other session. Edits from
// read-only sessions are dropped, acknowledged with an error frame, and
// never reach the authoritative state.
func (r *Room) handleUpdate(msg inboundUpdate) {
	sender := msg.sender

	// The sender may have unregistered while this edit sat queued; its
	// send channel is closed then, so neither the edit nor any ack may
	// touch it. The edit leaves with the session.
	r.mu.RLock()
	member := r.sessions[sender]
	r.mu.RUnlock()
	if !member {
		return
	}

	if !sender.CanEdit {
		if frame, err := models.NewEnvelope(models.MessageTypeError, models.ErrorPayload{
			Code:    "forbidden",
			Message: "read-only session cannot edit the document",
		}); err == nil {
			sender.trySend(frame)
		}
		return
	}

	// An update naming another document than this room's is malformed.
	if msg.update.ID != "" && msg.update.ID != r.documentID {
		return
	}

	if msg.update.Title != nil {
		r.state.Title = *msg.update.Title
	}
	if msg.update.Content != nil {
		r.state.Content = *msg.update.Content
	}

	frame, err := models.NewEnvelope(models.MessageTypeUpdate, r.state)
	if err != nil {
		return
	}
	r.broadcast(frame, sender)

	r.manager.persister.MarkDirty(r.state)
}

// handleAnnounce adopts externally persisted state (REST edit, version
// restore) and fans it out to every session. The external write is
// already durable, so it is not marked dirty again.
func (r *Room) handleAnnounce(state models.DocumentState) {
	r.state = state

	frame, err := models.NewEnvelope(models.MessageTypeUpdate, r.state)
	if err != nil {
		return
	}
	r.broadcast(frame, nil)
}

// broadcast queues a frame to every session except the given one. A
// session whose buffer is full is slow or gone; it is dropped from the
// room instead of backpressuring delivery to the rest.
func (r *Room) broadcast(frame []byte, except *Session) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		if s != except {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	var stale []*Session
	for _, s := range targets {
		if !s.trySend(frame) {
			stale = append(stale, s)
		}
	}
	for _, s := range stale {
		r.drop(s)
	}
}

// drop removes a stale session and announces its departure.
func (r *Room) drop(s *Session) {
	r.mu.Lock()
	hadPresence := r.removeLocked(s)
	r.mu.Unlock()

	if !hadPresence {
		return
	}

	log.Printf("⚠️  Session %s dropped from document %s (send buffer full)", s.ID, r.documentID)

	frame, err := models.NewEnvelope(models.MessageTypeUserLeft, models.UserLeftPayload{
		ParticipantID: s.ParticipantID,
	})
	if err != nil {
		return
	}
	r.broadcast(frame, nil)
}

// removeLocked detaches a session from both maps and closes its send
// channel. Reports whether the session still owned its presence entry.
// Callers hold r.mu.
func (r *Room) removeLocked(s *Session) bool {
	if _, ok := r.sessions[s]; !ok {
		return false
	}
	delete(r.sessions, s)
	close(s.send)

	if r.presence[s.ParticipantID] == s {
		delete(r.presence, s.ParticipantID)
		return true
	}
	return false
}

// submit hands an inbound edit to the room goroutine. Safe against a
// concurrently dying room.
func (r *Room) submit(s *Session, update models.UpdatePayload) {
	select {
	case r.inbound <- inboundUpdate{sender: s, update: update}:
	case <-r.dead:
	}
}

// leave hands a close notification to the room goroutine.
func (r *Room) leave(s *Session) {
	select {
	case r.unregister <- s:
	case <-r.dead:
	}
}

// Presence returns a snapshot of the room's presence set.
func (r *Room) Presence() []models.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]models.PresenceEntry, 0, len(r.presence))
	for _, s := range r.presence {
		entries = append(entries, models.PresenceEntry{
			ParticipantID: s.ParticipantID,
			DisplayName:   s.DisplayName,
			IsAnonymous:   s.IsAnonymous,
		})
	}
	return entries
}

func (r *Room) memberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Room) empty() bool {
	return r.memberCount() == 0
}

// idleSessions returns sessions with no traffic for at least the given
// window.
func (r *Room) idleSessions(timeout time.Duration) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []*Session
	for s := range r.sessions {
		if s.idleFor() >= timeout {
			idle = append(idle, s)
		}
	}
	return idle
}

// closeAll force-closes whatever sessions remain. Only reached when the
// run goroutine dies abnormally; a normal exit requires an empty room.
func (r *Room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for s := range r.sessions {
		delete(r.sessions, s)
		close(s.send)
		s.Close()
	}
	r.presence = make(map[string]*Session)
}
