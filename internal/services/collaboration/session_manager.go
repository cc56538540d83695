package collaboration

import (
	"context"
	"log"
	"sync"
	"time"

	"docsync/internal/models"
	"docsync/internal/services"
)

// Interfaces for the manager's collaborators, declared here by the
// consumer.

// DocumentPersister receives the latest authoritative state after every
// applied update.
type DocumentPersister interface {
	MarkDirty(state models.DocumentState)
}

// PermissionResolver maps a share token to the access it grants.
type PermissionResolver interface {
	Resolve(ctx context.Context, shareID string) (services.Access, error)
}

// DocumentFetcher loads the document a session wants to join.
type DocumentFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

// SessionManager owns one room per document with live sessions. Rooms
// are created lazily on the first join and tear themselves down when
// their last session leaves.
type SessionManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	persister   DocumentPersister
	idleTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// NewSessionManager creates a new session manager
func NewSessionManager(persister DocumentPersister, idleTimeout time.Duration) *SessionManager {
	return &SessionManager{
		rooms:       make(map[string]*Room),
		persister:   persister,
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
}

// Start launches the idle-session sweep.
func (m *SessionManager) Start() {
	go m.cleanupLoop()
	log.Println("✓ Session manager started")
}

// Join binds a session to its document's room, creating the room from
// the given document if none is live. The loop handles the race where a
// looked-up room empties and dies before the registration lands: the
// dead channel unblocks the send and the lookup is retried.
func (m *SessionManager) Join(doc *models.Document, s *Session) *Room {
	for {
		m.mu.Lock()
		room, ok := m.rooms[doc.ID]
		if !ok {
			room = newRoom(m, models.DocumentState{
				ID:      doc.ID,
				Title:   doc.Title,
				Content: doc.Content,
			})
			m.rooms[doc.ID] = room
			go room.run()
		}
		m.mu.Unlock()

		select {
		case room.register <- s:
			s.room = room
			return room
		case <-room.dead:
			// lost the race with the room's shutdown; retry
		}
	}
}

// detach removes a room that is shutting down. Idempotent: only the
// exact room instance is removed, so a replacement under the same
// document ID is left alone.
func (m *SessionManager) detach(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rooms[r.documentID] == r {
		delete(m.rooms, r.documentID)
	}
}

// Presence returns the live presence set of a document, empty when no
// room is active.
func (m *SessionManager) Presence(documentID string) []models.PresenceEntry {
	m.mu.RLock()
	room := m.rooms[documentID]
	m.mu.RUnlock()

	if room == nil {
		return []models.PresenceEntry{}
	}
	return room.Presence()
}

// AnnounceState pushes externally persisted document state (REST edit,
// version restore) into the live room, if any, so connected editors see
// it immediately.
func (m *SessionManager) AnnounceState(state models.DocumentState) {
	m.mu.RLock()
	room := m.rooms[state.ID]
	m.mu.RUnlock()

	if room == nil {
		return
	}

	select {
	case room.announce <- state:
	case <-room.dead:
	}
}

// cleanupLoop force-closes sessions with no traffic inside the idle
// window, which corrects the presence set and releases room resources.
// A later reconnect is indistinguishable from a fresh join.
func (m *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			for _, room := range m.snapshotRooms() {
				for _, s := range room.idleSessions(m.idleTimeout) {
					log.Printf("  Closing idle session %s on document %s", s.ID, room.documentID)
					s.Close()
				}
			}
		}
	}
}

func (m *SessionManager) snapshotRooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// Shutdown force-closes every connection. Rooms drain through the
// ordinary leave path and remove themselves.
func (m *SessionManager) Shutdown() {
	log.Println("🛑 Shutting down session manager...")

	m.closeOnce.Do(func() { close(m.done) })

	for _, room := range m.snapshotRooms() {
		room.mu.RLock()
		sessions := make([]*Session, 0, len(room.sessions))
		for s := range room.sessions {
			sessions = append(sessions, s)
		}
		room.mu.RUnlock()

		for _, s := range sessions {
			s.Close()
		}
	}

	log.Println("✓ Session manager shutdown complete")
}
