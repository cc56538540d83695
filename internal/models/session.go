package models

import (
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"
)

// Session describes one live connection to a document room. A session
// belongs to exactly one room for its whole lifetime; rejoining a
// different document means a new session.
type Session struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	ParticipantID string    `json:"participant_id"`
	DisplayName   string    `json:"display_name"`
	IsAnonymous   bool      `json:"is_anonymous"`
	CanEdit       bool      `json:"can_edit"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActiveAt  time.Time `json:"last_active_at"`
}

func NewSession(documentID, participantID, displayName string, isAnonymous, canEdit bool) *Session {
	return &Session{
		ID:            ksuid.New().String(),
		DocumentID:    documentID,
		ParticipantID: participantID,
		DisplayName:   displayName,
		IsAnonymous:   isAnonymous,
		CanEdit:       canEdit,
		ConnectedAt:   time.Now(),
		LastActiveAt:  time.Now(),
	}
}

// PresenceEntry is the ephemeral per-participant record a room exposes
// to its members. It lives exactly as long as the owning session and is
// never persisted.
type PresenceEntry struct {
	ParticipantID string `json:"user_id"`
	DisplayName   string `json:"username"`
	IsAnonymous   bool   `json:"is_anonymous"`
}

// Wire protocol frame types
const (
	MessageTypeJoin       = "join"
	MessageTypeUpdate     = "update"
	MessageTypeUserJoined = "user_joined"
	MessageTypeUserLeft   = "user_left"
	MessageTypeError      = "error"
)

// Envelope frames every message on the persistent connection.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into a ready-to-send frame.
func NewEnvelope(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Envelope{Type: msgType, Data: data})
}

// JoinPayload is the handshake frame. ShareID is optional: when present
// the permission gate resolves it and the session inherits the link's
// edit right; when absent the join is a direct one with full rights.
type JoinPayload struct {
	DocumentID    string `json:"documentId"`
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	IsAnonymous   bool   `json:"isAnonymous"`
	ShareID       string `json:"shareId,omitempty"`
}

// UpdatePayload is a client edit. Nil fields are untouched fields.
type UpdatePayload struct {
	ID      string  `json:"id"`
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// DocumentState is the full post-merge state the server fans out.
type DocumentState struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UserLeftPayload announces a departed participant.
type UserLeftPayload struct {
	ParticipantID string `json:"user_id"`
}

// ErrorPayload acknowledges a rejected frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
