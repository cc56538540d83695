package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"docsync/internal/middleware"
	"docsync/internal/models"
	"docsync/internal/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel/attribute"
)

const handshakeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin against SHARE_BASE_URL before exposing publicly
		return true
	},
}

// WebSocketHandler upgrades connections and runs the join handshake
// before a session is admitted to a room.
type WebSocketHandler struct {
	manager *SessionManager
	docs    DocumentFetcher
	gate    PermissionResolver
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(manager *SessionManager, docs DocumentFetcher, gate PermissionResolver) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		docs:    docs,
		gate:    gate,
	}
}

// HandleDocumentConnection handles a WebSocket connection for one document.
func (h *WebSocketHandler) HandleDocumentConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	documentID := mux.Vars(r)["id"]

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("document.id", documentID),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session, doc, err := h.handshake(ctx, conn, documentID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		rejectConnection(conn, err)
		return
	}

	h.manager.Join(doc, session)

	// The pumps outlive this request; give them a fresh root context so
	// per-frame spans are not parented to a finished request span.
	go session.writePump()
	go session.readPump(context.Background())

	log.Printf("✓ Session %s connected to document %s (participant: %s, canEdit: %v)",
		session.ID, doc.ID, session.ParticipantID, session.CanEdit)
}

// handshake reads the join frame, resolves permissions and verifies the
// document exists. Any failure leaves the connection out of every room.
func (h *WebSocketHandler) handshake(ctx context.Context, conn *websocket.Conn, documentID string) (*Session, *models.Document, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, nil, fmt.Errorf("reading join frame: %w", err)
	}

	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != models.MessageTypeJoin {
		return nil, nil, fmt.Errorf("first frame must be a join")
	}

	var join models.JoinPayload
	if err := json.Unmarshal(env.Data, &join); err != nil {
		return nil, nil, fmt.Errorf("malformed join payload: %w", err)
	}

	if join.DocumentID == "" {
		join.DocumentID = documentID
	}
	if documentID != "" && join.DocumentID != documentID {
		return nil, nil, fmt.Errorf("join names document %s on the %s endpoint", join.DocumentID, documentID)
	}

	// Possession of a share token grants exactly the encoded right; a
	// join without one is a direct join with full rights.
	canEdit := true
	if join.ShareID != "" {
		access, err := h.gate.Resolve(ctx, join.ShareID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil, fmt.Errorf("unknown share token")
			}
			return nil, nil, err
		}
		if access.DocumentID != join.DocumentID {
			return nil, nil, fmt.Errorf("share token does not grant access to document %s", join.DocumentID)
		}
		canEdit = access.CanEdit
	}

	doc, err := h.docs.GetByID(ctx, join.DocumentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, fmt.Errorf("unknown document %s", join.DocumentID)
		}
		return nil, nil, err
	}

	if join.ParticipantID == "" {
		join.ParticipantID = ksuid.New().String()
	}
	if join.DisplayName == "" {
		join.DisplayName = "Anonymous"
	}

	session := &Session{
		Session: models.NewSession(doc.ID, join.ParticipantID, join.DisplayName, join.IsAnonymous, canEdit),
		conn:    conn,
		send:    make(chan []byte, 256),
	}
	session.touch()

	// handshake deadline is done; readPump sets the traffic deadline
	conn.SetReadDeadline(time.Time{})

	return session, doc, nil
}

// rejectConnection tells the client why the handshake failed, then
// closes. The session never reached Joined, so no presence events fire.
func rejectConnection(conn *websocket.Conn, cause error) {
	if frame, err := models.NewEnvelope(models.MessageTypeError, models.ErrorPayload{
		Code:    "join_rejected",
		Message: cause.Error(),
	}); err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, frame)
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "join rejected"),
		time.Now().Add(writeWait))
	conn.Close()

	log.Printf("WebSocket join rejected: %v", cause)
}
