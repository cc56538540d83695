package collaboration

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"docsync/internal/middleware"
	"docsync/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Session is one participant's live binding to a room. The connection
// is pumped by two goroutines: readPump feeds inbound frames to the
// room, writePump drains the buffered send channel, so one slow reader
// never blocks a writer.
type Session struct {
	*models.Session

	conn *websocket.Conn
	send chan []byte
	room *Room

	lastActive atomic.Int64 // unix nanos of the last inbound traffic
	closeOnce  sync.Once
}

// trySend queues a frame without blocking. A false return means the
// buffer is full and the session should be treated as closed.
func (s *Session) trySend(frame []byte) bool {
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

func (s *Session) idleFor() time.Duration {
	return time.Since(time.Unix(0, s.lastActive.Load()))
}

// Close force-closes the transport. The room finds out through the
// readPump's exit, which runs the ordinary leave path.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.conn == nil {
			return
		}
		deadline := time.Now().Add(writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
		s.conn.Close()
	})
}

// readPump reads frames from the connection and hands edits to the
// room. Frames from one session are processed in the order sent; this
// single inbound loop is what provides that guarantee.
func (s *Session) readPump(ctx context.Context) {
	defer func() {
		s.room.leave(s)
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error on session %s: %v", s.ID, err)
			}
			break
		}

		s.touch()

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("Malformed frame on session %s: %v", s.ID, err)
			continue
		}

		switch env.Type {
		case models.MessageTypeUpdate:
			msgCtx, span := middleware.StartSpan(ctx, "WebSocket.Update",
				attribute.String("session.id", s.ID),
				attribute.String("document.id", s.DocumentID),
				attribute.Int("frame.size", len(raw)),
			)

			var update models.UpdatePayload
			if err := json.Unmarshal(env.Data, &update); err != nil {
				middleware.AddSpanError(msgCtx, err)
				span.End()
				continue
			}
			s.room.submit(s, update)
			span.End()

		default:
			// join after the handshake and unknown types are ignored
		}
	}
}

// writePump drains the send channel onto the connection and keeps the
// transport alive with pings. Each frame is its own text message.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the room removed this session
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
