package collabclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"docsync/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the client's view of its session lifecycle.
type State int

const (
	StateConnecting State = iota
	StateJoined
	StateReconnecting
	StateClosed
)

const (
	defaultReconnectBackoff = 3 * time.Second
	defaultUpdateDebounce   = time.Second
)

// ErrClosed is returned by operations on a client after Close.
var ErrClosed = errors.New("collabclient: client is closed")

// Options configures a client session.
type Options struct {
	// ParticipantID should be stable per client installation so a
	// reconnect is recognized as the same participant. Generated when
	// empty.
	ParticipantID string
	DisplayName   string
	IsAnonymous   bool

	// ShareID joins through a share link; empty means a direct join.
	ShareID string

	// ReconnectBackoff is the fixed delay before a reconnect attempt.
	ReconnectBackoff time.Duration
	// UpdateDebounce is how long local edits coalesce before one
	// update frame goes out.
	UpdateDebounce time.Duration

	Dialer *websocket.Dialer
}

// Client is one explicit session handle onto a document room. There is
// no ambient singleton: a program may hold several clients onto several
// documents at once.
//
// Reconnection is this side's job, not the server's: every
// non-intentional disconnect schedules exactly one retry after the
// fixed backoff, repeating until the session is joined again or Close
// cancels it. Local edits are debounced and coalesced into a single
// partial update frame.
type Client struct {
	url     string
	join    models.JoinPayload
	backoff time.Duration
	bounce  time.Duration
	dialer  *websocket.Dialer

	// Callbacks fire on the read-loop goroutine.
	OnUpdate     func(models.DocumentState)
	OnUserJoined func(models.PresenceEntry)
	OnUserLeft   func(participantID string)
	OnError      func(models.ErrorPayload)
	OnState      func(State)

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	closed         bool
	reconnectTimer *time.Timer
	debounceTimer  *time.Timer
	pendingTitle   *string
	pendingContent *string
}

// New creates a client for one document. url is the websocket endpoint
// for that document, e.g. ws://host:8080/ws/document/<id>.
func New(url, documentID string, opts Options) *Client {
	if opts.ParticipantID == "" {
		opts.ParticipantID = uuid.NewString()
	}
	if opts.DisplayName == "" {
		opts.DisplayName = "Anonymous"
		opts.IsAnonymous = true
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = defaultReconnectBackoff
	}
	if opts.UpdateDebounce <= 0 {
		opts.UpdateDebounce = defaultUpdateDebounce
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	return &Client{
		url: url,
		join: models.JoinPayload{
			DocumentID:    documentID,
			ParticipantID: opts.ParticipantID,
			DisplayName:   opts.DisplayName,
			IsAnonymous:   opts.IsAnonymous,
			ShareID:       opts.ShareID,
		},
		backoff: opts.ReconnectBackoff,
		bounce:  opts.UpdateDebounce,
		dialer:  opts.Dialer,
		state:   StateConnecting,
	}
}

// Connect dials and joins. On failure the reconnect timer is already
// scheduled, so a caller may ignore the error and wait for OnState.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		if !c.closed {
			c.setStateLocked(StateReconnecting)
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	frame, err := models.NewEnvelope(models.MessageTypeJoin, c.join)
	if err != nil {
		conn.Close()
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		conn.Close()
		return fmt.Errorf("send join: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	// Joined is declared only once the server answers; the join frame
	// alone proves nothing about admission.
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	go c.readLoop(conn)

	// push edits that accumulated while disconnected
	c.Flush()

	return nil
}

// readLoop dispatches inbound frames. The first frame is the server's
// answer to the handshake: the admission update confirms Joined, while
// an error frame before any other traffic means the join was rejected
// and retrying it would fail identically, so no reconnect is scheduled.
func (c *Client) readLoop(conn *websocket.Conn) {
	admitted := false
	rejected := false

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		if !admitted {
			if env.Type == models.MessageTypeError {
				rejected = true
				c.dispatch(env)
				break
			}
			admitted = true
			c.mu.Lock()
			if !c.closed && c.conn == conn {
				c.setStateLocked(StateJoined)
			}
			c.mu.Unlock()
		}

		c.dispatch(env)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn != conn {
		return
	}
	c.conn = nil

	if rejected {
		conn.Close()
		c.closed = true
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
		}
		if c.debounceTimer != nil {
			c.debounceTimer.Stop()
		}
		c.setStateLocked(StateClosed)
		return
	}

	c.setStateLocked(StateReconnecting)
	c.scheduleReconnectLocked()
}

func (c *Client) dispatch(env models.Envelope) {
	switch env.Type {
	case models.MessageTypeUpdate:
		var state models.DocumentState
		if json.Unmarshal(env.Data, &state) == nil && c.OnUpdate != nil {
			c.OnUpdate(state)
		}

	case models.MessageTypeUserJoined:
		var entry models.PresenceEntry
		if json.Unmarshal(env.Data, &entry) == nil && c.OnUserJoined != nil {
			c.OnUserJoined(entry)
		}

	case models.MessageTypeUserLeft:
		var left models.UserLeftPayload
		if json.Unmarshal(env.Data, &left) == nil && c.OnUserLeft != nil {
			c.OnUserLeft(left.ParticipantID)
		}

	case models.MessageTypeError:
		var errPayload models.ErrorPayload
		if json.Unmarshal(env.Data, &errPayload) == nil && c.OnError != nil {
			c.OnError(errPayload)
		}
	}
}

// scheduleReconnectLocked arms the single retry timer. An already
// pending timer is cancelled first, so only one outstanding reconnect
// can exist per client and duplicate sessions cannot spawn.
func (c *Client) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(c.backoff, c.reconnect)
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.dial(context.Background()); err != nil {
		c.mu.Lock()
		if !c.closed && c.conn == nil {
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
	}
}

// SetTitle records a local title edit and restarts the debounce window.
func (c *Client) SetTitle(title string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingTitle = &title
	c.resetDebounceLocked()
}

// SetContent records a local content edit and restarts the debounce
// window.
func (c *Client) SetContent(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingContent = &content
	c.resetDebounceLocked()
}

// resetDebounceLocked cancels any running window and starts a new one:
// rapid keystrokes keep pushing the send out until input pauses.
func (c *Client) resetDebounceLocked() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.bounce, func() { c.Flush() })
}

// Flush sends the coalesced pending edits immediately. While
// disconnected the edits are retained and go out right after the next
// successful reconnect.
func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.pendingTitle == nil && c.pendingContent == nil {
		return nil
	}
	if c.conn == nil {
		return nil
	}

	update := models.UpdatePayload{
		ID:      c.join.DocumentID,
		Title:   c.pendingTitle,
		Content: c.pendingContent,
	}
	frame, err := models.NewEnvelope(models.MessageTypeUpdate, update)
	if err != nil {
		return err
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send update: %w", err)
	}

	c.pendingTitle = nil
	c.pendingContent = nil
	return nil
}

// Pending reports whether local edits are waiting to be sent.
func (c *Client) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingTitle != nil || c.pendingContent != nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.OnState != nil {
		go c.OnState(s)
	}
}

// Close ends the session intentionally: the close frame tells the
// server this is not a failure, and no reconnect will be scheduled.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	conn := c.conn
	c.conn = nil
	c.setStateLocked(StateClosed)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return conn.Close()
}
