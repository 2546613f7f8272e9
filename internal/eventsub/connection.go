package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"yambot/internal/logging"
	"yambot/internal/runctx"
	"yambot/internal/telemetry"
)

const (
	DefaultURL = "wss://eventsub.wss.twitch.tv/ws"

	defaultKeepaliveTimeout = 10 * time.Second
	writeWait               = 5 * time.Second
	maxFrameBytes           = 1 << 20
)

var errClosedBeforeWelcome = errors.New("eventsub connection closed before session_welcome")

type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

type MessageKind int

const (
	MessageConnected MessageKind = iota + 1
	MessageDisconnected
	MessageSession
	MessageEvent
	MessageError
	MessageReconnect
	MessageRevocation
)

func (k MessageKind) String() string {
	switch k {
	case MessageConnected:
		return "connected"
	case MessageDisconnected:
		return "disconnected"
	case MessageSession:
		return "session"
	case MessageEvent:
		return "event"
	case MessageError:
		return "error"
	case MessageReconnect:
		return "reconnect"
	case MessageRevocation:
		return "revocation"
	default:
		return "unknown"
	}
}

// Message is what a Connection reports to its owner. ConnID identifies the
// connection so messages from a superseded connection can be ignored.
type Message struct {
	Kind     MessageKind
	ConnID   uint64
	Metadata Metadata

	// Session is set for MessageSession and MessageReconnect.
	Session Session
	// Event is set for MessageEvent.
	Event Event
	// Revoked is set for MessageRevocation.
	Revoked SubscriptionInfo

	// Err is set for MessageError and, when the cause is known, for
	// MessageDisconnected. Fatal errors end the connection.
	Err   error
	Fatal bool

	CloseCode   int
	CloseReason string
}

// Handler dials EventSub connections and tracks the state and liveness of
// the active one.
type Handler struct {
	dialer     *websocket.Dialer
	defaultURL string
	logger     *logging.Logger

	mu  sync.Mutex
	url string

	state       atomic.Int32
	nextID      atomic.Uint64
	activeID    atomic.Uint64
	lastMessage atomic.Int64
	keepalive   atomic.Int64
}

func NewHandler(defaultURL string, logger *logging.Logger) *Handler {
	if logger == nil {
		panic("eventsub.NewHandler: logger must not be nil")
	}
	if defaultURL == "" {
		defaultURL = DefaultURL
	}
	h := &Handler{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		defaultURL: defaultURL,
		url:        defaultURL,
		logger:     logger,
	}
	h.keepalive.Store(int64(defaultKeepaliveTimeout))
	return h
}

// SetURL points the next Connect at a server-provided reconnect URL.
func (h *Handler) SetURL(url string) {
	h.mu.Lock()
	h.url = url
	h.mu.Unlock()
}

// ResetURL makes the next Connect use the default endpoint again.
func (h *Handler) ResetURL() {
	h.SetURL(h.defaultURL)
}

func (h *Handler) URL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.url
}

func (h *Handler) State() ConnectionState {
	return ConnectionState(h.state.Load())
}

func (h *Handler) setState(s ConnectionState) {
	h.state.Store(int32(s))
}

// LastMessage is when the active connection last proved it was alive.
func (h *Handler) LastMessage() time.Time {
	ns := h.lastMessage.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (h *Handler) KeepaliveTimeout() time.Duration {
	return time.Duration(h.keepalive.Load())
}

// KeepaliveExpired reports whether more than keepalive timeout plus grace
// has passed since the last frame. It is false before any frame arrived.
func (h *Handler) KeepaliveExpired(now time.Time, grace time.Duration) bool {
	last := h.LastMessage()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > h.KeepaliveTimeout()+grace
}

func (h *Handler) touch(connID uint64) {
	if h.activeID.Load() == connID {
		h.lastMessage.Store(time.Now().UnixNano())
	}
}

// Connect dials the current URL and starts reading frames into out. The
// returned Connection becomes the active one unless another connection is
// still active; such a migration target stays pending until Activate.
func (h *Handler) Connect(ctx context.Context, out chan<- Message) (*Connection, error) {
	url := h.URL()
	id := h.nextID.Add(1)
	if h.State() == StateDisconnected {
		h.setState(StateConnecting)
	}
	h.logger.Debug("dialing eventsub", logging.Field("url", url), logging.Field("conn", id))

	ws, resp, err := h.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if h.State() == StateConnecting {
			h.setState(StateDisconnected)
		}
		return nil, &TransportError{Op: "dial", URL: url, Err: err}
	}
	ws.SetReadLimit(maxFrameBytes)

	connCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		ID:      id,
		URL:     url,
		ws:      ws,
		handler: h,
		out:     out,
		logger:  h.logger.With(logging.Field("conn", id)),
		ctx:     connCtx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}

	if h.activeID.CompareAndSwap(0, id) {
		h.keepalive.Store(int64(defaultKeepaliveTimeout))
		h.lastMessage.Store(time.Now().UnixNano())
		h.setState(StateConnected)
		telemetry.SetConnected(true)
	}

	ws.SetPingHandler(func(appData string) error {
		h.touch(id)
		err := c.writeControl(websocket.PongMessage, []byte(appData))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	ws.SetPongHandler(func(string) error {
		h.touch(id)
		return nil
	})

	c.logger.Info("eventsub connected", logging.Field("url", url))
	if !c.emit(Message{Kind: MessageConnected}) {
		c.closing.Store(true)
		c.deactivate()
		cancel()
		_ = ws.Close()
		close(c.done)
		return nil, ctx.Err()
	}

	go func() {
		<-connCtx.Done()
		_ = ws.Close()
	}()
	go c.readLoop()
	return c, nil
}

// Activate makes c the connection whose frames count as liveness, typically
// a migration target once its session_welcome arrived, or the surviving
// connection after a migration target was dropped.
func (h *Handler) Activate(c *Connection) {
	h.activeID.Store(c.ID)
	keepalive := defaultKeepaliveTimeout
	select {
	case <-c.ready:
		keepalive = c.session.KeepaliveTimeout()
	default:
	}
	h.keepalive.Store(int64(keepalive))
	h.lastMessage.Store(time.Now().UnixNano())
	h.setState(StateConnected)
	telemetry.SetConnected(true)
}

// Connection is one live EventSub WebSocket.
type Connection struct {
	ID  uint64
	URL string

	ws      *websocket.Conn
	handler *Handler
	out     chan<- Message
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	closing atomic.Bool

	readyOnce sync.Once
	ready     chan struct{}
	session   Session

	done chan struct{}
}

// WaitSession blocks until the first session_welcome arrives on this
// connection. It resolves at most once.
func (c *Connection) WaitSession(ctx context.Context) (Session, error) {
	select {
	case <-c.ready:
		return c.session, nil
	default:
	}
	select {
	case <-c.ready:
		return c.session, nil
	case <-c.done:
		select {
		case <-c.ready:
			return c.session, nil
		default:
		}
		return Session{}, errClosedBeforeWelcome
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// Done is closed when the read loop has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Close sends a normal close frame and tears the connection down. Messages
// are no longer delivered after Close.
func (c *Connection) Close() {
	if !c.closing.CompareAndSwap(false, true) {
		return
	}
	c.deactivate()
	_ = c.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.cancel()
}

func (c *Connection) writeControl(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(messageType, data, time.Now().Add(writeWait))
}

func (c *Connection) active() bool {
	return c.handler.activeID.Load() == c.ID
}

func (c *Connection) emit(msg Message) bool {
	msg.ConnID = c.ID
	return runctx.SendOrDone(c.ctx, "eventsub read loop", c.logger, c.out, msg)
}

func (c *Connection) readLoop() {
	defer close(c.done)
	defer c.cancel()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if !c.handleFrame(data) {
			return
		}
	}
}

func (c *Connection) deactivate() {
	if c.handler.activeID.CompareAndSwap(c.ID, 0) {
		c.handler.setState(StateDisconnected)
		telemetry.SetConnected(false)
	}
}

func (c *Connection) finish(err error) {
	c.deactivate()
	if c.closing.Load() || c.ctx.Err() != nil {
		c.logger.Debug("eventsub connection closed locally")
		return
	}

	// 1006 is synthesized locally when the stream ends without a close frame.
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		c.logger.Warn("eventsub connection closed by server",
			logging.Field("code", closeErr.Code),
			logging.Field("reason", closeErr.Text),
			logging.Field("description", CloseCodeText(closeErr.Code)),
		)
		c.emit(Message{Kind: MessageDisconnected, CloseCode: closeErr.Code, CloseReason: closeErr.Text})
		return
	}

	transportErr := &TransportError{Op: "read", Err: err}
	c.logger.Warn("eventsub read failed", logging.Field("error", err))
	if c.emit(Message{Kind: MessageError, Err: transportErr, Fatal: true}) {
		c.emit(Message{Kind: MessageDisconnected, Err: transportErr})
	}
}

// handleFrame decodes one text frame. It returns false once messages can no
// longer be delivered.
func (c *Connection) handleFrame(data []byte) bool {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return c.protocolError(&ProtocolError{Reason: "invalid frame", Err: err})
	}
	msgType := f.Metadata.MessageType
	telemetry.FramesReceived.WithLabelValues(msgType).Inc()

	switch msgType {
	case TypeWelcome:
		var p sessionPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return c.protocolError(&ProtocolError{MessageType: msgType, Reason: "invalid session payload", Err: err})
		}
		c.handler.touch(c.ID)
		if c.active() {
			c.handler.keepalive.Store(int64(p.Session.KeepaliveTimeout()))
		}
		c.readyOnce.Do(func() {
			c.session = p.Session
			close(c.ready)
		})
		c.logger.Info("eventsub session established",
			logging.Field("session_id", p.Session.ID),
			logging.Field("keepalive", p.Session.KeepaliveTimeout().String()),
		)
		return c.emit(Message{Kind: MessageSession, Metadata: f.Metadata, Session: p.Session})

	case TypeNotification:
		if !c.welcomed() {
			return c.protocolError(&ProtocolError{MessageType: msgType, Reason: "notification before session_welcome"})
		}
		var p notificationPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return c.protocolError(&ProtocolError{MessageType: msgType, Reason: "invalid notification payload", Err: err})
		}
		subType := p.Subscription.Type
		if subType == "" {
			subType = f.Metadata.SubscriptionType
		}
		ev, err := decodeEvent(subType, p.Event)
		if err != nil {
			return c.protocolError(err)
		}
		c.handler.touch(c.ID)
		telemetry.EventsDecoded.WithLabelValues(subType).Inc()
		return c.emit(Message{Kind: MessageEvent, Metadata: f.Metadata, Event: ev})

	case TypeKeepalive:
		c.handler.touch(c.ID)
		return true

	case TypeReconnect:
		var p sessionPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return c.protocolError(&ProtocolError{MessageType: msgType, Reason: "invalid session payload", Err: err})
		}
		if p.Session.ReconnectURL == nil || *p.Session.ReconnectURL == "" {
			return c.protocolError(&ProtocolError{MessageType: msgType, Reason: "missing reconnect_url"})
		}
		c.handler.touch(c.ID)
		if c.active() {
			c.handler.setState(StateReconnecting)
		}
		c.logger.Info("eventsub server requested reconnect", logging.Field("reconnect_url", *p.Session.ReconnectURL))
		return c.emit(Message{Kind: MessageReconnect, Metadata: f.Metadata, Session: p.Session})

	case TypeRevocation:
		var p revocationPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return c.protocolError(&ProtocolError{MessageType: msgType, Reason: "invalid revocation payload", Err: err})
		}
		c.handler.touch(c.ID)
		c.logger.Warn("eventsub subscription revoked",
			logging.Field("topic", p.Subscription.Type),
			logging.Field("status", p.Subscription.Status),
		)
		return c.emit(Message{Kind: MessageRevocation, Metadata: f.Metadata, Revoked: p.Subscription})

	default:
		return c.protocolError(&ProtocolError{MessageType: msgType, Reason: fmt.Sprintf("unknown message type %q", msgType)})
	}
}

func (c *Connection) welcomed() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

func (c *Connection) protocolError(err error) bool {
	telemetry.DecodeErrors.Inc()
	c.logger.Warn("eventsub frame dropped", logging.Field("error", err))
	return c.emit(Message{Kind: MessageError, Err: err})
}
