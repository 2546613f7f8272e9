// Package chatclient runs the chat ingestion lifecycle: it resolves the
// channel and bot identities, keeps one EventSub session alive across
// disconnects and server-requested migrations, and republishes decoded chat
// events and operator signals.
package chatclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"yambot/internal/auth"
	"yambot/internal/eventsub"
	"yambot/internal/helix"
	"yambot/internal/logging"
	"yambot/internal/runctx"
	"yambot/internal/telemetry"
)

const (
	eventBuffer   = 256
	signalBuffer  = 64
	messageBuffer = 64
)

// API is the subset of the Helix client the chat client drives.
type API interface {
	GetUserByLogin(ctx context.Context, login string) (helix.User, error)
	GetCurrentUser(ctx context.Context) (helix.User, error)
	SendMessage(ctx context.Context, broadcasterID, senderID, text string) (helix.SentMessage, error)
	ReplyToMessage(ctx context.Context, broadcasterID, senderID, parentMessageID, text string) (helix.SentMessage, error)
	DeleteMessage(ctx context.Context, broadcasterID, moderatorID, messageID string) error
	BanUser(ctx context.Context, broadcasterID, moderatorID, userID, reason string) error
	TimeoutUser(ctx context.Context, broadcasterID, moderatorID, userID string, duration time.Duration, reason string) error
	UnbanUser(ctx context.Context, broadcasterID, moderatorID, userID string) error
	GetChatSettings(ctx context.Context, broadcasterID, moderatorID string) (helix.ChatSettings, error)
	UpdateChatSettings(ctx context.Context, broadcasterID, moderatorID string, update helix.ChatSettingsUpdate) (helix.ChatSettings, error)
}

// Subscriptions registers the chat topics for a session.
type Subscriptions interface {
	CreateAll(ctx context.Context, sessionID, broadcasterID, userID string) eventsub.Report
}

// Connector dials EventSub connections and tracks their liveness.
type Connector interface {
	Connect(ctx context.Context, out chan<- eventsub.Message) (*eventsub.Connection, error)
	SetURL(url string)
	ResetURL()
	Activate(conn *eventsub.Connection)
	State() eventsub.ConnectionState
	KeepaliveExpired(now time.Time, grace time.Duration) bool
}

type Client struct {
	cfg    Config
	api    API
	subs   Subscriptions
	conn   Connector
	store  *auth.Store
	logger *logging.Logger

	events  chan eventsub.Event
	signals chan Signal

	mu            sync.RWMutex
	broadcasterID string
	botUserID     string
	sessionID     string
}

func New(cfg Config, api API, subs Subscriptions, conn Connector, store *auth.Store, logger *logging.Logger) *Client {
	if api == nil {
		panic("chatclient.New: api must not be nil")
	}
	if subs == nil {
		panic("chatclient.New: subscriptions must not be nil")
	}
	if conn == nil {
		panic("chatclient.New: connector must not be nil")
	}
	if store == nil {
		panic("chatclient.New: store must not be nil")
	}
	if logger == nil {
		panic("chatclient.New: logger must not be nil")
	}
	return &Client{
		cfg:     cfg.withDefaults(),
		api:     api,
		subs:    subs,
		conn:    conn,
		store:   store,
		logger:  logger,
		events:  make(chan eventsub.Event, eventBuffer),
		signals: make(chan Signal, signalBuffer),
	}
}

// Events delivers decoded chat events in arrival order.
func (c *Client) Events() <-chan eventsub.Event {
	return c.events
}

// Signals delivers connection status, warnings, errors and token refreshes.
func (c *Client) Signals() <-chan Signal {
	return c.signals
}

// Run connects and supervises the EventSub session until ctx is canceled
// or reconnecting is exhausted.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.clearIdentities()

	c.logger.Info("chat client starting", logging.Field("channel", c.cfg.Channel))

	broadcaster, err := c.api.GetUserByLogin(ctx, c.cfg.Channel)
	if err != nil {
		return fmt.Errorf("%w: channel %q: %w", ErrStartupIdentity, c.cfg.Channel, err)
	}
	bot, err := c.api.GetCurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("%w: bot user: %w", ErrStartupIdentity, err)
	}
	c.setIdentities(broadcaster.ID, bot.ID)
	c.logger.Info("chat identities resolved",
		logging.Field("broadcaster_id", broadcaster.ID),
		logging.Field("broadcaster", broadcaster.Login),
		logging.Field("bot_user_id", bot.ID),
		logging.Field("bot", bot.Login),
	)

	tokenUpdates := make(chan auth.TokenPair, 1)
	unsubscribe := c.store.OnRefresh(func(p auth.TokenPair) {
		runctx.SendLatest(tokenUpdates, p)
	})
	defer unsubscribe()

	messages := make(chan eventsub.Message, messageBuffer)
	conn, session, err := c.establish(ctx, messages)
	if err != nil {
		if errors.Is(err, ErrSessionTimeout) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrStartupConnect, err)
	}
	c.subscribe(ctx, session.ID)
	c.signal(ctx, Signal{Kind: SignalConnected, Text: "Connected to #" + broadcaster.Login})
	c.sendConnectMessage(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.supervise(gctx, conn, messages)
	})
	g.Go(func() error {
		c.monitorKeepalive(gctx)
		return nil
	})
	g.Go(func() error {
		c.forwardTokens(gctx, tokenUpdates)
		return nil
	})
	err = g.Wait()
	telemetry.SetConnected(false)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("chat client stopped with error", logging.Field("error", err))
		return err
	}
	c.logger.Info("chat client stopped")
	return ctx.Err()
}

// establish dials a connection and waits for its session_welcome.
func (c *Client) establish(ctx context.Context, messages chan eventsub.Message) (*eventsub.Connection, eventsub.Session, error) {
	conn, err := c.conn.Connect(ctx, messages)
	if err != nil {
		return nil, eventsub.Session{}, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.SessionTimeout)
	defer cancel()
	session, err := conn.WaitSession(waitCtx)
	if err != nil {
		conn.Close()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, eventsub.Session{}, fmt.Errorf("%w after %s", ErrSessionTimeout, c.cfg.SessionTimeout)
		}
		return nil, eventsub.Session{}, err
	}
	c.mu.Lock()
	c.sessionID = session.ID
	c.mu.Unlock()
	return conn, session, nil
}

// subscribe registers every topic for sessionID and reports the outcome:
// each warning on its own, then one aggregate status line.
func (c *Client) subscribe(ctx context.Context, sessionID string) {
	broadcasterID, botUserID, _ := c.identities()
	report := c.subs.CreateAll(ctx, sessionID, broadcasterID, botUserID)
	for _, warning := range report.Warnings {
		c.signal(ctx, Signal{Kind: SignalWarning, Text: warning})
	}
	c.signal(ctx, Signal{Kind: SignalWarning, Text: report.Status()})
	c.logger.Info("eventsub subscriptions registered",
		logging.Field("session_id", sessionID),
		logging.Field("active", report.Succeeded),
		logging.Field("failed", report.Failed),
	)
}

func (c *Client) sendConnectMessage(ctx context.Context) {
	text := strings.TrimSpace(c.cfg.ConnectMessage)
	if text == "" {
		return
	}
	if _, err := c.SendMessage(ctx, text); err != nil {
		c.logger.Warn("connect message not sent", logging.Field("error", err))
	}
}

// supervise consumes connection messages. Only the current connection and a
// pending migration target are listened to; anything else is stale.
func (c *Client) supervise(ctx context.Context, current *eventsub.Connection, messages chan eventsub.Message) error {
	var pending *eventsub.Connection
	defer func() {
		if pending != nil {
			pending.Close()
		}
		if current != nil {
			current.Close()
		}
	}()

	for {
		msg, ok := runctx.RecvOrDone(ctx, "eventsub supervisor", c.logger, messages)
		if !ok {
			return ctx.Err()
		}

		if pending != nil && msg.ConnID == pending.ID {
			switch msg.Kind {
			case eventsub.MessageSession:
				c.logger.Info("eventsub session migrated",
					logging.Field("from_conn", current.ID),
					logging.Field("to_conn", pending.ID),
					logging.Field("session_id", msg.Session.ID),
				)
				c.conn.Activate(pending)
				current.Close()
				current, pending = pending, nil
				c.conn.ResetURL()
				c.mu.Lock()
				c.sessionID = msg.Session.ID
				c.mu.Unlock()
				telemetry.Reconnects.WithLabelValues("migrate").Inc()
			case eventsub.MessageEvent:
				c.publish(ctx, msg.Event)
			case eventsub.MessageDisconnected:
				c.logger.Warn("eventsub migration target disconnected before welcome")
				pending.Close()
				pending = nil
				c.resume(current)
			case eventsub.MessageError:
				c.logger.Warn("eventsub migration target error", logging.Field("error", msg.Err))
			}
			continue
		}
		if current == nil || msg.ConnID != current.ID {
			c.logger.Debug("dropping message from superseded connection",
				logging.Field("conn", msg.ConnID),
				logging.Field("kind", msg.Kind.String()),
			)
			continue
		}

		switch msg.Kind {
		case eventsub.MessageEvent:
			c.publish(ctx, msg.Event)

		case eventsub.MessageError:
			c.signal(ctx, Signal{Kind: SignalError, Text: msg.Err.Error(), Err: msg.Err, Fatal: msg.Fatal})

		case eventsub.MessageRevocation:
			c.signal(ctx, Signal{
				Kind: SignalWarning,
				Text: fmt.Sprintf("EventSub subscription '%s' revoked (%s)", msg.Revoked.Type, msg.Revoked.Status),
			})

		case eventsub.MessageReconnect:
			if pending != nil {
				continue
			}
			url := *msg.Session.ReconnectURL
			c.conn.SetURL(url)
			next, err := c.conn.Connect(ctx, messages)
			if err != nil {
				c.logger.Warn("eventsub migration dial failed", logging.Field("error", err))
				c.resume(current)
				continue
			}
			pending = next

		case eventsub.MessageDisconnected:
			if pending != nil {
				pending.Close()
				pending = nil
			}
			current.Close()
			current = nil
			c.signal(ctx, Signal{Kind: SignalDisconnected, Text: describeDisconnect(msg)})
			next, err := c.reconnect(ctx, messages)
			if err != nil {
				return err
			}
			current = next

		default:
			c.logger.Debug("eventsub connection message", logging.Field("kind", msg.Kind.String()))
		}
	}
}

// resume hands liveness back to current after a failed migration, unless
// current has already gone away too.
func (c *Client) resume(current *eventsub.Connection) {
	c.conn.ResetURL()
	select {
	case <-current.Done():
	default:
		c.conn.Activate(current)
	}
}

// reconnect dials fresh connections with exponential backoff, waiting
// before every attempt including the first. Subscriptions do not survive a
// new session, so they are registered again.
func (c *Client) reconnect(ctx context.Context, messages chan eventsub.Message) (*eventsub.Connection, error) {
	retry := newReconnectBackOff(c.cfg)
	first := retry.NextBackOff()
	c.logger.Info("eventsub reconnect scheduled",
		logging.Field("attempt", 1),
		logging.Field("max_attempts", c.cfg.MaxReconnectAttempts),
		logging.Field("delay", first.String()),
	)
	timer := time.NewTimer(first)
	select {
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	case <-timer.C:
	}

	attempt := 0
	var session eventsub.Session
	conn, err := backoff.Retry(ctx, func() (*eventsub.Connection, error) {
		attempt++
		telemetry.Reconnects.WithLabelValues("disconnect").Inc()
		c.conn.ResetURL()
		next, established, err := c.establish(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("eventsub reconnect attempt failed",
				logging.Field("attempt", attempt),
				logging.Field("error", err),
			)
			return nil, err
		}
		session = established
		return next, nil
	},
		backoff.WithBackOff(continuedBackOff{retry}),
		backoff.WithMaxTries(uint(c.cfg.MaxReconnectAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, next time.Duration) {
			c.logger.Info("eventsub reconnect scheduled",
				logging.Field("attempt", attempt+1),
				logging.Field("max_attempts", c.cfg.MaxReconnectAttempts),
				logging.Field("delay", next.String()),
			)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, c.cfg.MaxReconnectAttempts, err)
		c.signal(ctx, Signal{Kind: SignalError, Text: err.Error(), Err: err, Fatal: true})
		return nil, err
	}

	c.subscribe(ctx, session.ID)
	c.signal(ctx, Signal{Kind: SignalConnected, Text: "Reconnected to EventSub"})
	return conn, nil
}

// newReconnectBackOff yields base, 2*base, 4*base ... capped at the
// configured maximum, without jitter.
func newReconnectBackOff(cfg Config) *backoff.ExponentialBackOff {
	retry := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.ReconnectBaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         cfg.ReconnectMaxDelay,
	}
	retry.Reset()
	return retry
}

// continuedBackOff ignores Reset so backoff.Retry picks up the schedule
// after the delay already waited before the first attempt.
type continuedBackOff struct {
	*backoff.ExponentialBackOff
}

func (continuedBackOff) Reset() {}

// monitorKeepalive reports a stale connection once and then stops. It does
// not force a reconnect.
func (c *Client) monitorKeepalive(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.KeepaliveCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if c.conn.State() != eventsub.StateConnected {
				continue
			}
			if c.conn.KeepaliveExpired(now, c.cfg.KeepaliveGrace) {
				c.logger.Error("eventsub keepalive expired")
				c.signal(ctx, Signal{Kind: SignalError, Text: "Keepalive timeout - connection stale", Err: ErrKeepaliveTimeout, Fatal: true})
				return
			}
		}
	}
}

func (c *Client) forwardTokens(ctx context.Context, updates <-chan auth.TokenPair) {
	for {
		pair, ok := runctx.RecvOrDone(ctx, "token refresh forwarder", c.logger, updates)
		if !ok {
			return
		}
		if !c.signal(ctx, Signal{Kind: SignalTokensRefreshed, Text: "Access token refreshed", Tokens: pair}) {
			return
		}
	}
}

func (c *Client) publish(ctx context.Context, ev eventsub.Event) {
	runctx.SendOrDone(ctx, "chat event publisher", c.logger, c.events, ev)
}

func (c *Client) signal(ctx context.Context, s Signal) bool {
	return runctx.SendOrDone(ctx, "chat client signals", c.logger, c.signals, s)
}

func describeDisconnect(msg eventsub.Message) string {
	switch {
	case msg.CloseCode != 0:
		text := fmt.Sprintf("Disconnected from EventSub: %s", eventsub.CloseCodeText(msg.CloseCode))
		if msg.CloseReason != "" {
			text += " (" + msg.CloseReason + ")"
		}
		return text
	case msg.Err != nil:
		return "Disconnected from EventSub: " + msg.Err.Error()
	default:
		return "Disconnected from EventSub"
	}
}
