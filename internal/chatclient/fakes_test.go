package chatclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"yambot/internal/auth"
	"yambot/internal/eventsub"
	"yambot/internal/helix"
	"yambot/internal/logging"
)

type serverConn struct {
	ws *websocket.Conn
	// closed is done once the client has gone away.
	closed context.Context
}

func (sc serverConn) send(t *testing.T, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sc.ws.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("server Write() error = %v", err)
	}
}

func (sc serverConn) closeWith(code int, reason string) {
	go func() { _ = sc.ws.Close(websocket.StatusCode(code), reason) }()
}

type fakeServer struct {
	srv   *httptest.Server
	conns chan serverConn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{conns: make(chan serverConn, 4)}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("websocket.Accept() error = %v", err)
			return
		}
		ctx := c.CloseRead(context.Background())
		fs.conns <- serverConn{ws: c, closed: ctx}
		<-ctx.Done()
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) URL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) accept(t *testing.T) serverConn {
	t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("no websocket connection accepted")
		return serverConn{}
	}
}

func welcomeFrame(sessionID string, keepaliveSeconds int) string {
	return fmt.Sprintf(`{"metadata":{"message_id":"w-%s","message_type":"session_welcome","message_timestamp":"2026-01-01T00:00:00Z"},`+
		`"payload":{"session":{"id":%q,"status":"connected","keepalive_timeout_seconds":%d,"reconnect_url":null,"connected_at":"2026-01-01T00:00:00Z"}}}`,
		sessionID, sessionID, keepaliveSeconds)
}

func reconnectFrame(sessionID, url string) string {
	return fmt.Sprintf(`{"metadata":{"message_id":"r-%s","message_type":"session_reconnect","message_timestamp":"2026-01-01T00:00:02Z"},`+
		`"payload":{"session":{"id":%q,"status":"reconnecting","keepalive_timeout_seconds":null,"reconnect_url":%q,"connected_at":"2026-01-01T00:00:00Z"}}}`,
		sessionID, sessionID, url)
}

func chatMessageFrame(messageID, text string) string {
	event := fmt.Sprintf(`{"broadcaster_user_id":"1001","broadcaster_user_login":"streamer","broadcaster_user_name":"Streamer",`+
		`"chatter_user_id":"3003","chatter_user_login":"viewer","chatter_user_name":"Viewer","message_id":%q,`+
		`"message":{"text":%q,"fragments":[]},"color":"","badges":[],"message_type":"text","cheer":null,"reply":null,"channel_points_custom_reward_id":null}`,
		messageID, text)
	return fmt.Sprintf(`{"metadata":{"message_id":"n-%s","message_type":"notification","message_timestamp":"2026-01-01T00:00:01Z","subscription_type":"channel.chat.message","subscription_version":"1"},`+
		`"payload":{"subscription":{"id":"sub-1","type":"channel.chat.message","version":"1","status":"enabled","cost":0,"condition":{"broadcaster_user_id":"1001","user_id":"2002"},"created_at":"2026-01-01T00:00:00Z"},"event":%s}}`,
		messageID, event)
}

const revocationFrame = `{"metadata":{"message_id":"v-1","message_type":"revocation","message_timestamp":"2026-01-01T00:00:04Z","subscription_type":"channel.ban","subscription_version":"1"},` +
	`"payload":{"subscription":{"id":"sub-2","type":"channel.ban","version":"1","status":"authorization_revoked","cost":0,"condition":{"broadcaster_user_id":"1001"},"created_at":"2026-01-01T00:00:00Z"}}}`

type sentChat struct {
	broadcasterID string
	senderID      string
	parentID      string
	text          string
}

type fakeAPI struct {
	mu          sync.Mutex
	identityErr error
	sent        []sentChat
	updates     []helix.ChatSettingsUpdate
}

func (f *fakeAPI) GetUserByLogin(_ context.Context, login string) (helix.User, error) {
	if f.identityErr != nil {
		return helix.User{}, f.identityErr
	}
	if login == "viewer" {
		return helix.User{ID: "3003", Login: "viewer"}, nil
	}
	return helix.User{ID: "1001", Login: "streamer"}, nil
}

func (f *fakeAPI) GetCurrentUser(context.Context) (helix.User, error) {
	return helix.User{ID: "2002", Login: "yambot"}, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, broadcasterID, senderID, text string) (helix.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentChat{broadcasterID: broadcasterID, senderID: senderID, text: text})
	return helix.SentMessage{MessageID: fmt.Sprintf("m-%d", len(f.sent)), IsSent: true}, nil
}

func (f *fakeAPI) ReplyToMessage(_ context.Context, broadcasterID, senderID, parentMessageID, text string) (helix.SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentChat{broadcasterID: broadcasterID, senderID: senderID, parentID: parentMessageID, text: text})
	return helix.SentMessage{MessageID: fmt.Sprintf("m-%d", len(f.sent)), IsSent: true}, nil
}

func (f *fakeAPI) DeleteMessage(context.Context, string, string, string) error { return nil }

func (f *fakeAPI) BanUser(context.Context, string, string, string, string) error { return nil }

func (f *fakeAPI) TimeoutUser(context.Context, string, string, string, time.Duration, string) error {
	return nil
}

func (f *fakeAPI) UnbanUser(context.Context, string, string, string) error { return nil }

func (f *fakeAPI) GetChatSettings(_ context.Context, broadcasterID, _ string) (helix.ChatSettings, error) {
	return helix.ChatSettings{BroadcasterID: broadcasterID}, nil
}

func (f *fakeAPI) UpdateChatSettings(_ context.Context, broadcasterID, _ string, update helix.ChatSettingsUpdate) (helix.ChatSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	settings := helix.ChatSettings{BroadcasterID: broadcasterID}
	if update.SlowMode != nil {
		settings.SlowMode = *update.SlowMode
		settings.SlowModeWaitTime = update.SlowModeWaitTime
	}
	return settings, nil
}

func (f *fakeAPI) sentMessages() []sentChat {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentChat(nil), f.sent...)
}

type fakeSubscriptions struct {
	mu       sync.Mutex
	warnings []string
	sessions []string
}

func (f *fakeSubscriptions) CreateAll(_ context.Context, sessionID, _, _ string) eventsub.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	return eventsub.Report{
		Succeeded: len(eventsub.Topics) - len(f.warnings),
		Failed:    len(f.warnings),
		Warnings:  append([]string(nil), f.warnings...),
	}
}

func (f *fakeSubscriptions) sessionIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sessions...)
}

func testLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

type harness struct {
	client *Client
	api    *fakeAPI
	subs   *fakeSubscriptions
	store  *auth.Store
	done   chan error
	cancel context.CancelFunc
}

func newHarness(t *testing.T, cfg Config, url string) *harness {
	t.Helper()
	if cfg.Channel == "" {
		cfg.Channel = "streamer"
	}
	h := &harness{
		api:   &fakeAPI{},
		subs:  &fakeSubscriptions{},
		store: auth.NewStore(auth.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}),
		done:  make(chan error, 1),
	}
	h.client = New(cfg, h.api, h.subs, eventsub.NewHandler(url, testLogger()), h.store, testLogger())
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.client.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Errorf("Run() did not return after cancel")
		}
	})
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		h.done <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return")
		return nil
	}
}

func nextSignal(t *testing.T, ch <-chan Signal) Signal {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for signal")
		return Signal{}
	}
}

func expectSignal(t *testing.T, ch <-chan Signal, kind SignalKind) Signal {
	t.Helper()
	s := nextSignal(t, ch)
	if s.Kind != kind {
		t.Fatalf("signal = %v %q, want %v", s.Kind, s.Text, kind)
	}
	return s
}

func nextEvent(t *testing.T, ch <-chan eventsub.Event) eventsub.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}
