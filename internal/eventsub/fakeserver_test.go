package eventsub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"nhooyr.io/websocket"

	"yambot/internal/logging"
)

// fakeServer is a minimal EventSub endpoint that hands each accepted
// connection to the test.
type fakeServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{conns: make(chan *websocket.Conn, 4)}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("websocket.Accept() error = %v", err)
			return
		}
		ctx := c.CloseRead(context.Background())
		fs.conns <- c
		<-ctx.Done()
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) URL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no websocket connection accepted")
		return nil
	}
}

// rawServer exposes the server side as a gorilla connection, for frames and
// failures the fake server cannot produce, like unsolicited pongs or a
// dropped TCP stream.
type rawServer struct {
	srv   *httptest.Server
	conns chan *gorilla.Conn
}

func newRawServer(t *testing.T) *rawServer {
	t.Helper()
	rs := &rawServer{conns: make(chan *gorilla.Conn, 4)}
	upgrader := gorilla.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		rs.conns <- c
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *rawServer) URL() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http")
}

func (rs *rawServer) accept(t *testing.T) *gorilla.Conn {
	t.Helper()
	select {
	case c := <-rs.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no websocket connection accepted")
		return nil
	}
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("server Write() error = %v", err)
	}
}

func welcomeFrame(sessionID string, keepaliveSeconds int) string {
	return fmt.Sprintf(`{"metadata":{"message_id":"w-%s","message_type":"session_welcome","message_timestamp":"2026-01-01T00:00:00Z"},`+
		`"payload":{"session":{"id":%q,"status":"connected","keepalive_timeout_seconds":%d,"reconnect_url":null,"connected_at":"2026-01-01T00:00:00Z"}}}`,
		sessionID, sessionID, keepaliveSeconds)
}

func notificationFrame(subscriptionType string, event string) string {
	return fmt.Sprintf(`{"metadata":{"message_id":"n-1","message_type":"notification","message_timestamp":"2026-01-01T00:00:01Z","subscription_type":%q,"subscription_version":"1"},`+
		`"payload":{"subscription":{"id":"sub-1","type":%q,"version":"1","status":"enabled","cost":0,"condition":{"broadcaster_user_id":"1001"},"created_at":"2026-01-01T00:00:00Z"},"event":%s}}`,
		subscriptionType, subscriptionType, event)
}

func reconnectFrame(sessionID, url string) string {
	return fmt.Sprintf(`{"metadata":{"message_id":"r-1","message_type":"session_reconnect","message_timestamp":"2026-01-01T00:00:02Z"},`+
		`"payload":{"session":{"id":%q,"status":"reconnecting","keepalive_timeout_seconds":null,"reconnect_url":%q,"connected_at":"2026-01-01T00:00:00Z"}}}`,
		sessionID, url)
}

const keepaliveFrame = `{"metadata":{"message_id":"k-1","message_type":"session_keepalive","message_timestamp":"2026-01-01T00:00:03Z"},"payload":{}}`

func testLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for connection message")
		return Message{}
	}
}

func expectKind(t *testing.T, ch <-chan Message, kind MessageKind) Message {
	t.Helper()
	msg := recv(t, ch)
	if msg.Kind != kind {
		t.Fatalf("message kind = %v (err=%v), want %v", msg.Kind, msg.Err, kind)
	}
	return msg
}
