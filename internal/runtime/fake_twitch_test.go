package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"yambot/internal/config"
	"yambot/internal/logging"
)

// fakeTwitch serves the identity, Helix and EventSub endpoints from one
// httptest server.
type fakeTwitch struct {
	srv *httptest.Server

	mu            sync.Mutex
	validAccess   map[string]bool
	refreshed     string
	subscriptions atomic.Int32
	chatMessages  atomic.Int32

	conns chan *websocket.Conn
}

var allScopes = []string{"user:read:chat", "user:write:chat", "moderator:read:chat_messages", "moderator:read:chat_settings", "channel:moderate"}

func newFakeTwitch(t *testing.T, validAccess ...string) *fakeTwitch {
	t.Helper()
	ft := &fakeTwitch{validAccess: map[string]bool{}, conns: make(chan *websocket.Conn, 2)}
	for _, token := range validAccess {
		ft.validAccess[token] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/validate", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "OAuth ")
		if !ft.isValid(token) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":401,"message":"invalid access token"}`))
			return
		}
		writeJSON(w, map[string]any{"client_id": "cid", "login": "yambot", "user_id": "2002", "scopes": allScopes, "expires_in": 3600})
	})
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ft.mu.Lock()
		ft.refreshed = r.Form.Get("refresh_token")
		ft.validAccess["new-access"] = true
		ft.mu.Unlock()
		writeJSON(w, map[string]any{"access_token": "new-access", "refresh_token": "new-refresh", "token_type": "bearer", "expires_in": 3600})
	})
	mux.HandleFunc("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		if login := r.URL.Query().Get("login"); login != "" {
			writeJSON(w, map[string]any{"data": []map[string]string{{"id": "1001", "login": login}}})
			return
		}
		writeJSON(w, map[string]any{"data": []map[string]string{{"id": "2002", "login": "yambot"}}})
	})
	mux.HandleFunc("/helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string `json:"type"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		n := ft.subscriptions.Add(1)
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]any{"data": []map[string]any{{"id": fmt.Sprintf("sub-%d", n), "status": "enabled", "type": body.Type, "version": "1"}}})
	})
	mux.HandleFunc("/helix/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		ft.chatMessages.Add(1)
		writeJSON(w, map[string]any{"data": []map[string]any{{"message_id": "m-1", "is_sent": true}}})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("websocket.Accept() error = %v", err)
			return
		}
		ctx := c.CloseRead(context.Background())
		ft.conns <- c
		<-ctx.Done()
	})
	ft.srv = httptest.NewServer(mux)
	t.Cleanup(ft.srv.Close)
	return ft
}

func (ft *fakeTwitch) isValid(token string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.validAccess[token]
}

func (ft *fakeTwitch) refreshedWith() string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.refreshed
}

func (ft *fakeTwitch) options(t *testing.T) config.Options {
	t.Helper()
	return config.Options{
		Channel:            "streamer",
		AccessToken:        "access-1",
		ClientID:           "cid",
		EventSubURL:        "ws" + strings.TrimPrefix(ft.srv.URL, "http") + "/ws",
		HelixURL:           ft.srv.URL + "/helix",
		TokenURL:           ft.srv.URL + "/oauth2/token",
		ValidateURL:        ft.srv.URL + "/oauth2/validate",
		ReconnectAttempts:  1,
		ReconnectBaseDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:  10 * time.Millisecond,
		SettingsFile:       filepath.Join(t.TempDir(), "settings.toml"),
		NoWatch:            true,
	}
}

func (ft *fakeTwitch) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ft.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatalf("no eventsub connection accepted")
		return nil
	}
}

func sendFrame(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("server Write() error = %v", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

const welcomeFrame = `{"metadata":{"message_id":"w-1","message_type":"session_welcome","message_timestamp":"2026-01-01T00:00:00Z"},` +
	`"payload":{"session":{"id":"session-1","status":"connected","keepalive_timeout_seconds":10,"reconnect_url":null,"connected_at":"2026-01-01T00:00:00Z"}}}`

const chatFrame = `{"metadata":{"message_id":"n-1","message_type":"notification","message_timestamp":"2026-01-01T00:00:01Z","subscription_type":"channel.chat.message","subscription_version":"1"},` +
	`"payload":{"subscription":{"id":"sub-1","type":"channel.chat.message","version":"1","status":"enabled","cost":0,"condition":{"broadcaster_user_id":"1001","user_id":"2002"},"created_at":"2026-01-01T00:00:00Z"},` +
	`"event":{"broadcaster_user_id":"1001","broadcaster_user_login":"streamer","broadcaster_user_name":"Streamer","chatter_user_id":"3003","chatter_user_login":"viewer","chatter_user_name":"Viewer",` +
	`"message_id":"msg-1","message":{"text":"hello bot","fragments":[]},"color":"","badges":[],"message_type":"text","cheer":null,"reply":null,"channel_points_custom_reward_id":null}}}`

func testLogger() *logging.Logger {
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)
	return logger
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *statusRecorder) record(status string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

func (r *statusRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

func (r *statusRecorder) waitFor(t *testing.T, status string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range r.snapshot() {
			if s == status {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status %q not reached, got %v", status, r.snapshot())
}
