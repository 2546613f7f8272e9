package eventsub

import (
	"context"
	"errors"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"nhooyr.io/websocket"
)

func connect(t *testing.T, fs *fakeServer) (*Handler, *Connection, *websocket.Conn, chan Message) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := NewHandler(fs.URL(), testLogger())
	out := make(chan Message, 16)
	conn, err := h.Connect(ctx, out)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := fs.accept(t)
	expectKind(t, out, MessageConnected)
	return h, conn, server, out
}

func TestConnectResolvesSessionOnWelcome(t *testing.T) {
	fs := newFakeServer(t)
	h, conn, server, out := connect(t, fs)

	if h.State() != StateConnected {
		t.Fatalf("state = %v, want connected", h.State())
	}
	send(t, server, welcomeFrame("session-1", 30))

	msg := expectKind(t, out, MessageSession)
	if msg.Session.ID != "session-1" || msg.ConnID != conn.ID {
		t.Fatalf("session message = %+v", msg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	session, err := conn.WaitSession(ctx)
	if err != nil {
		t.Fatalf("WaitSession() error = %v", err)
	}
	if session.ID != "session-1" {
		t.Fatalf("WaitSession() = %q", session.ID)
	}
	if got := h.KeepaliveTimeout(); got != 30*time.Second {
		t.Fatalf("keepalive = %v, want 30s", got)
	}

	// A second welcome is reported but does not change the resolved session.
	send(t, server, welcomeFrame("session-2", 10))
	expectKind(t, out, MessageSession)
	if session, _ := conn.WaitSession(ctx); session.ID != "session-1" {
		t.Fatalf("session promise resolved twice: %q", session.ID)
	}
}

func TestNotificationsDecodeIntoEvents(t *testing.T) {
	tests := []struct {
		topic string
		event string
		check func(t *testing.T, ev Event)
	}{
		{
			topic: TopicChatMessage,
			event: `{"broadcaster_user_id":"1001","broadcaster_user_login":"chan","broadcaster_user_name":"Chan","chatter_user_id":"5","chatter_user_login":"viewer","chatter_user_name":"Viewer","message_id":"m-1","message":{"text":"hi @yambot","fragments":[{"type":"text","text":"hi "},{"type":"mention","text":"@yambot","mention":{"user_id":"7","user_name":"yambot","user_login":"yambot"}}]},"color":"#FF0000","badges":[{"set_id":"moderator","id":"1","info":""}],"message_type":"text","cheer":null,"reply":null,"channel_points_custom_reward_id":null}`,
			check: func(t *testing.T, ev Event) {
				msg, ok := ev.(ChatMessage)
				if !ok {
					t.Fatalf("event type = %T", ev)
				}
				if msg.Message.Text != "hi @yambot" || msg.ChatterUserLogin != "viewer" || msg.BroadcasterUserID != "1001" {
					t.Fatalf("chat message = %+v", msg)
				}
				if len(msg.Message.Fragments) != 2 || msg.Message.Fragments[1].Mention == nil {
					t.Fatalf("fragments = %+v", msg.Message.Fragments)
				}
				if !msg.HasBadge("moderator") {
					t.Fatalf("expected moderator badge")
				}
			},
		},
		{
			topic: TopicMessageDelete,
			event: `{"broadcaster_user_id":"1001","broadcaster_user_login":"chan","broadcaster_user_name":"Chan","target_user_id":"5","target_user_login":"viewer","target_user_name":"Viewer","message_id":"m-1"}`,
			check: func(t *testing.T, ev Event) {
				if del, ok := ev.(MessageDelete); !ok || del.MessageID != "m-1" || del.TargetUserID != "5" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			topic: TopicClearUserMessages,
			event: `{"broadcaster_user_id":"1001","broadcaster_user_login":"chan","broadcaster_user_name":"Chan","target_user_id":"5","target_user_login":"viewer","target_user_name":"Viewer"}`,
			check: func(t *testing.T, ev Event) {
				if clear, ok := ev.(ClearUserMessages); !ok || clear.TargetUserLogin != "viewer" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			topic: TopicChatClear,
			event: `{"broadcaster_user_id":"1001","broadcaster_user_login":"chan","broadcaster_user_name":"Chan"}`,
			check: func(t *testing.T, ev Event) {
				if _, ok := ev.(ChatClear); !ok {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			topic: TopicChatSettingsUpdate,
			event: `{"broadcaster_user_id":"1001","broadcaster_user_login":"chan","broadcaster_user_name":"Chan","emote_mode":false,"follower_mode":true,"follower_mode_duration_minutes":10,"slow_mode":true,"slow_mode_wait_time_seconds":30,"subscriber_mode":false,"unique_chat_mode":false}`,
			check: func(t *testing.T, ev Event) {
				settings, ok := ev.(ChatSettingsUpdate)
				if !ok || !settings.SlowMode || settings.SlowModeWaitTimeSeconds == nil || *settings.SlowModeWaitTimeSeconds != 30 {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			topic: TopicChannelBan,
			event: `{"user_id":"5","user_login":"viewer","user_name":"Viewer","broadcaster_user_id":"1001","broadcaster_user_login":"chan","broadcaster_user_name":"Chan","moderator_user_id":"9","moderator_user_login":"mod","moderator_user_name":"Mod","reason":"spam","banned_at":"2026-01-01T00:00:00.123456Z","ends_at":"2026-01-01T00:10:00Z","is_permanent":false}`,
			check: func(t *testing.T, ev Event) {
				ban, ok := ev.(ChannelBan)
				if !ok || ban.Reason != "spam" || ban.ModeratorUserLogin != "mod" || ban.EndsAt == nil || ban.IsPermanent {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
		{
			topic: TopicChannelUnban,
			event: `{"user_id":"5","user_login":"viewer","user_name":"Viewer","broadcaster_user_id":"1001","broadcaster_user_login":"chan","broadcaster_user_name":"Chan","moderator_user_id":"9","moderator_user_login":"mod","moderator_user_name":"Mod"}`,
			check: func(t *testing.T, ev Event) {
				if unban, ok := ev.(ChannelUnban); !ok || unban.UserID != "5" {
					t.Fatalf("event = %#v", ev)
				}
			},
		},
	}

	fs := newFakeServer(t)
	_, _, server, out := connect(t, fs)
	send(t, server, welcomeFrame("s", 10))
	expectKind(t, out, MessageSession)

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			send(t, server, notificationFrame(tt.topic, tt.event))
			msg := expectKind(t, out, MessageEvent)
			if got := msg.Event.SubscriptionType(); got != tt.topic {
				t.Fatalf("SubscriptionType() = %q, want %q", got, tt.topic)
			}
			tt.check(t, msg.Event)
		})
	}
}

func TestNotificationBeforeWelcomeIsDropped(t *testing.T) {
	fs := newFakeServer(t)
	_, _, server, out := connect(t, fs)

	send(t, server, notificationFrame(TopicChatClear, `{"broadcaster_user_id":"1"}`))
	msg := expectKind(t, out, MessageError)
	var protoErr *ProtocolError
	if !errors.As(msg.Err, &protoErr) || msg.Fatal {
		t.Fatalf("error = %v (fatal=%v), want non-fatal protocol error", msg.Err, msg.Fatal)
	}
}

func TestMalformedFramesDoNotEndConnection(t *testing.T) {
	fs := newFakeServer(t)
	_, _, server, out := connect(t, fs)
	send(t, server, welcomeFrame("s", 10))
	expectKind(t, out, MessageSession)

	send(t, server, `{not json`)
	if msg := expectKind(t, out, MessageError); msg.Fatal {
		t.Fatalf("malformed frame reported as fatal")
	}
	send(t, server, notificationFrame("channel.follow", `{}`))
	expectKind(t, out, MessageError)
	send(t, server, `{"metadata":{"message_type":"session_mystery"},"payload":{}}`)
	expectKind(t, out, MessageError)

	send(t, server, notificationFrame(TopicChatClear, `{"broadcaster_user_id":"1001","broadcaster_user_login":"chan","broadcaster_user_name":"Chan"}`))
	expectKind(t, out, MessageEvent)
}

func TestKeepaliveRefreshesLiveness(t *testing.T) {
	fs := newFakeServer(t)
	h, _, server, out := connect(t, fs)
	send(t, server, welcomeFrame("s", 10))
	expectKind(t, out, MessageSession)

	h.lastMessage.Store(time.Now().Add(-time.Hour).UnixNano())
	if !h.KeepaliveExpired(time.Now(), 5*time.Second) {
		t.Fatalf("expected stale connection")
	}
	send(t, server, keepaliveFrame)

	deadline := time.Now().Add(2 * time.Second)
	for h.KeepaliveExpired(time.Now(), 5*time.Second) {
		if time.Now().After(deadline) {
			t.Fatalf("keepalive did not refresh liveness")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitLive(t *testing.T, h *Handler, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.KeepaliveExpired(time.Now(), 5*time.Second) {
		if time.Now().After(deadline) {
			t.Fatalf("%s did not refresh liveness", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPingIsAnsweredAndRefreshesLiveness(t *testing.T) {
	fs := newFakeServer(t)
	h, _, server, out := connect(t, fs)
	send(t, server, welcomeFrame("s", 10))
	expectKind(t, out, MessageSession)

	h.lastMessage.Store(time.Now().Add(-time.Hour).UnixNano())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Ping(ctx); err != nil {
		t.Fatalf("server Ping() error = %v, want pong", err)
	}
	waitLive(t, h, "ping")
}

func TestPongRefreshesLiveness(t *testing.T) {
	rs := newRawServer(t)
	h := NewHandler(rs.URL(), testLogger())
	out := make(chan Message, 16)
	if _, err := h.Connect(context.Background(), out); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := rs.accept(t)
	expectKind(t, out, MessageConnected)

	h.lastMessage.Store(time.Now().Add(-time.Hour).UnixNano())
	if err := server.WriteControl(gorilla.PongMessage, nil, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("server WriteControl(pong) error = %v", err)
	}
	waitLive(t, h, "pong")
}

func TestDroppedStreamIsFatalTransportError(t *testing.T) {
	rs := newRawServer(t)
	h := NewHandler(rs.URL(), testLogger())
	out := make(chan Message, 16)
	conn, err := h.Connect(context.Background(), out)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	server := rs.accept(t)
	expectKind(t, out, MessageConnected)

	_ = server.UnderlyingConn().Close()

	failure := expectKind(t, out, MessageError)
	var transportErr *TransportError
	if !failure.Fatal || !errors.As(failure.Err, &transportErr) || transportErr.Op != "read" {
		t.Fatalf("error message = %+v, want fatal read TransportError", failure)
	}
	disconnected := expectKind(t, out, MessageDisconnected)
	if disconnected.CloseCode != 0 || !errors.As(disconnected.Err, &transportErr) {
		t.Fatalf("disconnect = %+v, want transport error without close code", disconnected)
	}
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop did not exit")
	}
	if h.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", h.State())
	}
}

func TestMigrationTargetStaysPendingUntilActivated(t *testing.T) {
	fs := newFakeServer(t)
	h, current, server, out := connect(t, fs)
	send(t, server, welcomeFrame("s1", 10))
	expectKind(t, out, MessageSession)

	pending, err := h.Connect(context.Background(), out)
	if err != nil {
		t.Fatalf("Connect() migration target error = %v", err)
	}
	target := fs.accept(t)
	expectKind(t, out, MessageConnected)

	go func() { _ = target.Close(websocket.StatusCode(4000), "internal server error") }()
	if msg := expectKind(t, out, MessageDisconnected); msg.ConnID != pending.ID {
		t.Fatalf("disconnect from conn %d, want pending %d", msg.ConnID, pending.ID)
	}
	<-pending.Done()
	if h.State() != StateConnected {
		t.Fatalf("state after pending target died = %v, want connected", h.State())
	}

	h.lastMessage.Store(time.Now().Add(-time.Hour).UnixNano())
	send(t, server, keepaliveFrame)
	waitLive(t, h, "keepalive on the surviving connection")

	next, err := h.Connect(context.Background(), out)
	if err != nil {
		t.Fatalf("Connect() second target error = %v", err)
	}
	defer next.Close()
	nextServer := fs.accept(t)
	expectKind(t, out, MessageConnected)
	send(t, nextServer, welcomeFrame("s1", 20))
	expectKind(t, out, MessageSession)
	if got := h.KeepaliveTimeout(); got != 10*time.Second {
		t.Fatalf("pending welcome changed keepalive to %v", got)
	}

	h.Activate(next)
	current.Close()
	if got := h.KeepaliveTimeout(); got != 20*time.Second {
		t.Fatalf("keepalive after Activate = %v, want 20s", got)
	}
	if h.State() != StateConnected {
		t.Fatalf("state after Activate = %v, want connected", h.State())
	}
}

func TestKeepaliveExpiredBoundary(t *testing.T) {
	h := NewHandler("", testLogger())
	if h.KeepaliveExpired(time.Now(), 0) {
		t.Fatalf("no frame yet must not count as expired")
	}
	base := time.Unix(1700000000, 0)
	h.lastMessage.Store(base.UnixNano())
	h.keepalive.Store(int64(10 * time.Second))

	if h.KeepaliveExpired(base.Add(15*time.Second), 5*time.Second) {
		t.Fatalf("exactly timeout+grace must not be expired")
	}
	if !h.KeepaliveExpired(base.Add(15*time.Second+time.Millisecond), 5*time.Second) {
		t.Fatalf("past timeout+grace must be expired")
	}
}

func TestServerCloseReportsCode(t *testing.T) {
	fs := newFakeServer(t)
	h, conn, server, out := connect(t, fs)
	send(t, server, welcomeFrame("s", 10))
	expectKind(t, out, MessageSession)

	go func() { _ = server.Close(websocket.StatusCode(4003), "connection unused") }()

	msg := expectKind(t, out, MessageDisconnected)
	if msg.CloseCode != 4003 || msg.CloseReason != "connection unused" {
		t.Fatalf("disconnect = %+v", msg)
	}
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop did not exit")
	}
	if h.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", h.State())
	}
	if CloseCodeText(4003) != "connection unused" {
		t.Fatalf("CloseCodeText(4003) = %q", CloseCodeText(4003))
	}
}

func TestReconnectFrameCarriesURL(t *testing.T) {
	fs := newFakeServer(t)
	h, _, server, out := connect(t, fs)
	send(t, server, welcomeFrame("s", 10))
	expectKind(t, out, MessageSession)

	send(t, server, reconnectFrame("s", "wss://eventsub.example/ws?id=abc"))
	msg := expectKind(t, out, MessageReconnect)
	if msg.Session.ReconnectURL == nil || *msg.Session.ReconnectURL != "wss://eventsub.example/ws?id=abc" {
		t.Fatalf("reconnect = %+v", msg.Session)
	}
	if h.State() != StateReconnecting {
		t.Fatalf("state = %v, want reconnecting", h.State())
	}
}

func TestRevocationIsReported(t *testing.T) {
	fs := newFakeServer(t)
	_, _, server, out := connect(t, fs)
	send(t, server, welcomeFrame("s", 10))
	expectKind(t, out, MessageSession)

	send(t, server, `{"metadata":{"message_id":"v-1","message_type":"revocation","message_timestamp":"2026-01-01T00:00:00Z","subscription_type":"channel.ban","subscription_version":"1"},`+
		`"payload":{"subscription":{"id":"sub-9","status":"authorization_revoked","type":"channel.ban","version":"1","cost":0,"condition":{"broadcaster_user_id":"1001"},"created_at":"2026-01-01T00:00:00Z"}}}`)
	msg := expectKind(t, out, MessageRevocation)
	if msg.Revoked.Type != TopicChannelBan || msg.Revoked.Status != "authorization_revoked" {
		t.Fatalf("revocation = %+v", msg.Revoked)
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	fs := newFakeServer(t)
	_, conn, _, out := connect(t, fs)

	conn.Close()
	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop did not exit after Close")
	}
	select {
	case msg := <-out:
		t.Fatalf("unexpected message after Close: %v", msg.Kind)
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := conn.WaitSession(ctx); !errors.Is(err, errClosedBeforeWelcome) {
		t.Fatalf("WaitSession() error = %v, want closed before welcome", err)
	}
}

func TestDialFailureIsTransportError(t *testing.T) {
	fs := newFakeServer(t)
	url := fs.URL()
	fs.srv.Close()

	h := NewHandler(url, testLogger())
	_, err := h.Connect(context.Background(), make(chan Message, 1))
	var transportErr *TransportError
	if !errors.As(err, &transportErr) || transportErr.Op != "dial" {
		t.Fatalf("Connect() error = %v, want dial TransportError", err)
	}
	if h.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", h.State())
	}
}

func TestSetAndResetURL(t *testing.T) {
	h := NewHandler("", testLogger())
	if h.URL() != DefaultURL {
		t.Fatalf("URL() = %q, want default", h.URL())
	}
	h.SetURL("wss://elsewhere/ws")
	if h.URL() != "wss://elsewhere/ws" {
		t.Fatalf("URL() = %q", h.URL())
	}
	h.ResetURL()
	if h.URL() != DefaultURL {
		t.Fatalf("URL() after reset = %q", h.URL())
	}
}
