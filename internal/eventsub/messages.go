package eventsub

import (
	"encoding/json"
	"time"
)

const (
	TypeWelcome      = "session_welcome"
	TypeNotification = "notification"
	TypeReconnect    = "session_reconnect"
	TypeKeepalive    = "session_keepalive"
	TypeRevocation   = "revocation"
)

// frame is the envelope of every message the EventSub server sends.
type frame struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type Metadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

// Session is the server-assigned session announced by session_welcome and
// session_reconnect frames.
type Session struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	KeepaliveTimeoutSeconds *int      `json:"keepalive_timeout_seconds"`
	ReconnectURL            *string   `json:"reconnect_url"`
	ConnectedAt             time.Time `json:"connected_at"`
}

// KeepaliveTimeout is the longest the server promises to stay silent.
func (s Session) KeepaliveTimeout() time.Duration {
	if s.KeepaliveTimeoutSeconds == nil || *s.KeepaliveTimeoutSeconds <= 0 {
		return defaultKeepaliveTimeout
	}
	return time.Duration(*s.KeepaliveTimeoutSeconds) * time.Second
}

type sessionPayload struct {
	Session Session `json:"session"`
}

// SubscriptionInfo describes the subscription a notification or revocation
// belongs to.
type SubscriptionInfo struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Cost      int               `json:"cost"`
	Condition map[string]string `json:"condition"`
	CreatedAt time.Time         `json:"created_at"`
}

type notificationPayload struct {
	Subscription SubscriptionInfo `json:"subscription"`
	Event        json.RawMessage  `json:"event"`
}

type revocationPayload struct {
	Subscription SubscriptionInfo `json:"subscription"`
}
