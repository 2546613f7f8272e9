package helix

import (
	"context"
	"errors"
	"net/http"
)

type SubscriptionTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

type SubscriptionRequest struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
}

type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	CreatedAt string            `json:"created_at"`
	Cost      int               `json:"cost"`
}

// CreateEventSubSubscription registers one topic against a WebSocket session.
func (c *Client) CreateEventSubSubscription(ctx context.Context, sub SubscriptionRequest) (Subscription, error) {
	if sub.Transport.Method == "" {
		sub.Transport.Method = "websocket"
	}
	if sub.Transport.SessionID == "" {
		return Subscription{}, errors.New("session id is required")
	}
	var out dataEnvelope[Subscription]
	err := c.do(ctx, request{
		endpoint: "eventsub/subscriptions",
		method:   http.MethodPost,
		path:     "/eventsub/subscriptions",
		body:     sub,
	}, &out)
	if err != nil {
		return Subscription{}, err
	}
	if len(out.Data) == 0 {
		return Subscription{}, errors.New("empty eventsub/subscriptions response")
	}
	return out.Data[0], nil
}
