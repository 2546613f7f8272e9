package helix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	minTimeout = time.Second
	maxTimeout = 14 * 24 * time.Hour
)

type banBody struct {
	Data banData `json:"data"`
}

type banData struct {
	UserID   string `json:"user_id"`
	Duration int    `json:"duration,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// BanUser permanently bans userID from the broadcaster's chat.
func (c *Client) BanUser(ctx context.Context, broadcasterID, moderatorID, userID, reason string) error {
	return c.ban(ctx, broadcasterID, moderatorID, banData{UserID: userID, Reason: reason})
}

// TimeoutUser bans userID for duration, which must be between one second
// and two weeks.
func (c *Client) TimeoutUser(ctx context.Context, broadcasterID, moderatorID, userID string, duration time.Duration, reason string) error {
	if duration < minTimeout || duration > maxTimeout {
		return fmt.Errorf("timeout duration %s out of range [%s, %s]", duration, minTimeout, maxTimeout)
	}
	return c.ban(ctx, broadcasterID, moderatorID, banData{UserID: userID, Duration: int(duration / time.Second), Reason: reason})
}

func (c *Client) ban(ctx context.Context, broadcasterID, moderatorID string, data banData) error {
	if strings.TrimSpace(data.UserID) == "" {
		return errors.New("user id is required")
	}
	query := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}}
	return c.do(ctx, request{
		endpoint: "moderation/bans",
		method:   http.MethodPost,
		path:     "/moderation/bans",
		query:    query,
		body:     banBody{Data: data},
	}, nil)
}

// UnbanUser lifts a ban or timeout on userID.
func (c *Client) UnbanUser(ctx context.Context, broadcasterID, moderatorID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}
	query := url.Values{
		"broadcaster_id": {broadcasterID},
		"moderator_id":   {moderatorID},
		"user_id":        {userID},
	}
	return c.do(ctx, request{endpoint: "moderation/bans", method: http.MethodDelete, path: "/moderation/bans", query: query}, nil)
}
