package chatclient

import (
	"context"
	"time"

	"yambot/internal/auth"
	"yambot/internal/eventsub"
	"yambot/internal/helix"
)

func (c *Client) setIdentities(broadcasterID, botUserID string) {
	c.mu.Lock()
	c.broadcasterID = broadcasterID
	c.botUserID = botUserID
	c.mu.Unlock()
}

func (c *Client) clearIdentities() {
	c.mu.Lock()
	c.broadcasterID = ""
	c.botUserID = ""
	c.sessionID = ""
	c.mu.Unlock()
}

func (c *Client) identities() (broadcasterID, botUserID string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.broadcasterID, c.botUserID, c.broadcasterID != "" && c.botUserID != ""
}

func (c *Client) BroadcasterID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.broadcasterID
}

func (c *Client) BotUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botUserID
}

// SessionID is the EventSub session currently carrying subscriptions.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) Tokens() auth.TokenPair {
	return c.store.Read()
}

func (c *Client) State() eventsub.ConnectionState {
	return c.conn.State()
}

func (c *Client) IsConnected() bool {
	return c.conn.State() == eventsub.StateConnected
}

// SendMessage posts text to the channel as the bot.
func (c *Client) SendMessage(ctx context.Context, text string) (helix.SentMessage, error) {
	broadcasterID, botUserID, ok := c.identities()
	if !ok {
		return helix.SentMessage{}, ErrNotConnected
	}
	return c.api.SendMessage(ctx, broadcasterID, botUserID, text)
}

func (c *Client) ReplyToMessage(ctx context.Context, parentMessageID, text string) (helix.SentMessage, error) {
	broadcasterID, botUserID, ok := c.identities()
	if !ok {
		return helix.SentMessage{}, ErrNotConnected
	}
	return c.api.ReplyToMessage(ctx, broadcasterID, botUserID, parentMessageID, text)
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	broadcasterID, botUserID, ok := c.identities()
	if !ok {
		return ErrNotConnected
	}
	return c.api.DeleteMessage(ctx, broadcasterID, botUserID, messageID)
}

func (c *Client) BanUser(ctx context.Context, userID, reason string) error {
	broadcasterID, botUserID, ok := c.identities()
	if !ok {
		return ErrNotConnected
	}
	return c.api.BanUser(ctx, broadcasterID, botUserID, userID, reason)
}

func (c *Client) TimeoutUser(ctx context.Context, userID string, duration time.Duration, reason string) error {
	broadcasterID, botUserID, ok := c.identities()
	if !ok {
		return ErrNotConnected
	}
	return c.api.TimeoutUser(ctx, broadcasterID, botUserID, userID, duration, reason)
}

func (c *Client) UnbanUser(ctx context.Context, userID string) error {
	broadcasterID, botUserID, ok := c.identities()
	if !ok {
		return ErrNotConnected
	}
	return c.api.UnbanUser(ctx, broadcasterID, botUserID, userID)
}

func (c *Client) ChatSettings(ctx context.Context) (helix.ChatSettings, error) {
	broadcasterID, botUserID, ok := c.identities()
	if !ok {
		return helix.ChatSettings{}, ErrNotConnected
	}
	return c.api.GetChatSettings(ctx, broadcasterID, botUserID)
}

const (
	minSlowModeSeconds = 3
	maxSlowModeSeconds = 120
)

// SetSlowMode enables slow mode with the given wait between messages,
// clamped to 3s..120s. A zero or negative wait turns slow mode off.
func (c *Client) SetSlowMode(ctx context.Context, wait time.Duration) (helix.ChatSettings, error) {
	broadcasterID, botUserID, ok := c.identities()
	if !ok {
		return helix.ChatSettings{}, ErrNotConnected
	}
	enabled := wait > 0
	update := helix.ChatSettingsUpdate{SlowMode: &enabled}
	if enabled {
		seconds := int(wait / time.Second)
		seconds = min(max(seconds, minSlowModeSeconds), maxSlowModeSeconds)
		update.SlowModeWaitTime = &seconds
	}
	return c.api.UpdateChatSettings(ctx, broadcasterID, botUserID, update)
}

// LookupUser resolves a chat login to its user, typically to moderate it.
func (c *Client) LookupUser(ctx context.Context, login string) (helix.User, error) {
	if _, _, ok := c.identities(); !ok {
		return helix.User{}, ErrNotConnected
	}
	return c.api.GetUserByLogin(ctx, login)
}
