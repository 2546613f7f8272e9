package helix

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"yambot/internal/logging"
)

// MaxMessageLength is the longest chat message Helix accepts.
const MaxMessageLength = 500

var ErrEmptyMessage = errors.New("message is empty")

type sendMessageBody struct {
	BroadcasterID        string `json:"broadcaster_id"`
	SenderID             string `json:"sender_id"`
	Message              string `json:"message"`
	ReplyParentMessageID string `json:"reply_parent_message_id,omitempty"`
}

type DropReason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SentMessage struct {
	MessageID  string      `json:"message_id"`
	IsSent     bool        `json:"is_sent"`
	DropReason *DropReason `json:"drop_reason"`
}

// SendMessage posts text to the broadcaster's chat as sender.
func (c *Client) SendMessage(ctx context.Context, broadcasterID, senderID, text string) (SentMessage, error) {
	return c.sendChat(ctx, sendMessageBody{BroadcasterID: broadcasterID, SenderID: senderID, Message: text})
}

// ReplyToMessage posts text as a threaded reply to parentMessageID.
func (c *Client) ReplyToMessage(ctx context.Context, broadcasterID, senderID, parentMessageID, text string) (SentMessage, error) {
	return c.sendChat(ctx, sendMessageBody{
		BroadcasterID:        broadcasterID,
		SenderID:             senderID,
		Message:              text,
		ReplyParentMessageID: parentMessageID,
	})
}

func (c *Client) sendChat(ctx context.Context, body sendMessageBody) (SentMessage, error) {
	body.Message = strings.TrimSpace(body.Message)
	if body.Message == "" {
		return SentMessage{}, ErrEmptyMessage
	}
	if runes := []rune(body.Message); len(runes) > MaxMessageLength {
		body.Message = string(runes[:MaxMessageLength])
	}

	var out dataEnvelope[SentMessage]
	err := c.do(ctx, request{endpoint: "chat/messages", method: http.MethodPost, path: "/chat/messages", body: body}, &out)
	if err != nil {
		return SentMessage{}, err
	}
	if len(out.Data) == 0 {
		return SentMessage{}, errors.New("empty chat/messages response")
	}
	sent := out.Data[0]
	if !sent.IsSent {
		drop := &DropError{Message: "message was not sent"}
		if sent.DropReason != nil {
			drop.Code = sent.DropReason.Code
			drop.Message = sent.DropReason.Message
		}
		c.logger.Warn("chat message dropped",
			logging.Field("code", drop.Code),
			logging.Field("reason", drop.Message),
			logging.Field("message", logging.Truncate(body.Message)),
		)
		return sent, drop
	}
	return sent, nil
}

// DeleteMessage removes a single chat message. messageID is required.
func (c *Client) DeleteMessage(ctx context.Context, broadcasterID, moderatorID, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return errors.New("message id is required")
	}
	query := url.Values{
		"broadcaster_id": {broadcasterID},
		"moderator_id":   {moderatorID},
		"message_id":     {messageID},
	}
	return c.do(ctx, request{endpoint: "moderation/chat", method: http.MethodDelete, path: "/moderation/chat", query: query}, nil)
}

type ChatSettings struct {
	BroadcasterID                 string `json:"broadcaster_id"`
	EmoteMode                     bool   `json:"emote_mode"`
	FollowerMode                  bool   `json:"follower_mode"`
	FollowerModeDuration          *int   `json:"follower_mode_duration"`
	NonModeratorChatDelay         bool   `json:"non_moderator_chat_delay"`
	NonModeratorChatDelayDuration *int   `json:"non_moderator_chat_delay_duration"`
	SlowMode                      bool   `json:"slow_mode"`
	SlowModeWaitTime              *int   `json:"slow_mode_wait_time"`
	SubscriberMode                bool   `json:"subscriber_mode"`
	UniqueChatMode                bool   `json:"unique_chat_mode"`
}

// ChatSettingsUpdate carries only the settings to change.
type ChatSettingsUpdate struct {
	EmoteMode            *bool `json:"emote_mode,omitempty"`
	FollowerMode         *bool `json:"follower_mode,omitempty"`
	FollowerModeDuration *int  `json:"follower_mode_duration,omitempty"`
	SlowMode             *bool `json:"slow_mode,omitempty"`
	SlowModeWaitTime     *int  `json:"slow_mode_wait_time,omitempty"`
	SubscriberMode       *bool `json:"subscriber_mode,omitempty"`
	UniqueChatMode       *bool `json:"unique_chat_mode,omitempty"`
}

func (c *Client) GetChatSettings(ctx context.Context, broadcasterID, moderatorID string) (ChatSettings, error) {
	query := url.Values{"broadcaster_id": {broadcasterID}}
	if moderatorID != "" {
		query.Set("moderator_id", moderatorID)
	}
	return c.chatSettings(ctx, request{endpoint: "chat/settings", method: http.MethodGet, path: "/chat/settings", query: query})
}

func (c *Client) UpdateChatSettings(ctx context.Context, broadcasterID, moderatorID string, update ChatSettingsUpdate) (ChatSettings, error) {
	query := url.Values{"broadcaster_id": {broadcasterID}, "moderator_id": {moderatorID}}
	return c.chatSettings(ctx, request{endpoint: "chat/settings", method: http.MethodPatch, path: "/chat/settings", query: query, body: update})
}

func (c *Client) chatSettings(ctx context.Context, req request) (ChatSettings, error) {
	var out dataEnvelope[ChatSettings]
	if err := c.do(ctx, req, &out); err != nil {
		return ChatSettings{}, err
	}
	if len(out.Data) == 0 {
		return ChatSettings{}, errors.New("empty chat/settings response")
	}
	return out.Data[0], nil
}
