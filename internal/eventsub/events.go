package eventsub

import (
	"encoding/json"
	"time"
)

// Event is one decoded chat notification. The set of implementations is
// closed: ChatMessage, MessageDelete, ClearUserMessages, ChatClear,
// ChatSettingsUpdate, ChannelBan and ChannelUnban.
type Event interface {
	SubscriptionType() string
	isEvent()
}

type Broadcaster struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
}

type Target struct {
	TargetUserID    string `json:"target_user_id"`
	TargetUserLogin string `json:"target_user_login"`
	TargetUserName  string `json:"target_user_name"`
}

type Moderator struct {
	ModeratorUserID    string `json:"moderator_user_id"`
	ModeratorUserLogin string `json:"moderator_user_login"`
	ModeratorUserName  string `json:"moderator_user_name"`
}

type ChatMessage struct {
	Broadcaster
	ChatterUserID               string      `json:"chatter_user_id"`
	ChatterUserLogin            string      `json:"chatter_user_login"`
	ChatterUserName             string      `json:"chatter_user_name"`
	MessageID                   string      `json:"message_id"`
	Message                     MessageBody `json:"message"`
	Color                       string      `json:"color"`
	Badges                      []Badge     `json:"badges"`
	MessageType                 string      `json:"message_type"`
	Cheer                       *Cheer      `json:"cheer"`
	Reply                       *Reply      `json:"reply"`
	ChannelPointsCustomRewardID *string     `json:"channel_points_custom_reward_id"`
}

type MessageBody struct {
	Text      string     `json:"text"`
	Fragments []Fragment `json:"fragments"`
}

type Fragment struct {
	Type      string     `json:"type"`
	Text      string     `json:"text"`
	Cheermote *Cheermote `json:"cheermote,omitempty"`
	Emote     *Emote     `json:"emote,omitempty"`
	Mention   *Mention   `json:"mention,omitempty"`
}

type Cheermote struct {
	Prefix string `json:"prefix"`
	Bits   int    `json:"bits"`
	Tier   int    `json:"tier"`
}

type Emote struct {
	ID         string `json:"id"`
	EmoteSetID string `json:"emote_set_id"`
}

type Mention struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	UserLogin string `json:"user_login"`
}

type Badge struct {
	SetID string `json:"set_id"`
	ID    string `json:"id"`
	Info  string `json:"info"`
}

type Cheer struct {
	Bits int `json:"bits"`
}

type Reply struct {
	ParentMessageID   string `json:"parent_message_id"`
	ParentMessageBody string `json:"parent_message_body"`
	ParentUserID      string `json:"parent_user_id"`
	ParentUserName    string `json:"parent_user_name"`
	ParentUserLogin   string `json:"parent_user_login"`
	ThreadMessageID   string `json:"thread_message_id"`
	ThreadUserID      string `json:"thread_user_id"`
	ThreadUserName    string `json:"thread_user_name"`
	ThreadUserLogin   string `json:"thread_user_login"`
}

// HasBadge reports whether the chatter carries a badge from setID.
func (m ChatMessage) HasBadge(setID string) bool {
	for _, b := range m.Badges {
		if b.SetID == setID {
			return true
		}
	}
	return false
}

type MessageDelete struct {
	Broadcaster
	Target
	MessageID string `json:"message_id"`
}

type ClearUserMessages struct {
	Broadcaster
	Target
}

type ChatClear struct {
	Broadcaster
}

type ChatSettingsUpdate struct {
	Broadcaster
	EmoteMode                   bool `json:"emote_mode"`
	FollowerMode                bool `json:"follower_mode"`
	FollowerModeDurationMinutes *int `json:"follower_mode_duration_minutes"`
	SlowMode                    bool `json:"slow_mode"`
	SlowModeWaitTimeSeconds     *int `json:"slow_mode_wait_time_seconds"`
	SubscriberMode              bool `json:"subscriber_mode"`
	UniqueChatMode              bool `json:"unique_chat_mode"`
}

type ChannelBan struct {
	Broadcaster
	Moderator
	UserID      string     `json:"user_id"`
	UserLogin   string     `json:"user_login"`
	UserName    string     `json:"user_name"`
	Reason      string     `json:"reason"`
	BannedAt    time.Time  `json:"banned_at"`
	EndsAt      *time.Time `json:"ends_at"`
	IsPermanent bool       `json:"is_permanent"`
}

type ChannelUnban struct {
	Broadcaster
	Moderator
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

func (ChatMessage) SubscriptionType() string        { return TopicChatMessage }
func (MessageDelete) SubscriptionType() string      { return TopicMessageDelete }
func (ClearUserMessages) SubscriptionType() string  { return TopicClearUserMessages }
func (ChatClear) SubscriptionType() string          { return TopicChatClear }
func (ChatSettingsUpdate) SubscriptionType() string { return TopicChatSettingsUpdate }
func (ChannelBan) SubscriptionType() string         { return TopicChannelBan }
func (ChannelUnban) SubscriptionType() string       { return TopicChannelUnban }

func (ChatMessage) isEvent()        {}
func (MessageDelete) isEvent()      {}
func (ClearUserMessages) isEvent()  {}
func (ChatClear) isEvent()          {}
func (ChatSettingsUpdate) isEvent() {}
func (ChannelBan) isEvent()         {}
func (ChannelUnban) isEvent()       {}

// decodeEvent turns a notification's event object into its typed Event
// according to the subscription type.
func decodeEvent(subscriptionType string, raw json.RawMessage) (Event, error) {
	switch subscriptionType {
	case TopicChatMessage:
		return decodeAs[ChatMessage](subscriptionType, raw)
	case TopicMessageDelete:
		return decodeAs[MessageDelete](subscriptionType, raw)
	case TopicClearUserMessages:
		return decodeAs[ClearUserMessages](subscriptionType, raw)
	case TopicChatClear:
		return decodeAs[ChatClear](subscriptionType, raw)
	case TopicChatSettingsUpdate:
		return decodeAs[ChatSettingsUpdate](subscriptionType, raw)
	case TopicChannelBan:
		return decodeAs[ChannelBan](subscriptionType, raw)
	case TopicChannelUnban:
		return decodeAs[ChannelUnban](subscriptionType, raw)
	default:
		return nil, &ProtocolError{MessageType: TypeNotification, Reason: "unknown subscription type " + subscriptionType}
	}
}

func decodeAs[T Event](subscriptionType string, raw json.RawMessage) (Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, &ProtocolError{MessageType: TypeNotification, Reason: "invalid " + subscriptionType + " event", Err: err}
	}
	return ev, nil
}
