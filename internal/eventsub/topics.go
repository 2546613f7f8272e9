package eventsub

const (
	TopicChatMessage        = "channel.chat.message"
	TopicMessageDelete      = "channel.chat.message_delete"
	TopicClearUserMessages  = "channel.chat.clear_user_messages"
	TopicChatClear          = "channel.chat.clear"
	TopicChatSettingsUpdate = "channel.chat_settings.update"
	TopicChannelBan         = "channel.ban"
	TopicChannelUnban       = "channel.unban"
)

const (
	scopeReadChat   = "user:read:chat"
	scopeModeration = "channel:moderate or moderator:read:banned_users"
)

// Topic is one EventSub subscription type the client registers.
type Topic struct {
	Type    string
	Version string
	// Name is the human readable label used in operator warnings.
	Name  string
	Scope string
	// RequiresUser topics are conditioned on the bot user as well as the
	// broadcaster.
	RequiresUser bool
}

// Condition builds the subscription condition for this topic.
func (t Topic) Condition(broadcasterID, userID string) map[string]string {
	cond := map[string]string{"broadcaster_user_id": broadcasterID}
	if t.RequiresUser {
		cond["user_id"] = userID
	}
	return cond
}

// Topics is the fixed set of chat topics, in registration order.
var Topics = []Topic{
	{Type: TopicChatMessage, Version: "1", Name: "chat messages", Scope: scopeReadChat, RequiresUser: true},
	{Type: TopicMessageDelete, Version: "1", Name: "message deletions", Scope: scopeReadChat, RequiresUser: true},
	{Type: TopicClearUserMessages, Version: "1", Name: "user message clears", Scope: scopeReadChat, RequiresUser: true},
	{Type: TopicChatClear, Version: "1", Name: "chat clear", Scope: scopeReadChat, RequiresUser: true},
	{Type: TopicChatSettingsUpdate, Version: "1", Name: "chat settings updates", Scope: scopeReadChat, RequiresUser: true},
	{Type: TopicChannelBan, Version: "1", Name: "channel bans", Scope: scopeModeration},
	{Type: TopicChannelUnban, Version: "1", Name: "channel unbans", Scope: scopeModeration},
}
