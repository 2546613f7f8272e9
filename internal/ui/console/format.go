package console

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"yambot/internal/chatclient"
	"yambot/internal/eventsub"
)

// sanitize removes terminal escape sequences and control characters from
// text that came from chat.
func sanitize(text string) string {
	text = ansi.Strip(text)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, text)
}

// FormatEvent renders one chat event as a single line.
func FormatEvent(ev eventsub.Event, now time.Time) string {
	stamp := TimeStyle.Render(now.Format("15:04:05"))
	switch e := ev.(type) {
	case eventsub.ChatMessage:
		name := sanitize(e.ChatterUserName)
		if name == "" {
			name = sanitize(e.ChatterUserLogin)
		}
		style := ChatterStyle
		if e.HasBadge("moderator") || e.HasBadge("broadcaster") {
			style = ModeratorStyle
		}
		line := fmt.Sprintf("%s %s: %s", stamp, style.Render(name), sanitize(e.Message.Text))
		if e.Reply != nil {
			line += HelpStyle.Render(fmt.Sprintf("  (reply to %s)", sanitize(e.Reply.ParentUserLogin)))
		}
		return line + HelpStyle.Render("  ["+e.MessageID+"]")
	case eventsub.MessageDelete:
		return notice(stamp, "message from %s deleted [%s]", sanitize(e.TargetUserLogin), e.MessageID)
	case eventsub.ClearUserMessages:
		return notice(stamp, "messages from %s cleared", sanitize(e.TargetUserLogin))
	case eventsub.ChatClear:
		return notice(stamp, "chat cleared")
	case eventsub.ChatSettingsUpdate:
		return notice(stamp, "chat settings changed: %s", describeSettings(e))
	case eventsub.ChannelBan:
		if e.IsPermanent {
			return notice(stamp, "%s banned by %s: %s", sanitize(e.UserLogin), sanitize(e.ModeratorUserLogin), reasonOrNone(e.Reason))
		}
		until := "unknown"
		if e.EndsAt != nil {
			until = e.EndsAt.Sub(e.BannedAt).Round(time.Second).String()
		}
		return notice(stamp, "%s timed out for %s by %s: %s", sanitize(e.UserLogin), until, sanitize(e.ModeratorUserLogin), reasonOrNone(e.Reason))
	case eventsub.ChannelUnban:
		return notice(stamp, "%s unbanned by %s", sanitize(e.UserLogin), sanitize(e.ModeratorUserLogin))
	default:
		return notice(stamp, "%s event", ev.SubscriptionType())
	}
}

func notice(stamp, format string, args ...any) string {
	return stamp + " " + NoticeStyle.Render("* "+fmt.Sprintf(format, args...))
}

func reasonOrNone(reason string) string {
	if reason = strings.TrimSpace(sanitize(reason)); reason != "" {
		return reason
	}
	return "no reason given"
}

func describeSettings(e eventsub.ChatSettingsUpdate) string {
	var modes []string
	if e.SlowMode {
		wait := "on"
		if e.SlowModeWaitTimeSeconds != nil {
			wait = fmt.Sprintf("%ds", *e.SlowModeWaitTimeSeconds)
		}
		modes = append(modes, "slow "+wait)
	}
	if e.FollowerMode {
		modes = append(modes, "followers only")
	}
	if e.SubscriberMode {
		modes = append(modes, "subscribers only")
	}
	if e.EmoteMode {
		modes = append(modes, "emote only")
	}
	if e.UniqueChatMode {
		modes = append(modes, "unique chat")
	}
	if len(modes) == 0 {
		return "all modes off"
	}
	return strings.Join(modes, ", ")
}

// FormatSignal renders a client signal for the operator.
func FormatSignal(sig chatclient.Signal) string {
	var style lipgloss.Style
	switch sig.Kind {
	case chatclient.SignalConnected:
		style = OKStyle
	case chatclient.SignalError:
		style = ErrorStyle
	case chatclient.SignalDisconnected, chatclient.SignalWarning:
		style = NoticeStyle
	default:
		style = HelpStyle
	}
	text := sig.Text
	if sig.Kind == chatclient.SignalError && errors.Is(sig.Err, chatclient.ErrReconnectExhausted) {
		text += " (giving up)"
	}
	return style.Render("== " + text)
}
