package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"yambot/internal/helix"
)

type CommandKind int

const (
	CommandSay CommandKind = iota + 1
	CommandReply
	CommandDelete
	CommandBan
	CommandTimeout
	CommandUnban
	CommandSettings
	CommandSlow
	CommandStatus
	CommandHelp
	CommandQuit
)

// Command is one parsed operator input line.
type Command struct {
	Kind CommandKind
	// Target is a message ID for reply/delete and a login for moderation.
	Target   string
	Text     string
	Duration time.Duration
}

var ErrUnknownCommand = errors.New("unknown command")

const helpText = `commands:
  <text>                      send a chat message
  /reply <message-id> <text>  reply to a message
  /delete <message-id>        delete a message
  /ban <login> [reason]       ban a user
  /timeout <login> <dur> [reason]  time a user out (e.g. 10m)
  /unban <login>              lift a ban or timeout
  /settings                   show chat settings
  /slow <dur>|off             set slow mode
  /status                     show connection state
  /quit                       disconnect and exit`

// ParseCommand parses one input line. Lines not starting with "/" are chat
// messages; "//" escapes a leading slash.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, errors.New("empty input")
	}
	if strings.HasPrefix(line, "//") {
		return Command{Kind: CommandSay, Text: line[1:]}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Command{Kind: CommandSay, Text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "say":
		if rest == "" {
			return Command{}, errors.New("usage: /say <text>")
		}
		return Command{Kind: CommandSay, Text: rest}, nil
	case "reply":
		id, text, _ := strings.Cut(rest, " ")
		if id == "" || strings.TrimSpace(text) == "" {
			return Command{}, errors.New("usage: /reply <message-id> <text>")
		}
		return Command{Kind: CommandReply, Target: id, Text: strings.TrimSpace(text)}, nil
	case "delete":
		if rest == "" {
			return Command{}, errors.New("usage: /delete <message-id>")
		}
		return Command{Kind: CommandDelete, Target: rest}, nil
	case "ban":
		login, reason, _ := strings.Cut(rest, " ")
		if login == "" {
			return Command{}, errors.New("usage: /ban <login> [reason]")
		}
		return Command{Kind: CommandBan, Target: login, Text: strings.TrimSpace(reason)}, nil
	case "timeout":
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) < 2 || fields[0] == "" {
			return Command{}, errors.New("usage: /timeout <login> <duration> [reason]")
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return Command{}, fmt.Errorf("invalid timeout duration %q", fields[1])
		}
		cmd := Command{Kind: CommandTimeout, Target: fields[0], Duration: d}
		if len(fields) == 3 {
			cmd.Text = strings.TrimSpace(fields[2])
		}
		return cmd, nil
	case "unban":
		if rest == "" {
			return Command{}, errors.New("usage: /unban <login>")
		}
		return Command{Kind: CommandUnban, Target: rest}, nil
	case "settings":
		return Command{Kind: CommandSettings}, nil
	case "slow":
		if rest == "" {
			return Command{}, errors.New("usage: /slow <duration>|off")
		}
		if strings.EqualFold(rest, "off") {
			return Command{Kind: CommandSlow}, nil
		}
		d, err := time.ParseDuration(rest)
		if err != nil || d < 0 {
			return Command{}, fmt.Errorf("invalid slow mode duration %q", rest)
		}
		return Command{Kind: CommandSlow, Duration: d}, nil
	case "status":
		return Command{Kind: CommandStatus}, nil
	case "help", "?":
		return Command{Kind: CommandHelp}, nil
	case "quit", "exit":
		return Command{Kind: CommandQuit}, nil
	default:
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	}
}

// Chat is the part of the chat client the console drives.
type Chat interface {
	SendMessage(ctx context.Context, text string) (helix.SentMessage, error)
	ReplyToMessage(ctx context.Context, parentMessageID, text string) (helix.SentMessage, error)
	DeleteMessage(ctx context.Context, messageID string) error
	BanUser(ctx context.Context, userID, reason string) error
	TimeoutUser(ctx context.Context, userID string, duration time.Duration, reason string) error
	UnbanUser(ctx context.Context, userID string) error
	ChatSettings(ctx context.Context) (helix.ChatSettings, error)
	SetSlowMode(ctx context.Context, wait time.Duration) (helix.ChatSettings, error)
	LookupUser(ctx context.Context, login string) (helix.User, error)
}

// Execute runs cmd against chat and returns the confirmation line to show.
// Status, help and quit are handled by the caller.
func Execute(ctx context.Context, chat Chat, cmd Command) (string, error) {
	switch cmd.Kind {
	case CommandSay:
		if _, err := chat.SendMessage(ctx, cmd.Text); err != nil {
			return "", err
		}
		return "", nil
	case CommandReply:
		if _, err := chat.ReplyToMessage(ctx, cmd.Target, cmd.Text); err != nil {
			return "", err
		}
		return "", nil
	case CommandDelete:
		if err := chat.DeleteMessage(ctx, cmd.Target); err != nil {
			return "", err
		}
		return "deleted message " + cmd.Target, nil
	case CommandBan, CommandTimeout, CommandUnban:
		user, err := chat.LookupUser(ctx, cmd.Target)
		if err != nil {
			return "", err
		}
		switch cmd.Kind {
		case CommandBan:
			if err := chat.BanUser(ctx, user.ID, cmd.Text); err != nil {
				return "", err
			}
			return "banned " + user.Login, nil
		case CommandTimeout:
			if err := chat.TimeoutUser(ctx, user.ID, cmd.Duration, cmd.Text); err != nil {
				return "", err
			}
			return fmt.Sprintf("timed out %s for %s", user.Login, cmd.Duration), nil
		default:
			if err := chat.UnbanUser(ctx, user.ID); err != nil {
				return "", err
			}
			return "unbanned " + user.Login, nil
		}
	case CommandSettings:
		settings, err := chat.ChatSettings(ctx)
		if err != nil {
			return "", err
		}
		return describeHelixSettings(settings), nil
	case CommandSlow:
		settings, err := chat.SetSlowMode(ctx, cmd.Duration)
		if err != nil {
			return "", err
		}
		return describeHelixSettings(settings), nil
	default:
		return "", fmt.Errorf("command %d cannot be executed", cmd.Kind)
	}
}

func describeHelixSettings(s helix.ChatSettings) string {
	slow := "off"
	if s.SlowMode {
		slow = "on"
		if s.SlowModeWaitTime != nil {
			slow = fmt.Sprintf("%ds", *s.SlowModeWaitTime)
		}
	}
	return fmt.Sprintf("slow=%s followers=%t subscribers=%t emotes=%t unique=%t",
		slow, s.FollowerMode, s.SubscriberMode, s.EmoteMode, s.UniqueChatMode)
}
