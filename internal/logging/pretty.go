package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	colorProfileOnce sync.Once

	timeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	messageStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	sepStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	blockStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("245")).
			Padding(0, 1)
)

func shouldPrettyPrint() bool {
	term := strings.TrimSpace(os.Getenv("TERM"))
	if term == "" || term == "dumb" {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}

func ensureColorProfile() {
	colorProfileOnce.Do(func() {
		lipgloss.SetColorProfile(termenv.EnvColorProfile())
	})
}

// FormatEventANSI renders event with terminal colors: a header line with
// the level badge, inline scalar fields, and boxed JSON blocks.
func FormatEventANSI(event Event) string {
	ensureColorProfile()
	label, badge := levelBadge(event.Level)
	line := lipgloss.JoinHorizontal(lipgloss.Center,
		timeStyle.Render(event.Time.Format("15:04:05.000")),
		" ",
		badge.Render(label),
		" ",
		messageStyle.Render(event.Message),
	)

	var inline []string
	var blocks []string
	for _, key := range orderedFieldKeys(event.Fields) {
		value := event.Fields[key]
		if pretty, ok := prettyJSONString(value); ok {
			blocks = append(blocks, keyStyle.Render(key)+sepStyle.Render("=")+"\n"+blockStyle.Render(pretty))
			continue
		}
		inline = append(inline, keyStyle.Render(key)+sepStyle.Render("=")+valueStyle.Render(formatFieldValue(value)))
	}
	if len(inline) > 0 {
		line += "  " + strings.Join(inline, " ")
	}
	for _, block := range blocks {
		line += "\n  " + block
	}
	return line + "\n"
}

func levelBadge(level slog.Level) (string, lipgloss.Style) {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch {
	case level <= slog.LevelDebug:
		return "DEBUG", base.Foreground(lipgloss.Color("255")).Background(lipgloss.Color("240"))
	case level <= slog.LevelInfo:
		return "INFO", base.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("31"))
	case level <= slog.LevelWarn:
		return "WARN", base.Foreground(lipgloss.Color("234")).Background(lipgloss.Color("214"))
	default:
		return "ERROR", base.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160"))
	}
}
