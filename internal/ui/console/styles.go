package console

import "github.com/charmbracelet/lipgloss"

var (
	TimeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	ChatterStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	ModeratorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	NoticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	ErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	OKStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	HelpStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)
