package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Event log lines
	TimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "244"})
	TypeStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	TitleStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "0", Dark: "15"})
	MessageStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "250"})

	// Priority badges
	HighPriorityStyle   = lipgloss.NewStyle().Bold(true).Background(lipgloss.Color("196")).Foreground(lipgloss.Color("255")).Padding(0, 1)
	MediumPriorityStyle = lipgloss.NewStyle().Background(lipgloss.Color("28")).Foreground(lipgloss.Color("255")).Padding(0, 1)
	LowPriorityStyle    = lipgloss.NewStyle().Background(lipgloss.Color("235")).Foreground(lipgloss.Color("250")).Padding(0, 1)

	// Status bar
	StatusBarStyle      = lipgloss.NewStyle().Background(lipgloss.Color("235")).Foreground(lipgloss.Color("250")).Padding(0, 1)
	StatusBarAlertStyle = lipgloss.NewStyle().Background(lipgloss.Color("196")).Foreground(lipgloss.Color("255")).Padding(0, 1)
)
