// ABOUTME: Defines lipgloss style constants for the TUI layout panels, phase colors, and transcript formatting.
// ABOUTME: Provides StyleForPhase to map session phases to their corresponding display styles.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/buildpilot/session"
)

var (
	// Panel borders
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))
	FocusedBorderStyle = BorderStyle.
				BorderForeground(lipgloss.Color("170"))

	// Title styling
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Phase colors
	IdleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	RunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	CompletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	StoppedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	// Transcript colors
	PromptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	LogLineStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	HistoryStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	WarningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	ErrorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	SelectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	PreviewStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	// Ask dialog
	AskDialogStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)
	CountdownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	UrgentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// StyleForPhase returns the appropriate lipgloss style for a session phase.
func StyleForPhase(phase session.Phase) lipgloss.Style {
	switch phase {
	case session.PhaseSubmitting, session.PhaseStreaming, session.PhaseAwaitingAnswer:
		return RunningStyle
	case session.PhaseCompleted:
		return CompletedStyle
	case session.PhaseFailed:
		return FailedStyle
	case session.PhaseStopped:
		return StoppedStyle
	default:
		return IdleStyle
	}
}
