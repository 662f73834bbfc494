// ABOUTME: Implements a single-line status bar for the bottom of the TUI showing build progress.
// ABOUTME: Displays the target project, session phase with a spinner, elapsed time, and pending attachments.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/buildpilot/session"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// StatusBarModel displays build status in a single line.
type StatusBarModel struct {
	project     string
	phase       session.Phase
	stopping    bool
	startTime   time.Time
	endTime     time.Time
	attachments int
	frame       int
	width       int
	now         func() time.Time
}

// NewStatusBarModel creates an idle StatusBarModel.
func NewStatusBarModel() StatusBarModel {
	return StatusBarModel{now: time.Now}
}

// Sync copies the fields the bar shows from st, starting the elapsed clock
// when a build begins and freezing it when the build ends.
func (m *StatusBarModel) Sync(st session.State) {
	if st.Phase.Active() && !m.phase.Active() {
		m.startTime = m.now()
		m.endTime = time.Time{}
	}
	if !st.Phase.Active() && m.phase.Active() {
		m.endTime = m.now()
	}
	m.project = st.Project
	m.phase = st.Phase
	m.stopping = st.Stopping
}

// SetAttachments sets the pending attachment count.
func (m *StatusBarModel) SetAttachments(n int) {
	m.attachments = n
}

// AdvanceSpinner moves the spinner one frame.
func (m *StatusBarModel) AdvanceSpinner() {
	m.frame = (m.frame + 1) % len(spinnerFrames)
}

// SetWidth sets the bar width for rendering.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// Elapsed returns the duration of the current or last build.
func (m StatusBarModel) Elapsed() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	if !m.endTime.IsZero() {
		return m.endTime.Sub(m.startTime)
	}
	return m.now().Sub(m.startTime)
}

// formatElapsed formats a duration as a human-readable string.
// Durations under a minute show as seconds (e.g. "12s").
// Durations of a minute or more show as minutes and seconds (e.g. "2m30s").
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View() string {
	project := m.project
	if project == "" {
		project = "none"
	}

	phase := m.phase.String()
	if m.phase.Active() {
		phase = spinnerFrames[m.frame] + " " + phase
	}
	if m.stopping {
		phase += " (stopping)"
	}
	phase = StyleForPhase(m.phase).Render(phase)

	parts := []string{
		"Project: " + project,
		phase,
		"Elapsed: " + formatElapsed(m.Elapsed()),
	}
	if m.attachments > 0 {
		parts = append(parts, fmt.Sprintf("%d attached", m.attachments))
	}
	parts = append(parts, "^S stop  ^R retry  ^P preview  tab projects")

	style := StatusBarStyle.Width(m.width)
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, style.Render(strings.Join(parts, " | ")))
}
