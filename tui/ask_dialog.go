// ABOUTME: AskDialogModel renders the backend's mid-build question with a live countdown and an answer input.
// ABOUTME: The dialog mirrors controller state; submission goes through the controller, never directly to the backend.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/buildpilot/session"
)

// AskDialogModel shows the pending question. It is visible while a question
// is pending and, after the answer window closes, until the next build
// starts, so the user can see it expired.
type AskDialogModel struct {
	textInput textinput.Model
	question  string
	countdown string
	urgent    bool
	pending   bool
	expired   bool
	sending   bool
	width     int
}

// NewAskDialogModel creates an inactive dialog.
func NewAskDialogModel() AskDialogModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type your answer..."
	return AskDialogModel{textInput: ti}
}

// Sync mirrors the question fields of st. A newly pending question clears
// and focuses the input.
func (m *AskDialogModel) Sync(st session.State) {
	wasPending := m.pending
	m.pending = st.AskPending
	m.expired = st.AskExpired
	m.question = st.Question
	m.countdown = st.Countdown
	m.urgent = st.Urgent

	switch {
	case m.pending && !wasPending:
		m.textInput.Reset()
		m.textInput.Focus()
		m.sending = false
	case !m.pending:
		m.textInput.Blur()
		m.sending = false
	}
}

// IsActive returns whether the dialog is visible.
func (m AskDialogModel) IsActive() bool {
	return m.pending || m.expired
}

// AcceptsInput returns whether keys should go to the answer field.
func (m AskDialogModel) AcceptsInput() bool {
	return m.pending && !m.sending
}

// Take returns the typed answer and marks it in flight. The input is kept
// so a rejected answer can be corrected.
func (m *AskDialogModel) Take() string {
	m.sending = true
	return m.textInput.Value()
}

// Rejected re-enables the input after an answer was refused.
func (m *AskDialogModel) Rejected() {
	m.sending = false
}

// SetWidth sets the dialog width.
func (m *AskDialogModel) SetWidth(w int) {
	m.width = w
	m.textInput.Width = w - 8
}

// Update forwards key events to the embedded textinput.
func (m AskDialogModel) Update(msg tea.Msg) AskDialogModel {
	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	_ = cmd // textinput cmds (cursor blink) are ignored in sub-model updates
	return m
}

// View renders the dialog. Returns an empty string when inactive.
func (m AskDialogModel) View() string {
	if !m.IsActive() {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[?] %s\n", m.question)

	switch {
	case m.expired:
		b.WriteString(UrgentStyle.Render("Time's up. No answer was sent."))
	case m.sending:
		b.WriteString(CountdownStyle.Render("Sending answer..."))
	default:
		style := CountdownStyle
		if m.urgent {
			style = UrgentStyle
		}
		b.WriteString(style.Render("Time left: " + m.countdown))
		b.WriteString("\n")
		b.WriteString(m.textInput.View())
	}

	style := AskDialogStyle
	if m.width > 4 {
		style = style.Width(m.width - 2)
	}
	return style.Render(b.String())
}
