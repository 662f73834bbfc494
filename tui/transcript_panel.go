// ABOUTME: Implements a scrollable build transcript panel using the bubbles viewport component.
// ABOUTME: Shows the project's earlier builds, the current prompt, streamed log lines, and the outcome.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/session"
)

// TranscriptPanelModel renders controller state as a scrolling transcript.
type TranscriptPanelModel struct {
	viewport viewport.Model
	rev      uint64
	empty    bool
	focused  bool
	width    int
	height   int
	lines    []string
}

// NewTranscriptPanelModel creates an empty transcript panel.
func NewTranscriptPanelModel() TranscriptPanelModel {
	return TranscriptPanelModel{viewport: viewport.New(80, 10), empty: true}
}

// Sync rebuilds the transcript from st when its revision changed. The view
// follows the tail unless the user scrolled up.
func (m *TranscriptPanelModel) Sync(st session.State) {
	if st.Rev != 0 && st.Rev == m.rev {
		return
	}
	m.rev = st.Rev
	m.lines = transcriptLines(st)
	m.empty = len(m.lines) == 0
	m.syncViewport()
}

// Lines returns the unstyled transcript.
func (m TranscriptPanelModel) Lines() []string {
	return m.lines
}

// SetFocused sets whether this panel accepts scroll keys.
func (m *TranscriptPanelModel) SetFocused(focused bool) {
	m.focused = focused
}

// SetSize sets the available dimensions and updates the viewport.
func (m *TranscriptPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	// Reserve space for the border (2 lines top/bottom) and title (1 line)
	vpWidth := w - 2
	vpHeight := h - 3
	if vpWidth < 1 {
		vpWidth = 1
	}
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = vpHeight
	m.syncViewport()
}

// Update forwards scroll keys to the viewport.
func (m TranscriptPanelModel) Update(msg tea.Msg) TranscriptPanelModel {
	m.viewport, _ = m.viewport.Update(msg)
	return m
}

// View renders the transcript panel.
func (m TranscriptPanelModel) View() string {
	content := "No builds yet. Type a prompt and press enter."
	if !m.empty {
		content = m.viewport.View()
	}
	style := BorderStyle
	if m.focused {
		style = FocusedBorderStyle
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(TitleStyle.Render("TRANSCRIPT") + "\n" + content)
}

func (m *TranscriptPanelModel) syncViewport() {
	follow := m.viewport.AtBottom()
	styled := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		styled = append(styled, styleLine(l))
	}
	m.viewport.SetContent(strings.Join(styled, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

// Line prefixes used to pick a style when rendering.
const (
	historyPrefix = "  | "
	promptPrefix  = "> "
	warnPrefix    = "! "
	outcomePrefix = "= "
)

// transcriptLines flattens st into display lines, oldest first.
func transcriptLines(st session.State) []string {
	var lines []string
	for i, e := range st.History {
		lines = append(lines, fmt.Sprintf("%sbuild %d (%s): %s", historyPrefix, i+1, e.Outcome, firstLine(e.Prompt)))
	}
	if len(st.Snapshots) > 0 {
		lines = append(lines, fmt.Sprintf("%s%d snapshot(s), newest %s", historyPrefix,
			len(st.Snapshots), st.Snapshots[0].Time().Local().Format("Jan 2 15:04")))
	}
	if st.Prompt == "" {
		return lines
	}
	if len(lines) > 0 {
		lines = append(lines, "")
	}
	lines = append(lines, promptPrefix+firstLine(st.Prompt))
	if st.Warning != "" {
		lines = append(lines, warnPrefix+st.Warning)
	}
	lines = append(lines, st.Transcript...)
	if st.Phase.Terminal() && st.Message != "" {
		lines = append(lines, outcomePrefix+outcomeLabel(st.Outcome)+": "+st.Message)
	}
	return lines
}

func styleLine(l string) string {
	switch {
	case strings.HasPrefix(l, historyPrefix):
		return HistoryStyle.Render(l)
	case strings.HasPrefix(l, promptPrefix):
		return PromptStyle.Render(l)
	case strings.HasPrefix(l, warnPrefix):
		return WarningStyle.Render(l)
	case strings.HasPrefix(l, outcomePrefix+outcomeLabel(backend.OutcomeSuccess)):
		return CompletedStyle.Render(l)
	case strings.HasPrefix(l, outcomePrefix+outcomeLabel(backend.OutcomeError)):
		return FailedStyle.Render(l)
	case strings.HasPrefix(l, outcomePrefix):
		return StoppedStyle.Render(l)
	default:
		return LogLineStyle.Render(l)
	}
}

func outcomeLabel(o backend.Outcome) string {
	switch o {
	case backend.OutcomeSuccess:
		return "done"
	case backend.OutcomeError:
		return "failed"
	case backend.OutcomeStopped:
		return "stopped"
	default:
		return "ended"
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
