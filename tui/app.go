// ABOUTME: Top-level Bubble Tea AppModel that binds the build session controller to the terminal.
// ABOUTME: Implements tea.Model (Init, Update, View) and routes messages to sidebar, transcript, ask dialog, prompt, and status bar.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/buildpilot/project"
	"github.com/2389-research/buildpilot/session"
)

// FocusTarget indicates which panel currently has keyboard focus.
type FocusTarget int

const (
	FocusInput FocusTarget = iota
	FocusSidebar
	FocusTranscript
)

const (
	sidebarWidth = 30
	tickInterval = 100 * time.Millisecond
)

const helpText = "commands: /project <name>  /attach <file>  /detach  /stop  /retry  /preview  /refresh  /quit"

// AppModel is the top-level Bubble Tea model. It never mutates build state
// itself: every action goes through the controller and comes back as a
// StateMsg.
type AppModel struct {
	sidebar    SidebarModel
	transcript TranscriptPanelModel
	ask        AskDialogModel
	statusBar  StatusBarModel
	input      textinput.Model

	ctrl        Controller
	projects    ProjectLister
	preview     PreviewToggler
	attachments *session.Attachments
	ctx         context.Context

	state  session.State
	focus  FocusTarget
	notice string
	isErr  bool
	width  int
	height int
}

// AppOption configures an AppModel.
type AppOption func(*AppModel)

// WithProjects enables the project sidebar.
func WithProjects(l ProjectLister) AppOption {
	return func(m *AppModel) { m.projects = l }
}

// WithPreview enables the preview toggle.
func WithPreview(p PreviewToggler) AppOption {
	return func(m *AppModel) { m.preview = p }
}

// NewAppModel creates an AppModel bound to ctrl.
func NewAppModel(ctx context.Context, ctrl Controller, opts ...AppOption) AppModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Describe what to build..."
	ti.Focus()

	m := AppModel{
		sidebar:     NewSidebarModel(),
		transcript:  NewTranscriptPanelModel(),
		ask:         NewAskDialogModel(),
		statusBar:   NewStatusBarModel(),
		input:       ti,
		ctrl:        ctrl,
		attachments: &session.Attachments{},
		ctx:         ctx,
		focus:       FocusInput,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.applyState(ctrl.State())
	return m
}

// Init implements tea.Model. Starts the tick loop and the first registry refresh.
func (m AppModel) Init() tea.Cmd {
	cmds := []tea.Cmd{TickCmd(tickInterval), textinput.Blink}
	if m.projects != nil {
		cmds = append(cmds, RefreshProjectsCmd(m.ctx, m.projects))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StateMsg:
		return m.handleState(msg)

	case TickMsg:
		if m.state.Phase.Active() {
			m.statusBar.AdvanceSpinner()
		}
		return m, TickCmd(tickInterval)

	case ProjectsMsg:
		m.sidebar.SetProjects(msg)
		if msg.Err != nil {
			m.setError(msg.Err)
		}
		return m, nil

	case SelectedMsg:
		if msg.Err != nil {
			m.setError(msg.Err)
			return m, nil
		}
		m.sidebar.SetSelected(msg.Name)
		m.setNotice("Building into " + msg.Name)
		return m, nil

	case PreviewMsg:
		return m.handlePreview(msg)

	case ActionResultMsg:
		return m.handleActionResult(msg)

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	return m, nil
}

// View implements tea.Model.
func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 60 || m.height < 12 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 60x12.", m.width, m.height)
	}

	mainWidth := m.width - sidebarWidth

	var bottom string
	if m.ask.IsActive() {
		m.ask.SetWidth(mainWidth)
		bottom = m.ask.View()
	} else {
		bottom = m.promptView(mainWidth)
	}

	noticeView := IdleStyle.Render(m.notice)
	if m.isErr {
		noticeView = ErrorStyle.Render(m.notice)
	}

	panelHeight := m.height - 2 - lipgloss.Height(bottom)
	if panelHeight < 3 {
		panelHeight = 3
	}

	m.sidebar.SetSize(sidebarWidth, panelHeight+lipgloss.Height(bottom))
	m.transcript.SetSize(mainWidth, panelHeight)
	m.statusBar.SetWidth(m.width)

	right := lipgloss.JoinVertical(lipgloss.Left, m.transcript.View(), bottom)
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar.View(), right)

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(noticeView)
	b.WriteString("\n")
	b.WriteString(m.statusBar.View())
	return b.String()
}

func (m AppModel) promptView(width int) string {
	in := m.input
	switch {
	case !m.state.InteractionAllowed && m.state.Stopping:
		in.Placeholder = "Stopping..."
	case !m.state.InteractionAllowed:
		in.Placeholder = "Build running (^S to stop)"
	case m.state.Project == "":
		in.Placeholder = "Pick a project (tab) or type /project <name>"
	case m.state.Phase == session.PhaseFailed:
		in.Placeholder = "Describe what to build, or ^R to retry"
	}
	in.Width = width - 6
	style := BorderStyle
	if m.focus == FocusInput {
		style = FocusedBorderStyle
	}
	return style.Width(width - 2).Render(in.View())
}

// applyState mirrors st into every sub-panel. Snapshots published out of
// order are dropped by revision.
func (m *AppModel) applyState(st session.State) bool {
	if st.Rev < m.state.Rev {
		return false
	}
	m.state = st
	m.sidebar.SetSelected(st.Project)
	m.transcript.Sync(st)
	m.ask.Sync(st)
	m.statusBar.Sync(st)
	return true
}

// handleState applies a controller snapshot. A build ending refreshes the
// sidebar since the backend may have created a project.
func (m AppModel) handleState(msg StateMsg) (tea.Model, tea.Cmd) {
	wasActive := m.state.Phase.Active()
	if !m.applyState(msg.State) {
		return m, nil
	}
	if wasActive && msg.State.Phase.Terminal() && m.projects != nil {
		return m, RefreshProjectsCmd(m.ctx, m.projects)
	}
	return m, nil
}

func (m AppModel) handlePreview(msg PreviewMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		m.setError(msg.Err)
		return m, nil
	}
	if msg.State == project.PreviewRunning {
		m.sidebar.SetRunning(msg.Project)
		switch {
		case msg.Result.Static:
			m.setNotice(orText(msg.Result.Message, msg.Project+" is a static project"))
		default:
			m.setNotice(fmt.Sprintf("Preview of %s at %s", msg.Project, msg.Result.URL))
		}
		return m, nil
	}
	m.sidebar.SetRunning("")
	m.setNotice("Preview stopped")
	return m, nil
}

func (m AppModel) handleActionResult(msg ActionResultMsg) (tea.Model, tea.Cmd) {
	if msg.Err == nil {
		if msg.Action == "stop" {
			m.setNotice("Stop requested")
		}
		return m, nil
	}
	if msg.Action == "answer" {
		m.ask.Rejected()
	}
	m.setError(msg.Err)
	return m, nil
}

// handleKeyMsg processes keyboard input, routing to the focused panel or app-level shortcuts.
func (m AppModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.setFocus(m.nextFocus())
		return m, nil
	case "esc":
		m.setFocus(FocusInput)
		return m, nil
	case "ctrl+s":
		return m, m.stop()
	case "ctrl+r":
		return m, m.retry()
	case "ctrl+p":
		return m, m.togglePreview()
	case "ctrl+l":
		return m, m.refresh()
	}

	switch m.focus {
	case FocusSidebar:
		return m.handleSidebarKey(msg)
	case FocusTranscript:
		m.transcript = m.transcript.Update(msg)
		return m, nil
	}

	// Answer field takes precedence while a question is pending.
	if m.ask.AcceptsInput() {
		if msg.Type == tea.KeyEnter {
			return m, AnswerCmd(m.ctx, m.ctrl, m.ask.Take())
		}
		m.ask = m.ask.Update(msg)
		return m, nil
	}

	if msg.Type == tea.KeyEnter {
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		if strings.HasPrefix(text, "/") {
			m.input.Reset()
			return m.runCommand(text)
		}
		cmd := m.submit(text)
		if cmd != nil {
			m.input.Reset()
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m AppModel) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.sidebar.MoveUp()
	case "down", "j":
		m.sidebar.MoveDown()
	case "enter":
		p, ok := m.sidebar.Current()
		if !ok {
			return m, nil
		}
		if !m.state.InteractionAllowed {
			m.setError(session.ErrBuildInProgress)
			return m, nil
		}
		m.setFocus(FocusInput)
		return m, SelectProjectCmd(m.ctx, m.ctrl, p.Name)
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

// runCommand handles a slash command typed into the prompt.
func (m AppModel) runCommand(text string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "project", "p":
		if arg == "" {
			m.setError(errors.New("usage: /project <name>"))
			return m, nil
		}
		return m, SelectProjectCmd(m.ctx, m.ctrl, arg)
	case "attach", "a":
		if arg == "" {
			m.setError(errors.New("usage: /attach <file>"))
			return m, nil
		}
		att, err := m.attachments.AddFile(arg)
		if err != nil {
			m.setError(err)
			return m, nil
		}
		m.statusBar.SetAttachments(m.attachments.Len())
		m.setNotice(fmt.Sprintf("Attached %s (%s)", att.Name, att.MediaType))
	case "detach":
		m.attachments.Take()
		m.statusBar.SetAttachments(0)
		m.setNotice("Attachments cleared")
	case "stop":
		return m, m.stop()
	case "retry":
		return m, m.retry()
	case "preview":
		return m, m.togglePreview()
	case "refresh":
		return m, m.refresh()
	case "quit", "q":
		return m, tea.Quit
	case "help", "?":
		m.setNotice(helpText)
	default:
		m.setError(fmt.Errorf("unknown command /%s (try /help)", name))
	}
	return m, nil
}

// submit starts a build with the pending attachments. Preconditions are
// checked first so attachments are not consumed by a refused submission.
func (m *AppModel) submit(prompt string) tea.Cmd {
	switch {
	case !m.state.InteractionAllowed:
		m.setError(session.ErrBuildInProgress)
		return nil
	case m.state.Project == "":
		m.setError(session.ErrNoProject)
		return nil
	}
	atts := m.attachments.Take()
	m.statusBar.SetAttachments(0)
	m.setNotice("")
	return SubmitCmd(m.ctx, m.ctrl, prompt, atts)
}

func (m *AppModel) stop() tea.Cmd {
	if !m.state.StopAllowed {
		return nil
	}
	return StopCmd(m.ctx, m.ctrl)
}

func (m *AppModel) retry() tea.Cmd {
	if m.state.Phase != session.PhaseFailed || !m.state.InteractionAllowed {
		m.setError(session.ErrRetryNotAllowed)
		return nil
	}
	return RetryCmd(m.ctx, m.ctrl)
}

func (m *AppModel) togglePreview() tea.Cmd {
	if m.preview == nil {
		return nil
	}
	if m.state.Project == "" {
		m.setError(session.ErrNoProject)
		return nil
	}
	return TogglePreviewCmd(m.ctx, m.preview, m.state.Project)
}

func (m *AppModel) refresh() tea.Cmd {
	if m.projects == nil {
		return nil
	}
	return RefreshProjectsCmd(m.ctx, m.projects)
}

func (m *AppModel) setFocus(f FocusTarget) {
	m.focus = f
	m.sidebar.SetFocused(f == FocusSidebar)
	m.transcript.SetFocused(f == FocusTranscript)
	if f == FocusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

// nextFocus cycles input, sidebar, transcript.
func (m AppModel) nextFocus() FocusTarget {
	switch m.focus {
	case FocusInput:
		if m.projects != nil {
			return FocusSidebar
		}
		return FocusTranscript
	case FocusSidebar:
		return FocusTranscript
	default:
		return FocusInput
	}
}

func (m *AppModel) setNotice(s string) {
	m.notice, m.isErr = s, false
}

func (m *AppModel) setError(err error) {
	m.notice, m.isErr = err.Error(), true
}

func orText(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
