// ABOUTME: Tests for the top-level AppModel bound to the build session controller.
// ABOUTME: Covers state mirroring, prompt submission, answering, stop/retry gating, slash commands, sidebar, preview, and view rendering.
package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389-research/buildpilot/project"
	"github.com/2389-research/buildpilot/session"
)

func testApp(st session.State, opts ...AppOption) (AppModel, *fakeController) {
	fc := newFakeController(st)
	return NewAppModel(context.Background(), fc, opts...), fc
}

func TestNewAppModelMirrorsControllerState(t *testing.T) {
	m, _ := testApp(idleState("space_quiz"))
	assert.Equal(t, "space_quiz", m.state.Project)
	assert.Equal(t, FocusInput, m.focus)
	assert.True(t, m.input.Focused())
	assert.False(t, m.ask.IsActive())
}

func TestInitRefreshesProjectsWhenListerSet(t *testing.T) {
	m, _ := testApp(idleState(""))
	assert.NotNil(t, m.Init())
	m, _ = testApp(idleState(""), WithProjects(&fakeLister{}))
	assert.NotNil(t, m.Init())
}

func TestOutOfOrderStateIsDropped(t *testing.T) {
	m, _ := testApp(idleState("quiz"))
	m, _ = step(m, StateMsg{State: session.State{Rev: 5, Phase: session.PhaseStreaming, Project: "quiz", Prompt: "go"}})
	m, _ = step(m, StateMsg{State: session.State{Rev: 4, Phase: session.PhaseSubmitting, Project: "quiz", Prompt: "go"}})
	assert.Equal(t, session.PhaseStreaming, m.state.Phase)
	assert.Equal(t, uint64(5), m.state.Rev)
}

func TestEnterSubmitsPromptWithAttachments(t *testing.T) {
	m, fc := testApp(idleState("quiz"))
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember the timer"), 0o644))

	m.input.SetValue("/attach " + path)
	m, _ = step(m, key(tea.KeyEnter))
	assert.Equal(t, 1, m.attachments.Len())
	assert.Contains(t, m.notice, "notes.txt")

	m.input.SetValue("  add a timer  ")
	m, msg := run(m, key(tea.KeyEnter))
	require.Equal(t, ActionResultMsg{Action: "submit"}, msg)

	assert.Equal(t, []string{"add a timer"}, fc.submitted)
	require.Len(t, fc.attachments[0], 1)
	assert.Equal(t, "notes.txt", fc.attachments[0][0].Name)
	assert.Equal(t, 0, m.attachments.Len(), "attachments go out with exactly one build")
	assert.Empty(t, m.input.Value())
}

func TestSubmitRefusedWhileBuilding(t *testing.T) {
	st := session.State{Rev: 2, Phase: session.PhaseStreaming, Project: "quiz", StopAllowed: true}
	m, fc := testApp(st)
	m.input.SetValue("another")
	m, cmd := step(m, key(tea.KeyEnter))
	assert.Nil(t, cmd)
	assert.Empty(t, fc.submitted)
	assert.True(t, m.isErr)
	assert.Equal(t, "another", m.input.Value(), "refused prompt is kept")
}

func TestSubmitNeedsProject(t *testing.T) {
	m, fc := testApp(idleState(""))
	m.input.SetValue("build me a thing")
	m, cmd := step(m, key(tea.KeyEnter))
	assert.Nil(t, cmd)
	assert.Empty(t, fc.submitted)
	assert.Equal(t, session.ErrNoProject.Error(), m.notice)
}

func TestEmptyPromptDoesNothing(t *testing.T) {
	m, fc := testApp(idleState("quiz"))
	m.input.SetValue("   ")
	_, cmd := step(m, key(tea.KeyEnter))
	assert.Nil(t, cmd)
	assert.Empty(t, fc.submitted)
}

func askingState(rev uint64) session.State {
	return session.State{
		Rev: rev, Phase: session.PhaseAwaitingAnswer, Project: "quiz", Prompt: "go",
		Question: "Which color theme?", AskPending: true, Countdown: "5:00", StopAllowed: true,
	}
}

func TestEnterAnswersPendingQuestion(t *testing.T) {
	m, fc := testApp(idleState("quiz"))
	m, _ = step(m, StateMsg{State: askingState(2)})
	require.True(t, m.ask.AcceptsInput())

	m.ask.textInput.SetValue("dark")
	m, msg := run(m, key(tea.KeyEnter))
	assert.Equal(t, ActionResultMsg{Action: "answer"}, msg)
	assert.Equal(t, []string{"dark"}, fc.answers)
	assert.False(t, m.ask.AcceptsInput(), "input is locked while the answer is in flight")

	answered := askingState(3)
	answered.Phase, answered.AskPending, answered.Question = session.PhaseStreaming, false, ""
	m, _ = step(m, StateMsg{State: answered})
	assert.False(t, m.ask.IsActive())
}

func TestRejectedAnswerReenablesInput(t *testing.T) {
	m, fc := testApp(idleState("quiz"))
	fc.answerErr = session.ErrEmptyAnswer
	m, _ = step(m, StateMsg{State: askingState(2)})

	m.ask.textInput.SetValue("  ")
	m, _ = run(m, key(tea.KeyEnter))
	assert.True(t, m.ask.AcceptsInput())
	assert.True(t, m.isErr)
	assert.Equal(t, session.ErrEmptyAnswer.Error(), m.notice)
}

func TestExpiredQuestionShownWithoutInput(t *testing.T) {
	m, fc := testApp(idleState("quiz"))
	st := askingState(2)
	st.AskPending, st.AskExpired, st.Countdown = false, true, "expired"
	m, _ = step(m, StateMsg{State: st})
	assert.True(t, m.ask.IsActive())
	assert.False(t, m.ask.AcceptsInput())
	assert.Contains(t, m.ask.View(), "Time's up")

	m.input.SetValue("late")
	_, cmd := step(m, key(tea.KeyEnter))
	assert.Nil(t, cmd)
	assert.Empty(t, fc.answers)
}

func TestStopOnlyWhenAllowed(t *testing.T) {
	m, fc := testApp(idleState("quiz"))
	_, cmd := step(m, key(tea.KeyCtrlS))
	assert.Nil(t, cmd)

	m, _ = step(m, StateMsg{State: session.State{Rev: 2, Phase: session.PhaseStreaming, Project: "quiz", StopAllowed: true}})
	m, msg := run(m, key(tea.KeyCtrlS))
	assert.Equal(t, ActionResultMsg{Action: "stop"}, msg)
	assert.Equal(t, 1, fc.stops)
	assert.Equal(t, "Stop requested", m.notice)
}

func TestRetryOnlyAfterFailure(t *testing.T) {
	m, fc := testApp(idleState("quiz"))
	m, cmd := step(m, key(tea.KeyCtrlR))
	assert.Nil(t, cmd)
	assert.Equal(t, session.ErrRetryNotAllowed.Error(), m.notice)

	failed := session.State{Rev: 3, Phase: session.PhaseFailed, Project: "quiz", Prompt: "go",
		Message: "Connection lost.", InteractionAllowed: true}
	m, _ = step(m, StateMsg{State: failed})
	_, msg := run(m, key(tea.KeyCtrlR))
	assert.Equal(t, ActionResultMsg{Action: "retry"}, msg)
	assert.Equal(t, 1, fc.retries)
}

func TestProjectCommandSelectsNormalizedName(t *testing.T) {
	m, fc := testApp(idleState(""))
	m.input.SetValue("/project Space Quiz")
	m, msg := run(m, key(tea.KeyEnter))
	assert.Equal(t, SelectedMsg{Name: "space_quiz"}, msg)
	assert.Equal(t, []string{"space_quiz"}, fc.selected)
	assert.Equal(t, "Building into space_quiz", m.notice)
}

func TestUnknownAndUsageCommands(t *testing.T) {
	m, _ := testApp(idleState("quiz"))
	m.input.SetValue("/frobnicate")
	m, _ = step(m, key(tea.KeyEnter))
	assert.Contains(t, m.notice, "unknown command /frobnicate")

	m.input.SetValue("/attach")
	m, _ = step(m, key(tea.KeyEnter))
	assert.Contains(t, m.notice, "usage: /attach")

	m.input.SetValue("/attach /definitely/not/here.png")
	m, _ = step(m, key(tea.KeyEnter))
	assert.True(t, m.isErr)
	assert.Equal(t, 0, m.attachments.Len())

	m.input.SetValue("/help")
	m, _ = step(m, key(tea.KeyEnter))
	assert.Equal(t, helpText, m.notice)
}

func TestSidebarSelection(t *testing.T) {
	lister := &fakeLister{projects: []project.Project{{Name: "alpha", Tech: "React"}, {Name: "beta", Tech: "HTML"}}}
	m, fc := testApp(idleState(""), WithProjects(lister))
	m, _ = run(m, ctrlL())
	require.Len(t, m.sidebar.projects, 2)

	m, _ = step(m, key(tea.KeyTab))
	assert.Equal(t, FocusSidebar, m.focus)
	m, _ = step(m, key(tea.KeyDown))
	m, msg := run(m, key(tea.KeyEnter))
	assert.Equal(t, SelectedMsg{Name: "beta"}, msg)
	assert.Equal(t, []string{"beta"}, fc.selected)
	assert.Equal(t, FocusInput, m.focus)
}

func TestSidebarSelectionRefusedWhileBuilding(t *testing.T) {
	lister := &fakeLister{projects: []project.Project{{Name: "alpha"}}}
	m, fc := testApp(session.State{Rev: 1, Phase: session.PhaseStreaming, Project: "alpha"}, WithProjects(lister))
	m, _ = run(m, ctrlL())
	m, _ = step(m, key(tea.KeyTab))
	_, cmd := step(m, key(tea.KeyEnter))
	assert.Nil(t, cmd)
	assert.Empty(t, fc.selected)
}

func TestRegistryFailureShowsUnknown(t *testing.T) {
	lister := &fakeLister{err: project.ErrUnavailable}
	m, _ := testApp(idleState(""), WithProjects(lister))
	m, _ = run(m, ctrlL())
	m.sidebar.SetSize(30, 10)
	assert.Contains(t, m.sidebar.View(), "unknown")
	assert.True(t, m.isErr)
}

func TestBuildEndRefreshesProjects(t *testing.T) {
	m, _ := testApp(idleState("quiz"), WithProjects(&fakeLister{}))
	m, _ = step(m, StateMsg{State: session.State{Rev: 2, Phase: session.PhaseStreaming, Project: "quiz"}})
	_, cmd := step(m, StateMsg{State: session.State{Rev: 3, Phase: session.PhaseCompleted, Project: "quiz",
		InteractionAllowed: true}})
	require.NotNil(t, cmd)
	_, ok := cmd().(ProjectsMsg)
	assert.True(t, ok)
}

func TestPreviewToggle(t *testing.T) {
	toggler := &fakeToggler{state: project.PreviewRunning, res: project.PreviewResult{URL: "http://localhost:5173"}}
	m, _ := testApp(idleState("quiz"), WithPreview(toggler))
	m, _ = run(m, key(tea.KeyCtrlP))
	assert.Equal(t, []string{"quiz"}, toggler.calls)
	assert.Equal(t, "quiz", m.sidebar.Running())
	assert.Contains(t, m.notice, "http://localhost:5173")

	toggler.state = project.PreviewStopped
	m, _ = run(m, key(tea.KeyCtrlP))
	assert.Empty(t, m.sidebar.Running())
	assert.Equal(t, "Preview stopped", m.notice)

	toggler.err = errors.New("boom")
	m, _ = run(m, key(tea.KeyCtrlP))
	assert.True(t, m.isErr)
}

func TestPreviewToggleAllowedDuringBuild(t *testing.T) {
	toggler := &fakeToggler{state: project.PreviewRunning, res: project.PreviewResult{Static: true, Message: "static site"}}
	m, _ := testApp(session.State{Rev: 1, Phase: session.PhaseStreaming, Project: "quiz"}, WithPreview(toggler))
	m, _ = run(m, key(tea.KeyCtrlP))
	assert.Equal(t, "static site", m.notice)
}

func TestTickKeepsTicking(t *testing.T) {
	m, _ := testApp(session.State{Rev: 1, Phase: session.PhaseStreaming, Project: "quiz"})
	before := m.statusBar.frame
	m, cmd := step(m, TickMsg{})
	assert.NotNil(t, cmd)
	assert.NotEqual(t, before, m.statusBar.frame)
}

func TestViewRendersLayout(t *testing.T) {
	lister := &fakeLister{projects: []project.Project{{Name: "quiz", Tech: "React"}}}
	m, _ := testApp(idleState("quiz"), WithProjects(lister))
	assert.Equal(t, "Initializing...", m.View())

	m, _ = step(m, tea.WindowSizeMsg{Width: 120, Height: 30})
	m, _ = run(m, ctrlL())
	m, _ = step(m, StateMsg{State: session.State{Rev: 2, Phase: session.PhaseStreaming, Project: "quiz",
		Prompt: "add a timer", Transcript: []string{"[plan] Reading project context"}}})

	view := m.View()
	assert.Contains(t, view, "PROJECTS")
	assert.Contains(t, view, "TRANSCRIPT")
	assert.Contains(t, view, "[plan] Reading project context")
	assert.Contains(t, view, "Project: quiz")
}

func TestViewTooSmall(t *testing.T) {
	m, _ := testApp(idleState(""))
	m, _ = step(m, tea.WindowSizeMsg{Width: 30, Height: 8})
	assert.Contains(t, m.View(), "Terminal too small")
}

func TestCtrlCQuits(t *testing.T) {
	m, _ := testApp(idleState(""))
	_, cmd := step(m, key(tea.KeyCtrlC))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func ctrlL() tea.KeyMsg { return key(tea.KeyCtrlL) }
