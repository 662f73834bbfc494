// ABOUTME: Bridge connecting the build session controller to the Bubble Tea message loop.
// ABOUTME: Provides EventBridge for state injection, and tea.Cmd factories for controller calls, registry refreshes, and ticks.
package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/buildpilot/project"
	"github.com/2389-research/buildpilot/session"
)

// Controller is the slice of session.Controller the TUI drives.
type Controller interface {
	State() session.State
	OnChange(fn func(session.State)) func()
	SelectProject(ctx context.Context, raw string) (string, error)
	Submit(ctx context.Context, prompt string, attachments []session.Attachment) error
	Retry(ctx context.Context) error
	Stop(ctx context.Context) error
	Answer(ctx context.Context, text string) error
}

// ProjectLister refreshes the sidebar.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]project.Project, error)
	RunningProject(ctx context.Context) (string, bool)
}

// PreviewToggler starts or stops a project's preview server.
type PreviewToggler interface {
	Toggle(ctx context.Context, name string) (project.PreviewState, project.PreviewResult, error)
}

// EventBridge wraps a tea.Program's Send method for injecting controller
// snapshots into the Bubble Tea message loop.
type EventBridge struct {
	send func(msg tea.Msg)
}

// NewEventBridge creates an EventBridge that sends messages via the given function.
// Typically called with program.Send as the argument.
func NewEventBridge(send func(msg tea.Msg)) *EventBridge {
	return &EventBridge{send: send}
}

// HandleState wraps a snapshot in a StateMsg and sends it to the TUI.
func (b *EventBridge) HandleState(st session.State) {
	b.send(StateMsg{State: st})
}

// Bind subscribes the bridge to c. The returned function unsubscribes.
func (b *EventBridge) Bind(c Controller) func() {
	return c.OnChange(b.HandleState)
}

// TickCmd returns a tea.Cmd that sends a TickMsg after the given interval.
// Used for spinner animation and the elapsed-time display.
func TickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// RefreshProjectsCmd lists projects and the running preview.
func RefreshProjectsCmd(ctx context.Context, lister ProjectLister) tea.Cmd {
	return func() tea.Msg {
		projects, err := lister.ListProjects(ctx)
		running, _ := lister.RunningProject(ctx)
		return ProjectsMsg{Projects: projects, Running: running, Err: err}
	}
}

// SelectProjectCmd makes raw the build target.
func SelectProjectCmd(ctx context.Context, c Controller, raw string) tea.Cmd {
	return func() tea.Msg {
		name, err := c.SelectProject(ctx, raw)
		return SelectedMsg{Name: name, Err: err}
	}
}

// SubmitCmd starts a build. Submit blocks until the stream is open, so it
// runs off the message loop.
func SubmitCmd(ctx context.Context, c Controller, prompt string, attachments []session.Attachment) tea.Cmd {
	return func() tea.Msg {
		return ActionResultMsg{Action: "submit", Err: c.Submit(ctx, prompt, attachments)}
	}
}

// AnswerCmd replies to the pending question.
func AnswerCmd(ctx context.Context, c Controller, text string) tea.Cmd {
	return func() tea.Msg {
		return ActionResultMsg{Action: "answer", Err: c.Answer(ctx, text)}
	}
}

// StopCmd requests a stop of the running build.
func StopCmd(ctx context.Context, c Controller) tea.Cmd {
	return func() tea.Msg {
		return ActionResultMsg{Action: "stop", Err: c.Stop(ctx)}
	}
}

// RetryCmd resubmits a failed build.
func RetryCmd(ctx context.Context, c Controller) tea.Cmd {
	return func() tea.Msg {
		return ActionResultMsg{Action: "retry", Err: c.Retry(ctx)}
	}
}

// TogglePreviewCmd flips the named project's preview server.
func TogglePreviewCmd(ctx context.Context, p PreviewToggler, name string) tea.Cmd {
	return func() tea.Msg {
		state, res, err := p.Toggle(ctx, name)
		return PreviewMsg{Project: name, State: state, Result: res, Err: err}
	}
}
