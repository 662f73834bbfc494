// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Each type wraps a controller snapshot or the result of a background command.
package tui

import (
	"time"

	"github.com/2389-research/buildpilot/project"
	"github.com/2389-research/buildpilot/session"
)

// StateMsg carries a controller snapshot into the message loop.
type StateMsg struct {
	State session.State
}

// TickMsg is sent periodically to update timers and spinners.
type TickMsg struct {
	Time time.Time
}

// ProjectsMsg carries the result of a registry refresh. A non-nil Err means
// the list is unknown, not empty.
type ProjectsMsg struct {
	Projects []project.Project
	Running  string
	Err      error
}

// PreviewMsg carries the result of a preview toggle.
type PreviewMsg struct {
	Project string
	State   project.PreviewState
	Result  project.PreviewResult
	Err     error
}

// ActionResultMsg reports the outcome of a controller call made from a key
// binding or slash command.
type ActionResultMsg struct {
	Action string
	Err    error
}

// SelectedMsg reports that a project became the build target.
type SelectedMsg struct {
	Name string
	Err  error
}
