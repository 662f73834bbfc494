// ABOUTME: Test doubles for the TUI: a scripted controller, project lister, and preview toggler.
package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/buildpilot/project"
	"github.com/2389-research/buildpilot/session"
)

type fakeController struct {
	mu          sync.Mutex
	state       session.State
	observers   []func(session.State)
	submitted   []string
	attachments [][]session.Attachment
	answers     []string
	selected    []string
	stops       int
	retries     int
	answerErr   error
	submitErr   error
}

func newFakeController(st session.State) *fakeController {
	return &fakeController{state: st}
}

func (f *fakeController) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) OnChange(fn func(session.State)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
	idx := len(f.observers) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.observers[idx] = nil
	}
}

func (f *fakeController) publish(st session.State) {
	f.mu.Lock()
	f.state = st
	obs := append([]func(session.State){}, f.observers...)
	f.mu.Unlock()
	for _, fn := range obs {
		if fn != nil {
			fn(st)
		}
	}
}

func (f *fakeController) SelectProject(_ context.Context, raw string) (string, error) {
	name, err := project.NormalizeName(raw)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = append(f.selected, name)
	return name, nil
}

func (f *fakeController) Submit(_ context.Context, prompt string, atts []session.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, prompt)
	f.attachments = append(f.attachments, atts)
	return f.submitErr
}

func (f *fakeController) Retry(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeController) Answer(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return f.answerErr
}

type fakeLister struct {
	projects []project.Project
	running  string
	err      error
}

func (f *fakeLister) ListProjects(context.Context) ([]project.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.projects, nil
}

func (f *fakeLister) RunningProject(context.Context) (string, bool) {
	return f.running, f.running != ""
}

type fakeToggler struct {
	calls []string
	state project.PreviewState
	res   project.PreviewResult
	err   error
}

func (f *fakeToggler) Toggle(_ context.Context, name string) (project.PreviewState, project.PreviewResult, error) {
	f.calls = append(f.calls, name)
	return f.state, f.res, f.err
}

// step feeds msg to m and returns the updated model and command.
func step(m AppModel, msg tea.Msg) (AppModel, tea.Cmd) {
	next, cmd := m.Update(msg)
	return next.(AppModel), cmd
}

// run feeds msg to m, executes the resulting command once, and feeds its
// message back.
func run(m AppModel, msg tea.Msg) (AppModel, tea.Msg) {
	m, cmd := step(m, msg)
	if cmd == nil {
		return m, nil
	}
	out := cmd()
	m, _ = step(m, out)
	return m, out
}

func key(t tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: t}
}

func idleState(projectName string) session.State {
	return session.State{Rev: 1, Phase: session.PhaseIdle, Project: projectName, InteractionAllowed: true}
}
