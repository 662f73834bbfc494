// ABOUTME: Preview/Run Toggle: start and stop a project's dev server through the backend.
// ABOUTME: The running project is re-fetched after every mutation; nothing is inferred locally.
package project

import (
	"context"
	"fmt"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/logging"
)

// PreviewAPI is the slice of the backend that controls preview servers.
type PreviewAPI interface {
	StartPreview(ctx context.Context, project string) (backend.PreviewResult, error)
	StopPreview(ctx context.Context) error
}

// PreviewState is a project's preview server state.
type PreviewState int

const (
	PreviewStopped PreviewState = iota
	PreviewRunning
)

func (s PreviewState) String() string {
	if s == PreviewRunning {
		return "running"
	}
	return "stopped"
}

// PreviewResult describes a started preview.
type PreviewResult struct {
	URL     string
	Static  bool
	Message string
}

// Preview toggles preview servers.
type Preview struct {
	api      PreviewAPI
	registry *Registry
}

// NewPreview creates a Preview that refreshes registry after each action.
func NewPreview(api PreviewAPI, registry *Registry) *Preview {
	return &Preview{api: api, registry: registry}
}

// Start starts the preview for name. Another project's server may be
// running; the backend decides what happens to it.
func (p *Preview) Start(ctx context.Context, name string) (PreviewResult, error) {
	res, err := p.api.StartPreview(ctx, name)
	p.registry.RunningProject(ctx)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("start preview %s: %w", name, err)
	}
	logging.Info().Str("project", name).Str("url", res.URL).Str("status", res.Status).Msg("preview started")
	return PreviewResult{URL: res.URL, Static: res.Static(), Message: res.Message}, nil
}

// Stop stops whichever preview server is running.
func (p *Preview) Stop(ctx context.Context) error {
	err := p.api.StopPreview(ctx)
	p.registry.RunningProject(ctx)
	if err != nil {
		return fmt.Errorf("stop preview: %w", err)
	}
	logging.Info().Msg("preview stopped")
	return nil
}

// State reports name's preview state from the mirrored running project.
func (p *Preview) State(name string) PreviewState {
	if running, ok := p.registry.Running(); ok && running == name {
		return PreviewRunning
	}
	return PreviewStopped
}

// Toggle starts name's preview when stopped and stops it when running. The
// returned state is the one observed afterwards.
func (p *Preview) Toggle(ctx context.Context, name string) (PreviewState, PreviewResult, error) {
	if p.State(name) == PreviewRunning {
		err := p.Stop(ctx)
		return p.State(name), PreviewResult{}, err
	}
	res, err := p.Start(ctx, name)
	return p.State(name), res, err
}
