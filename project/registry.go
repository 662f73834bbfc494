// ABOUTME: Project Registry Client: cached project listing and the mirrored running-preview project.
// ABOUTME: Listing failures surface as ErrUnavailable ("unknown"); running-project lookups fail soft to "none".
package project

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/logging"
)

// ErrUnavailable means the project list could not be fetched. Callers must
// treat the listing as unknown, not empty.
var ErrUnavailable = errors.New("project list unavailable")

// API is the slice of the backend the registry needs.
type API interface {
	ListProjects(ctx context.Context) ([]backend.ProjectInfo, error)
	Running(ctx context.Context) (backend.RunningStatus, error)
}

// DefaultRefreshInterval is the minimum spacing between listing refreshes
// when a cached list is available.
const DefaultRefreshInterval = 2 * time.Second

// Registry queries and caches the backend's projects.
type Registry struct {
	api     API
	limiter *rate.Limiter

	mu       sync.Mutex
	cached   []Project
	hasCache bool
	running  string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRefreshInterval sets the listing throttle. Zero disables throttling.
func WithRefreshInterval(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d <= 0 {
			r.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		r.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewRegistry creates a Registry over api.
func NewRegistry(api API, opts ...RegistryOption) *Registry {
	r := &Registry{
		api:     api,
		limiter: rate.NewLimiter(rate.Every(DefaultRefreshInterval), 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ListProjects returns the projects in backend order. When a refresh was
// made too recently the cached list is returned without a call. On failure
// the cache is left untouched and ErrUnavailable is returned.
func (r *Registry) ListProjects(ctx context.Context) ([]Project, error) {
	r.mu.Lock()
	allowed := r.limiter.Allow()
	if r.hasCache && !allowed {
		out := append([]Project(nil), r.cached...)
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	infos, err := r.api.ListProjects(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("registry: list projects failed")
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	projects := make([]Project, len(infos))
	for i, info := range infos {
		projects[i] = Project{Name: info.Name, Tech: info.Tech}
	}

	r.mu.Lock()
	r.cached = projects
	r.hasCache = true
	r.mu.Unlock()
	return append([]Project(nil), projects...), nil
}

// Cached returns the last successful listing without a call.
func (r *Registry) Cached() ([]Project, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Project(nil), r.cached...), r.hasCache
}

// Invalidate forces the next ListProjects to call the backend.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hasCache = false
}

// RunningProject asks the backend which project's preview server runs.
// Any failure reads as "none running" and clears the mirrored value.
func (r *Registry) RunningProject(ctx context.Context) (string, bool) {
	st, err := r.api.Running(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		logging.Debug().Err(err).Msg("registry: running lookup failed, assuming none")
		r.running = ""
		return "", false
	}
	if !st.Running || st.Project == "" {
		r.running = ""
		return "", false
	}
	r.running = st.Project
	return st.Project, true
}

// Running returns the last mirrored running project without a call.
func (r *Registry) Running() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running, r.running != ""
}
