// ABOUTME: In-memory HTTP implementation of the build backend protocol, routed with chi.
// ABOUTME: Serves sessions over SSE with idle keep-alives, answers, stop, projects, preview, history, and snapshots.
package fakebackend

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/logging"
	"github.com/2389-research/buildpilot/stream"
)

// KeepAliveText is the log line emitted when a session has been idle for a
// full heartbeat interval.
const KeepAliveText = "Still working..."

// DefaultPreviewURL is the address reported for running dev servers.
const DefaultPreviewURL = "http://localhost:5173"

// Server is a scriptable stand-in for the build backend.
type Server struct {
	router     chi.Router
	store      *store
	script     Script
	heartbeat  time.Duration
	askTimeout time.Duration

	mu      sync.Mutex
	builds  map[string]*Build
	active  *Build
	running string
}

// Option configures a Server.
type Option func(*Server)

// WithScript sets the script every build runs.
func WithScript(s Script) Option {
	return func(srv *Server) { srv.script = s }
}

// WithHeartbeat sets the idle interval after which the stream emits a
// keep-alive line.
func WithHeartbeat(d time.Duration) Option {
	return func(srv *Server) { srv.heartbeat = d }
}

// WithAskTimeout sets how long a build waits for an answer.
func WithAskTimeout(d time.Duration) Option {
	return func(srv *Server) { srv.askTimeout = d }
}

// WithProjects pre-registers projects in listing order.
func WithProjects(projects ...backend.ProjectInfo) Option {
	return func(srv *Server) {
		for _, p := range projects {
			srv.store.ensure(p.Name, p.Tech)
		}
	}
}

// WithStaticProject registers a project with no dev server.
func WithStaticProject(name string) Option {
	return func(srv *Server) {
		srv.store.ensure(name, "HTML/CSS/JS")
		srv.store.setStatic(name)
	}
}

// New creates a Server. Without WithScript it runs DemoScript.
func New(opts ...Option) *Server {
	s := &Server{
		store:      newStore(),
		script:     DemoScript(400 * time.Millisecond),
		heartbeat:  120 * time.Second,
		askTimeout: 300 * time.Second,
		builds:     make(map[string]*Build),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler by delegating to the chi router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("fake backend: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logging.Info().Str("addr", ln.Addr().String()).Msg("fake backend listening")
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("fake backend: %w", err)
	}
	return nil
}

// Active returns the build currently holding the backend, if any.
func (s *Server) Active() (*Build, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.isFinished() {
		return nil, false
	}
	return s.active, true
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/build", s.handleBuild)
		r.Get("/stream/{token}", s.handleStream)
		r.Post("/answer/{token}", s.handleAnswer)
		r.Post("/stop", s.handleStop)

		r.Get("/projects", s.handleProjects)
		r.Get("/running", s.handleRunning)
		r.Post("/run/{project}", s.handleRun)
		r.Post("/stop-server", s.handleStopServer)

		r.Route("/projects/{project}", func(r chi.Router) {
			r.Get("/history", s.handleHistory)
			r.Post("/history", s.handleAppendHistory)
			r.Get("/snapshots", s.handleSnapshots)
			r.Post("/snapshots/{snapshotID}/revert", s.handleRevert)
		})
	})
	return r
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req backend.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Prompt is required"})
		return
	}
	if req.ProjectName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Project name is required"})
		return
	}

	s.mu.Lock()
	if s.active != nil && !s.active.isFinished() {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "A build is already running"})
		return
	}
	s.store.ensure(req.ProjectName, "")
	s.store.takeSnapshot(req.ProjectName, req.Prompt, time.Now())
	id := strings.ToLower(ulid.Make().String())
	b := newBuild(id, req, s.askTimeout)
	s.builds[id] = b
	s.active = b
	s.mu.Unlock()

	logging.Info().
		Str("session", id).
		Str("project", req.ProjectName).
		Int("attachments", len(req.Attachments)).
		Msg("fake backend build started")

	go func() {
		outcome := b.run(context.Background(), s.script)
		logging.Info().Str("session", id).Str("outcome", string(outcome)).Msg("fake backend build finished")
	}()

	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// handleStream writes the session's records as SSE frames until the build
// closes its queue or the client disconnects. Idle periods produce a
// keep-alive log line.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	s.mu.Lock()
	b, ok := s.builds[token]
	if ok {
		// A session's queue has a single consumer.
		delete(s.builds, token)
	}
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	idle := time.NewTimer(s.heartbeat)
	defer idle.Stop()
	for {
		select {
		case rec, ok := <-b.events:
			if !ok {
				return
			}
			fmt.Fprint(w, rec.Format())
			if canFlush {
				flusher.Flush()
			}
			if rec.Type == stream.KindDone {
				return
			}
			idle.Reset(s.heartbeat)
		case <-idle.C:
			fmt.Fprint(w, stream.Record{Type: stream.KindLog, Message: KeepAliveText}.Format())
			if canFlush {
				flusher.Flush()
			}
			idle.Reset(s.heartbeat)
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	var body struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	s.mu.Lock()
	b := s.active
	s.mu.Unlock()

	if b == nil || b.ID != token || !b.isWaiting() || !b.deliverAnswer(body.Answer) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found or not waiting for input"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if b, ok := s.Active(); ok {
		b.requestStop()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stop requested"})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.list())
}

func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running == "" {
		writeJSON(w, http.StatusOK, backend.RunningStatus{Running: false})
		return
	}
	writeJSON(w, http.StatusOK, backend.RunningStatus{Running: true, Project: running, URL: DefaultPreviewURL})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project")
	p, ok := s.store.get(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("Project '%s' not found", name)})
		return
	}
	if p.static {
		writeJSON(w, http.StatusOK, backend.PreviewResult{
			Status:  "static",
			Project: name,
			Message: "Static project. Open index.html directly.",
		})
		return
	}

	s.mu.Lock()
	s.running = name
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, backend.PreviewResult{Status: "running", URL: DefaultPreviewURL, Project: name})
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.running = ""
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := s.store.get(chi.URLParam(r, "project"))
	if !ok || p.history == nil {
		writeJSON(w, http.StatusOK, []backend.HistoryEntry{})
		return
	}
	writeJSON(w, http.StatusOK, p.history)
}

func (s *Server) handleAppendHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project")
	var entry backend.HistoryEntry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	s.store.ensure(name, "")
	s.store.appendHistory(name, entry)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	p, ok := s.store.get(chi.URLParam(r, "project"))
	if !ok || p.snapshots == nil {
		writeJSON(w, http.StatusOK, []backend.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, p.snapshots)
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project")
	id := chi.URLParam(r, "snapshotID")
	if !s.store.revert(name, id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Snapshot not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reverted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("fake backend: encode response")
	}
}
