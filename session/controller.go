// ABOUTME: Build Session Controller: the single-build lock, session phases, stream consumption, stop, and retry.
// ABOUTME: All state sits behind one mutex; late responses for superseded or resolved sessions are dropped.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/logging"
	"github.com/2389-research/buildpilot/project"
	"github.com/2389-research/buildpilot/stream"
)

// Backend is the slice of the backend a build session drives.
type Backend interface {
	AnswerSender
	CreateSession(ctx context.Context, req backend.BuildRequest) (string, error)
	OpenStream(ctx context.Context, token string) (*stream.Sequence, error)
	RequestStop(ctx context.Context) error
}

// History is the backend's per-project chat history and snapshot store.
type History interface {
	FetchHistory(ctx context.Context, project string) ([]backend.HistoryEntry, error)
	ListSnapshots(ctx context.Context, project string) ([]backend.Snapshot, error)
	AppendHistory(ctx context.Context, project string, entry backend.HistoryEntry) error
}

// State is an immutable snapshot of the controller.
type State struct {
	Rev        uint64
	Phase      Phase
	Project    string
	Token      string
	Prompt     string
	Transcript []string

	Question   string
	AskPending bool
	AskExpired bool
	Countdown  string
	Urgent     bool

	Outcome backend.Outcome
	Message string
	Warning string

	History   []backend.HistoryEntry
	Snapshots []backend.Snapshot

	// InteractionAllowed is false while the build lock is held.
	InteractionAllowed bool
	StopAllowed        bool
	Stopping           bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithHistory sets the chat-history collaborator. By default the Backend
// is used when it implements History.
func WithHistory(h History) Option {
	return func(c *Controller) { c.history = h }
}

// WithRegistry lets the controller invalidate the project cache after a
// build and warn when the target project's preview is serving.
func WithRegistry(r *project.Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithClock sets the clock driving ask countdowns.
func WithClock(clk Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// WithAskTimeout overrides the answer window.
func WithAskTimeout(d time.Duration) Option {
	return func(c *Controller) { c.askTimeout = d }
}

// build is one session attempt.
type build struct {
	project    string
	prompt     string
	token      string
	phase      Phase
	transcript []string

	ask      *AskSession
	question *AskHandle
	held     Update

	stopRequested bool
	outcome       backend.Outcome
	message       string
	warning       string
	startedAt     time.Time

	seq    *stream.Sequence
	cancel context.CancelFunc
}

// finished carries the side effects of a terminal transition out of the lock.
type finished struct {
	project  string
	entry    backend.HistoryEntry
	duration time.Duration
}

// Controller owns the build lock and the current session.
type Controller struct {
	api        Backend
	history    History
	registry   *project.Registry
	clock      Clock
	askTimeout time.Duration
	metrics    *metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	closed         bool
	building       bool
	stopping       bool
	project        string
	projectHistory []backend.HistoryEntry
	snapshots      []backend.Snapshot
	cur            *build
	rev            uint64

	obsMu     sync.Mutex
	observers map[int]func(State)
	nextObs   int
}

// NewController creates a Controller over api.
func NewController(api Backend, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		api:        api,
		clock:      RealClock,
		askTimeout: DefaultAskTimeout,
		metrics:    newMetrics(),
		ctx:        ctx,
		cancel:     cancel,
		observers:  make(map[int]func(State)),
	}
	if h, ok := api.(History); ok {
		c.history = h
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnChange registers fn to receive a snapshot after every change. fn runs
// on the goroutine that made the change, outside the controller lock.
// The returned function unregisters it.
func (c *Controller) OnChange(fn func(State)) func() {
	c.obsMu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	c.obsMu.Unlock()
	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// State returns the current snapshot.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// SelectProject normalises raw and makes it the build target, then loads
// the project's history and snapshots best-effort. Refused while a build
// runs.
func (c *Controller) SelectProject(ctx context.Context, raw string) (string, error) {
	name, err := project.NormalizeName(raw)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrControllerClosed
	}
	if c.building {
		c.mu.Unlock()
		return "", ErrBuildInProgress
	}
	if name != c.project {
		c.project = name
		c.cur = nil
		c.projectHistory = nil
		c.snapshots = nil
	}
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)

	c.loadProjectContext(ctx, name)
	return name, nil
}

// Reload re-fetches the selected project's history and snapshots.
func (c *Controller) Reload(ctx context.Context) {
	c.mu.Lock()
	name := c.project
	c.mu.Unlock()
	if name != "" {
		c.loadProjectContext(ctx, name)
	}
}

func (c *Controller) loadProjectContext(ctx context.Context, name string) {
	if c.history == nil {
		return
	}
	hist, err := c.history.FetchHistory(ctx, name)
	if err != nil {
		logging.Warn().Err(err).Str("project", name).Msg("controller: fetch history failed")
	}
	snaps, err := c.history.ListSnapshots(ctx, name)
	if err != nil {
		logging.Warn().Err(err).Str("project", name).Msg("controller: list snapshots failed")
	}

	c.mu.Lock()
	if c.project != name {
		c.mu.Unlock()
		return
	}
	c.projectHistory = hist
	c.snapshots = snaps
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)
}

// Submit starts a build of the selected project. It returns an error only
// when the build could not start at all; backend failures show up as the
// Failed phase.
func (c *Controller) Submit(ctx context.Context, prompt string, attachments []Attachment) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrControllerClosed
	case c.building:
		c.mu.Unlock()
		return ErrBuildInProgress
	case c.project == "":
		c.mu.Unlock()
		return ErrNoProject
	case strings.TrimSpace(prompt) == "":
		c.mu.Unlock()
		return ErrEmptyPrompt
	}
	b := c.beginLocked(c.project, strings.TrimSpace(prompt))
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)

	c.run(ctx, b, attachments)
	return nil
}

// Retry resubmits the failed build's project with a continuation prompt.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	prev := c.cur
	if prev == nil || prev.phase != PhaseFailed {
		c.mu.Unlock()
		return ErrRetryNotAllowed
	}
	if c.building {
		c.mu.Unlock()
		return ErrBuildInProgress
	}
	b := c.beginLocked(prev.project, ContinuationPrompt(prev.project, prev.message))
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)

	logging.Info().Str("project", b.project).Msg("controller: retrying failed build")
	c.run(ctx, b, nil)
	return nil
}

// ContinuationPrompt composes the prompt a retry sends.
func ContinuationPrompt(projectName, failure string) string {
	if strings.TrimSpace(failure) == "" {
		failure = "an unknown error"
	}
	return fmt.Sprintf("Continue working on the %s project. The previous build attempt failed with: %q. "+
		"Check the current state of the project files, fix what caused the failure, and finish the remaining work.",
		projectName, failure)
}

// Stop asks the backend to stop the running build. The session ends when
// the backend says so on the stream.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	b := c.cur
	if b == nil || !c.building {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	b.stopRequested = true
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)

	err := c.api.RequestStop(ctx)

	c.mu.Lock()
	if !c.currentLocked(b) {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.stopping = false
		b.stopRequested = false
	}
	st = c.changedLocked()
	c.mu.Unlock()
	c.publish(st)

	if err != nil {
		logging.Warn().Err(err).Str("project", b.project).Msg("controller: stop request failed")
		return fmt.Errorf("request stop: %w", err)
	}
	logging.Info().Str("project", b.project).Msg("controller: stop requested")
	return nil
}

// Answer replies to the pending question.
func (c *Controller) Answer(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	b := c.cur
	if b == nil || !c.currentLocked(b) {
		c.mu.Unlock()
		return ErrNoSession
	}
	h, ask := b.question, b.ask
	c.mu.Unlock()
	if ask == nil {
		return ErrAskNotPending
	}

	if err := ask.Submit(ctx, h, text); err != nil {
		return err
	}
	c.metrics.recordAsk("answered")

	c.mu.Lock()
	if !c.currentLocked(b) || b.question != h {
		c.mu.Unlock()
		return nil
	}
	b.question = nil
	b.phase = PhaseStreaming
	streaming := c.changedLocked()
	var (
		f     *finished
		final State
	)
	if b.held != nil {
		f = c.resolveLocked(b, b.held)
		final = c.changedLocked()
	}
	c.mu.Unlock()

	c.publish(streaming)
	if f != nil {
		c.publish(final)
		c.afterFinish(f)
	}
	return nil
}

// Close cancels the active stream and drops anything that arrives later.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if b := c.cur; b != nil && !b.phase.Terminal() {
		c.releaseLocked(b)
	}
	c.building = false
	st := c.changedLocked()
	c.mu.Unlock()
	c.cancel()
	c.publish(st)
	return nil
}

func (c *Controller) beginLocked(projectName, prompt string) *build {
	b := &build{
		project:   projectName,
		prompt:    prompt,
		phase:     PhaseSubmitting,
		startedAt: c.clock.Now(),
	}
	c.cur = b
	c.building = true
	c.stopping = false
	c.metrics.recordStart(projectName)
	logging.Info().Str("project", projectName).Msg("controller: submitting build")
	return b
}

func (c *Controller) run(ctx context.Context, b *build, attachments []Attachment) {
	c.checkPreview(ctx, b)

	token, err := c.api.CreateSession(ctx, backend.BuildRequest{
		Prompt:      b.prompt,
		ProjectName: b.project,
		Attachments: toWire(attachments),
	})
	if err != nil {
		logging.Warn().Err(err).Str("project", b.project).Msg("controller: create session failed")
		c.finish(b, Failed{Message: failureMessage(err, MsgUnreachable)})
		return
	}

	c.mu.Lock()
	if !c.currentLocked(b) {
		c.mu.Unlock()
		logging.Debug().Str("session", token).Msg("controller: dropping late session token")
		return
	}
	b.token = token
	b.phase = PhaseStreaming
	b.ask = NewAskSession(token, c.api, c.clock, c.askTimeout, AskHooks{
		OnTick:   func(h *AskHandle) { c.askTicked(b, h) },
		OnExpire: func(h *AskHandle) { c.askExpired(b, h) },
	})
	streamCtx, cancel := context.WithCancel(c.ctx)
	b.cancel = cancel
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)

	seq, err := c.api.OpenStream(streamCtx, token)
	if err != nil {
		logging.Warn().Err(err).Str("session", token).Msg("controller: open stream failed")
		c.finish(b, Failed{Message: failureMessage(err, MsgConnectionLost)})
		return
	}

	c.mu.Lock()
	if !c.currentLocked(b) {
		c.mu.Unlock()
		seq.Close()
		return
	}
	b.seq = seq
	c.mu.Unlock()

	go c.read(b, seq)
}

// checkPreview warns when the build targets the project whose preview
// server is serving.
func (c *Controller) checkPreview(ctx context.Context, b *build) {
	if c.registry == nil {
		return
	}
	running, ok := c.registry.RunningProject(ctx)
	if !ok || running != b.project {
		return
	}
	logging.Warn().Str("project", b.project).Msg("controller: building a project whose preview server is running")

	c.mu.Lock()
	if !c.currentLocked(b) {
		c.mu.Unlock()
		return
	}
	b.warning = fmt.Sprintf("The preview server is serving %s; its files will change during this build.", b.project)
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)
}

// read is the single consumer of one session's stream.
func (c *Controller) read(b *build, seq *stream.Sequence) {
	for rec := range seq.Events() {
		if !c.apply(b, Interpret(rec)) {
			return
		}
	}
	c.streamEnded(b, seq.Err())
}

// apply folds one update into b. It returns false once b no longer wants
// events.
func (c *Controller) apply(b *build, u Update) bool {
	c.mu.Lock()
	if !c.currentLocked(b) {
		c.mu.Unlock()
		return false
	}

	switch u := u.(type) {
	case AppendLog:
		b.transcript = append(b.transcript, u.Line)
	case KeepAlive:
		c.mu.Unlock()
		return true
	case Ignored:
		c.mu.Unlock()
		logging.Debug().Str("kind", string(u.Kind)).Msg("controller: ignoring unknown record")
		return true
	case AskUserRequested:
		h, err := b.ask.Start(u.Question)
		if err != nil {
			c.mu.Unlock()
			logging.Warn().Str("session", b.token).Str("question", u.Question).Msg("controller: ignoring second question while one is pending")
			return true
		}
		b.question = h
		b.phase = PhaseAwaitingAnswer
	default:
		if b.phase == PhaseAwaitingAnswer && b.question != nil && b.question.Pending() {
			if b.held == nil {
				b.held = u
				logging.Debug().Str("session", b.token).Msg("controller: holding terminal event until the question resolves")
			}
			c.mu.Unlock()
			return true
		}
		f := c.resolveLocked(b, u)
		st := c.changedLocked()
		c.mu.Unlock()
		c.publish(st)
		c.afterFinish(f)
		return false
	}

	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)
	return true
}

func (c *Controller) streamEnded(b *build, err error) {
	c.mu.Lock()
	if !c.currentLocked(b) || b.held != nil {
		c.mu.Unlock()
		return
	}
	if err != nil {
		logging.Warn().Err(err).Str("session", b.token).Msg("controller: stream lost")
	} else {
		logging.Warn().Str("session", b.token).Msg("controller: stream ended before a result")
	}
	f := c.resolveLocked(b, Failed{Message: MsgConnectionLost})
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)
	c.afterFinish(f)
}

func (c *Controller) askTicked(b *build, h *AskHandle) {
	c.mu.Lock()
	if !c.currentLocked(b) || b.question != h {
		c.mu.Unlock()
		return
	}
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)
}

// askExpired keeps the session waiting unless a terminal event was held.
func (c *Controller) askExpired(b *build, h *AskHandle) {
	c.metrics.recordAsk("expired")

	c.mu.Lock()
	if !c.currentLocked(b) || b.question != h {
		c.mu.Unlock()
		return
	}
	var f *finished
	if b.held != nil {
		f = c.resolveLocked(b, b.held)
	}
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)
	if f != nil {
		c.afterFinish(f)
	}
}

func (c *Controller) finish(b *build, u Update) {
	c.mu.Lock()
	if !c.currentLocked(b) {
		c.mu.Unlock()
		return
	}
	f := c.resolveLocked(b, u)
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)
	c.afterFinish(f)
}

// resolveLocked moves b into the terminal phase matching u and releases the
// build lock.
func (c *Controller) resolveLocked(b *build, u Update) *finished {
	switch u := u.(type) {
	case Completed:
		b.phase, b.outcome, b.message = PhaseCompleted, backend.OutcomeSuccess, u.Message
	case Stopped:
		b.phase, b.outcome, b.message = PhaseStopped, backend.OutcomeStopped, orDefault(u.Message, MsgStopped)
	case Failed:
		b.phase, b.outcome, b.message = PhaseFailed, backend.OutcomeError, orDefault(u.Message, MsgNoResult)
	default:
		if b.stopRequested {
			b.phase, b.outcome, b.message = PhaseStopped, backend.OutcomeStopped, MsgStopped
		} else {
			b.phase, b.outcome, b.message = PhaseFailed, backend.OutcomeError, MsgNoResult
		}
	}
	b.held = nil
	c.releaseLocked(b)
	c.building = false
	c.stopping = false

	return &finished{
		project:  b.project,
		duration: c.clock.Now().Sub(b.startedAt),
		entry: backend.HistoryEntry{
			Prompt:   b.prompt,
			Response: b.message,
			Outcome:  b.outcome,
			At:       c.clock.Now().UTC(),
		},
	}
}

// releaseLocked closes b's stream and cancels its countdown.
func (c *Controller) releaseLocked(b *build) {
	if b.seq != nil {
		b.seq.Close()
	}
	if b.cancel != nil {
		b.cancel()
	}
	if b.ask != nil {
		b.ask.Cancel()
	}
}

// afterFinish persists the exchange and refreshes collaborators.
func (c *Controller) afterFinish(f *finished) {
	logging.Info().
		Str("project", f.project).
		Str("outcome", string(f.entry.Outcome)).
		Dur("duration", f.duration).
		Msg("controller: build finished")
	c.metrics.recordFinish(f.project, f.entry.Outcome, f.duration)

	if c.registry != nil {
		c.registry.Invalidate()
	}
	if c.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	if err := c.history.AppendHistory(ctx, f.project, f.entry); err != nil {
		logging.Warn().Err(err).Str("project", f.project).Msg("controller: append history failed")
		return
	}

	c.mu.Lock()
	if c.project != f.project {
		c.mu.Unlock()
		return
	}
	c.projectHistory = append(c.projectHistory, f.entry)
	st := c.changedLocked()
	c.mu.Unlock()
	c.publish(st)
}

// currentLocked reports whether b is the live, unresolved session.
func (c *Controller) currentLocked(b *build) bool {
	return !c.closed && c.cur == b && !b.phase.Terminal()
}

func (c *Controller) changedLocked() State {
	c.rev++
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	st := State{
		Rev:                c.rev,
		Phase:              PhaseIdle,
		Project:            c.project,
		History:            append([]backend.HistoryEntry(nil), c.projectHistory...),
		Snapshots:          append([]backend.Snapshot(nil), c.snapshots...),
		InteractionAllowed: !c.building && !c.closed,
		StopAllowed:        c.building && !c.stopping && !c.closed,
		Stopping:           c.stopping,
	}
	b := c.cur
	if b == nil {
		return st
	}
	st.Phase = b.phase
	st.Token = b.token
	st.Prompt = b.prompt
	st.Transcript = append([]string(nil), b.transcript...)
	st.Outcome = b.outcome
	st.Message = b.message
	st.Warning = b.warning
	if h := b.question; h != nil && b.phase == PhaseAwaitingAnswer {
		now := c.clock.Now()
		st.Question = h.Question()
		st.AskPending = h.Pending()
		st.AskExpired = h.Expired()
		st.Countdown = h.Countdown(now)
		st.Urgent = h.Urgent(now)
	}
	return st
}

func (c *Controller) publish(st State) {
	c.obsMu.Lock()
	fns := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func failureMessage(err error, transport string) string {
	if re, ok := backend.AsRejected(err); ok && re.Message != "" {
		return re.Message
	}
	if backend.IsTransport(err) {
		return transport
	}
	return err.Error()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
