// ABOUTME: Ask-User Sub-session: one live question per build with a ticking 300-second deadline.
// ABOUTME: Answers resolve the question before they are sent; expiry fires once and leaves the build running.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/2389-research/buildpilot/logging"
)

const (
	// DefaultAskTimeout is how long the operator has to answer.
	DefaultAskTimeout = 300 * time.Second
	// UrgentThreshold is the remaining time at which the countdown turns urgent.
	UrgentThreshold = 60 * time.Second
	// TickInterval is the countdown granularity.
	TickInterval = time.Second
)

// AnswerSender delivers answers to the backend.
type AnswerSender interface {
	SubmitAnswer(ctx context.Context, token, answer string) error
}

type askState int

const (
	askPending askState = iota
	askAnswered
	askExpired
	askCancelled
)

// AskHandle is one question put to the operator.
type AskHandle struct {
	question string
	askedAt  time.Time
	deadline time.Time

	mu     sync.Mutex
	state  askState
	answer string
	tick   Timer
	expiry Timer
}

// Question returns the backend's question text.
func (h *AskHandle) Question() string { return h.question }

// AskedAt returns when the question arrived.
func (h *AskHandle) AskedAt() time.Time { return h.askedAt }

// Deadline returns when the question expires.
func (h *AskHandle) Deadline() time.Time { return h.deadline }

// Pending reports whether the question still awaits an answer.
func (h *AskHandle) Pending() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == askPending
}

// Expired reports whether the deadline passed without an answer.
func (h *AskHandle) Expired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == askExpired
}

// Answered reports whether an answer resolved the question.
func (h *AskHandle) Answered() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == askAnswered
}

// Answer returns the submitted answer, if any.
func (h *AskHandle) Answer() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.answer
}

// Remaining returns the time left at now, never negative.
func (h *AskHandle) Remaining(now time.Time) time.Duration {
	if h.Expired() {
		return 0
	}
	d := h.deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Urgent reports whether the countdown is inside the urgency threshold.
func (h *AskHandle) Urgent(now time.Time) bool {
	if !h.Pending() {
		return false
	}
	return h.Remaining(now) <= UrgentThreshold
}

// Countdown renders the remaining time as m:ss, or "expired".
func (h *AskHandle) Countdown(now time.Time) string {
	rem := h.Remaining(now)
	if h.Expired() || rem <= 0 {
		return "expired"
	}
	secs := int((rem + time.Second - 1) / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// AskHooks are notified from timer goroutines, never with a lock held.
type AskHooks struct {
	OnTick   func(*AskHandle)
	OnExpire func(*AskHandle)
}

// AskSession manages the questions of one build session.
type AskSession struct {
	token   string
	sender  AnswerSender
	clock   Clock
	timeout time.Duration
	hooks   AskHooks

	mu   sync.Mutex
	live *AskHandle
}

// NewAskSession creates the ask sub-session for the build keyed by token.
func NewAskSession(token string, sender AnswerSender, clock Clock, timeout time.Duration, hooks AskHooks) *AskSession {
	if clock == nil {
		clock = RealClock
	}
	if timeout <= 0 {
		timeout = DefaultAskTimeout
	}
	return &AskSession{token: token, sender: sender, clock: clock, timeout: timeout, hooks: hooks}
}

// Start opens a question and its countdown. A second question while one is
// pending is refused with ErrAskOutstanding and the live one is kept.
func (a *AskSession) Start(question string) (*AskHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.live != nil && a.live.Pending() {
		return nil, ErrAskOutstanding
	}

	now := a.clock.Now()
	h := &AskHandle{question: question, askedAt: now, deadline: now.Add(a.timeout)}
	h.mu.Lock()
	h.expiry = a.clock.AfterFunc(a.timeout, func() { a.expire(h) })
	h.tick = a.clock.AfterFunc(TickInterval, func() { a.onTick(h) })
	h.mu.Unlock()
	a.live = h
	return h, nil
}

// Live returns the current question, pending or expired.
func (a *AskSession) Live() *AskHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

// Submit answers h. Blank answers are refused without a call, as are
// answers to a question that is no longer pending. Otherwise the question
// is resolved and the answer sent; a send failure is logged, not returned.
func (a *AskSession) Submit(ctx context.Context, h *AskHandle, answer string) error {
	if strings.TrimSpace(answer) == "" {
		return ErrEmptyAnswer
	}

	a.mu.Lock()
	if h == nil || a.live != h {
		a.mu.Unlock()
		return ErrAskNotPending
	}
	h.mu.Lock()
	if h.state != askPending {
		h.mu.Unlock()
		a.mu.Unlock()
		return ErrAskNotPending
	}
	h.state = askAnswered
	h.answer = answer
	h.stopTimersLocked()
	h.mu.Unlock()
	a.mu.Unlock()

	if err := a.sender.SubmitAnswer(ctx, a.token, answer); err != nil {
		logging.Warn().Err(err).Str("session", a.token).Msg("ask: answer send failed")
	}
	return nil
}

// Cancel stops the live countdown without firing expiry.
func (a *AskSession) Cancel() {
	a.mu.Lock()
	h := a.live
	a.mu.Unlock()
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.state == askPending {
		h.state = askCancelled
	}
	h.stopTimersLocked()
	h.mu.Unlock()
}

func (a *AskSession) expire(h *AskHandle) {
	h.mu.Lock()
	if h.state != askPending {
		h.mu.Unlock()
		return
	}
	h.state = askExpired
	h.stopTimersLocked()
	h.mu.Unlock()

	logging.Info().Str("session", a.token).Str("question", h.question).Msg("ask: question expired")
	if a.hooks.OnExpire != nil {
		a.hooks.OnExpire(h)
	}
}

func (a *AskSession) onTick(h *AskHandle) {
	h.mu.Lock()
	if h.state != askPending {
		h.mu.Unlock()
		return
	}
	h.tick = a.clock.AfterFunc(TickInterval, func() { a.onTick(h) })
	h.mu.Unlock()

	if a.hooks.OnTick != nil {
		a.hooks.OnTick(h)
	}
}

func (h *AskHandle) stopTimersLocked() {
	if h.tick != nil {
		h.tick.Stop()
	}
	if h.expiry != nil {
		h.expiry.Stop()
	}
}
