// ABOUTME: Scripted builds for the in-memory backend: event queue, answer channel, and stop signal per session.
// ABOUTME: Script functions drive a Build the way the real agent does, ending with result/stopped/error then done.
package fakebackend

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/stream"
)

// ErrStopped is returned by a Script that honoured a stop request.
var ErrStopped = errors.New("build stopped")

// ErrSkipTerminal is returned by a Script that emitted its own terminal and
// done records (or deliberately none, to simulate a dropped stream).
var ErrSkipTerminal = errors.New("script emitted its own terminal records")

// StoppedMessage is what the backend reports when a build honours a stop.
const StoppedMessage = "Build stopped. Files created so far are saved."

// Script drives one build. The returned string becomes the result message.
type Script func(ctx context.Context, b *Build) (string, error)

// Build is one running session on the fake backend.
type Build struct {
	ID          string
	Project     string
	Prompt      string
	Attachments []backend.Attachment

	events     chan stream.Record
	answers    chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	askTimeout time.Duration

	mu       sync.Mutex
	waiting  bool
	finished bool
}

func newBuild(id string, req backend.BuildRequest, askTimeout time.Duration) *Build {
	return &Build{
		ID:          id,
		Project:     req.ProjectName,
		Prompt:      req.Prompt,
		Attachments: req.Attachments,
		events:      make(chan stream.Record, 256),
		answers:     make(chan string, 1),
		stopCh:      make(chan struct{}),
		askTimeout:  askTimeout,
	}
}

// Emit queues a raw record on the session's stream.
func (b *Build) Emit(rec stream.Record) {
	b.events <- rec
}

// Log queues a log line.
func (b *Build) Log(line string) {
	b.Emit(stream.Record{Type: stream.KindLog, Message: line})
}

// Heartbeat queues a true heartbeat record.
func (b *Build) Heartbeat() {
	b.Emit(stream.Record{Type: stream.KindHeartbeat})
}

// Ask emits an ask_user record and blocks until an answer arrives, the ask
// timeout passes, or ctx ends. The second value reports whether the operator
// actually answered.
func (b *Build) Ask(ctx context.Context, question string) (string, bool) {
	b.mu.Lock()
	b.waiting = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.waiting = false
		b.mu.Unlock()
	}()

	b.Emit(stream.Record{Type: stream.KindAskUser, Message: question})

	timer := time.NewTimer(b.askTimeout)
	defer timer.Stop()
	select {
	case a := <-b.answers:
		if strings.TrimSpace(a) == "" {
			return "User did not respond.", false
		}
		return a, true
	case <-timer.C:
		return "User did not respond (timed out).", false
	case <-ctx.Done():
		return "", false
	}
}

// StopRequested is closed once the operator asks to stop.
func (b *Build) StopRequested() <-chan struct{} { return b.stopCh }

// Stopped reports whether a stop has been requested.
func (b *Build) Stopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// Sleep waits for d unless a stop arrives first, returning ErrStopped then.
func (b *Build) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-b.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Build) requestStop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

func (b *Build) deliverAnswer(answer string) bool {
	select {
	case b.answers <- answer:
		return true
	default:
		return false
	}
}

func (b *Build) isWaiting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting
}

func (b *Build) isFinished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// run executes the script and appends the terminal and done records.
func (b *Build) run(ctx context.Context, script Script) backend.Outcome {
	result, err := script(ctx, b)

	outcome := backend.OutcomeSuccess
	switch {
	case errors.Is(err, ErrSkipTerminal):
		outcome = backend.OutcomeError
	case errors.Is(err, ErrStopped):
		b.Emit(stream.Record{Type: stream.KindStopped, Message: StoppedMessage})
		b.Emit(stream.Record{Type: stream.KindDone})
		outcome = backend.OutcomeStopped
	case err != nil:
		b.Emit(stream.Record{Type: stream.KindError, Message: err.Error()})
		b.Emit(stream.Record{Type: stream.KindDone})
		outcome = backend.OutcomeError
	default:
		b.Emit(stream.Record{Type: stream.KindResult, Message: result})
		b.Emit(stream.Record{Type: stream.KindDone})
	}

	b.mu.Lock()
	b.finished = true
	b.mu.Unlock()
	close(b.events)
	return outcome
}

// DemoScript imitates a short quiz-app build with one clarifying question.
func DemoScript(step time.Duration) Script {
	return func(ctx context.Context, b *Build) (string, error) {
		steps := []string{
			"[plan] Reading project context for " + b.Project,
			"[plan] Breaking the request into tasks",
		}
		for _, s := range steps {
			b.Log(s)
			if err := b.Sleep(ctx, step); err != nil {
				return "", err
			}
		}

		answer, _ := b.Ask(ctx, "Which color theme should the app use?")
		b.Log("[plan] Theme: " + answer)

		for _, s := range []string{
			"[generate] Writing src/App.jsx",
			"[generate] Writing src/components/Timer.jsx",
			"[verify] Running build checks",
		} {
			b.Log(s)
			if err := b.Sleep(ctx, step); err != nil {
				return "", err
			}
		}
		return "Build complete. **" + b.Project + "** is ready to preview.", nil
	}
}
