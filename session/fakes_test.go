// ABOUTME: Test doubles for the session package: a manually advanced clock and a pipe-backed backend.
// ABOUTME: The fake backend streams real SSE frames through stream.Open so the reader path is exercised.
package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389-research/buildpilot/backend"
	"github.com/2389-research/buildpilot/stream"
)

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	seq     int
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock fires timers synchronously from Advance, in deadline order.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, when: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) || (t.when.Equal(next.when) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		if next.when.After(c.now) {
			c.now = next.when
		}
		c.mu.Unlock()
		next.f()
	}
}

// fakeBackend implements Backend, History, and project.API in memory.
type fakeBackend struct {
	mu sync.Mutex

	token      string
	createErr  error
	createGate chan struct{}
	openErr    error
	answerErr  error
	stopErr    error
	running    string

	creates  []backend.BuildRequest
	opens    int
	answers  []string
	stops    int
	appended []backend.HistoryEntry
	history  []backend.HistoryEntry
	snaps    []backend.Snapshot
	fetched  []string

	writer *io.PipeWriter
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{token: "tok-1"}
}

func (f *fakeBackend) CreateSession(ctx context.Context, req backend.BuildRequest) (string, error) {
	f.mu.Lock()
	f.creates = append(f.creates, req)
	gate := f.createGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.token, nil
}

func (f *fakeBackend) OpenStream(ctx context.Context, token string) (*stream.Sequence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	pr, pw := io.Pipe()
	f.writer = pw
	return stream.Open(pr), nil
}

func (f *fakeBackend) SubmitAnswer(ctx context.Context, token, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer)
	return f.answerErr
}

func (f *fakeBackend) RequestStop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeBackend) FetchHistory(ctx context.Context, project string) ([]backend.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, project)
	return append([]backend.HistoryEntry(nil), f.history...), nil
}

func (f *fakeBackend) ListSnapshots(ctx context.Context, project string) ([]backend.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.Snapshot(nil), f.snaps...), nil
}

func (f *fakeBackend) AppendHistory(ctx context.Context, project string, entry backend.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, entry)
	return nil
}

func (f *fakeBackend) ListProjects(ctx context.Context) ([]backend.ProjectInfo, error) {
	return []backend.ProjectInfo{{Name: "space_quiz", Tech: "React"}}, nil
}

func (f *fakeBackend) Running(ctx context.Context) (backend.RunningStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running == "" {
		return backend.RunningStatus{}, nil
	}
	return backend.RunningStatus{Running: true, Project: f.running}, nil
}

// send writes records to the open stream; writes to a closed stream are dropped.
func (f *fakeBackend) send(t *testing.T, recs ...stream.Record) {
	t.Helper()
	f.mu.Lock()
	w := f.writer
	f.mu.Unlock()
	require.NotNil(t, w, "no stream open")
	for _, r := range recs {
		if _, err := io.WriteString(w, r.Format()); err != nil {
			return
		}
	}
}

func (f *fakeBackend) closeStream(err error) {
	f.mu.Lock()
	w := f.writer
	f.mu.Unlock()
	if w != nil {
		w.CloseWithError(err)
	}
}

func (f *fakeBackend) appendedEntries() []backend.HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]backend.HistoryEntry(nil), f.appended...)
}

func (f *fakeBackend) historyRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func (f *fakeBackend) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

func logRec(msg string) stream.Record {
	return stream.Record{Type: stream.KindLog, Message: msg}
}

func rec(kind stream.Kind, msg string) stream.Record {
	return stream.Record{Type: kind, Message: msg}
}
