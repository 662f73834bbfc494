// ABOUTME: Typed build-stream records and the ordered, cancellable Sequence that yields them.
// ABOUTME: One reader goroutine per Sequence decodes SSE frames into Records; Close is idempotent.
package stream

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/2389-research/buildpilot/logging"
)

// Kind discriminates build-stream records.
type Kind string

const (
	KindLog       Kind = "log"
	KindHeartbeat Kind = "heartbeat"
	KindAskUser   Kind = "ask_user"
	KindResult    Kind = "result"
	KindStopped   Kind = "stopped"
	KindError     Kind = "error"
	KindDone      Kind = "done"
)

// Record is one decoded event from the build stream.
type Record struct {
	Type    Kind   `json:"type"`
	Message string `json:"message,omitempty"`
}

// Source is an ordered sequence of records belonging to one session.
// Events is closed when the stream ends; Err then reports why (nil for a
// clean end of stream or a local Close).
type Source interface {
	Events() <-chan Record
	Err() error
	Close() error
}

// Sequence is the Source backed by an SSE response body.
type Sequence struct {
	body   io.ReadCloser
	events chan Record
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu  sync.Mutex
	err error
}

var _ Source = (*Sequence)(nil)

// Open starts reading body in the background. The caller owns the returned
// Sequence and must Close it.
func Open(body io.ReadCloser) *Sequence {
	s := &Sequence{
		body:   body,
		events: make(chan Record),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Events returns the record channel.
func (s *Sequence) Events() <-chan Record { return s.events }

// Err returns the transport error that ended the stream, if any.
func (s *Sequence) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the reader and releases the body. Safe to call repeatedly.
func (s *Sequence) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

func (s *Sequence) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Sequence) run() {
	defer close(s.events)

	fr := NewFrameReader(s.body)
	for {
		frame, err := fr.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed() {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}

		rec, ok := DecodeFrame(frame)
		if !ok {
			logging.Debug().Str("data", frame.Data).Msg("stream: skipping undecodable frame")
			continue
		}

		select {
		case s.events <- rec:
		case <-s.done:
			return
		}
	}
}

// DecodeFrame converts an SSE frame into a Record. Frames whose payload has
// no "type" fall back to a named SSE event, so both framings are accepted.
func DecodeFrame(f Frame) (Record, bool) {
	var rec Record
	if err := json.Unmarshal([]byte(f.Data), &rec); err != nil {
		return Record{}, false
	}
	if rec.Type == "" && f.Event != "" && f.Event != "message" {
		rec.Type = Kind(f.Event)
	}
	rec.Type = Kind(strings.TrimSpace(string(rec.Type)))
	if rec.Type == "" {
		return Record{}, false
	}
	return rec, true
}

// Format renders a record as an SSE data frame, the way the backend emits it.
func (r Record) Format() string {
	data, err := json.Marshal(r)
	if err != nil {
		data = []byte(`{"type":"error","message":"failed to marshal event"}`)
	}
	return "data: " + string(data) + "\n\n"
}
