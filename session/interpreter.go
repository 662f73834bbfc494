// ABOUTME: Session Event Interpreter: classifies stream records into controller updates.
// ABOUTME: Keep-alive log lines are suppressed; unknown record kinds are ignored.
package session

import (
	"strings"

	"github.com/2389-research/buildpilot/stream"
)

// KeepAliveText is the log line some backends send instead of a heartbeat.
const KeepAliveText = "Still working..."

// Update is a classified stream record.
type Update interface {
	// Terminal reports whether the update ends the session.
	Terminal() bool
}

type (
	// AppendLog adds a line to the transcript.
	AppendLog struct{ Line string }
	// KeepAlive carries no content.
	KeepAlive struct{}
	// AskUserRequested opens the ask-user sub-session.
	AskUserRequested struct{ Question string }
	// Completed is a successful outcome.
	Completed struct{ Message string }
	// Stopped is an operator-cancelled outcome.
	Stopped struct{ Message string }
	// Failed is an error outcome.
	Failed struct{ Message string }
	// StreamClosed means the backend closed the channel without naming an outcome.
	StreamClosed struct{}
	// Ignored is a record of a kind this client does not know.
	Ignored struct{ Kind stream.Kind }
)

func (AppendLog) Terminal() bool        { return false }
func (KeepAlive) Terminal() bool        { return false }
func (AskUserRequested) Terminal() bool { return false }
func (Completed) Terminal() bool        { return true }
func (Stopped) Terminal() bool          { return true }
func (Failed) Terminal() bool           { return true }
func (StreamClosed) Terminal() bool     { return true }
func (Ignored) Terminal() bool          { return false }

// Interpret classifies one record. It has no side effects.
func Interpret(rec stream.Record) Update {
	switch rec.Type {
	case stream.KindLog:
		if strings.TrimSpace(rec.Message) == KeepAliveText {
			return KeepAlive{}
		}
		return AppendLog{Line: rec.Message}
	case stream.KindHeartbeat:
		return KeepAlive{}
	case stream.KindAskUser:
		return AskUserRequested{Question: rec.Message}
	case stream.KindResult:
		return Completed{Message: rec.Message}
	case stream.KindStopped:
		return Stopped{Message: rec.Message}
	case stream.KindError:
		return Failed{Message: rec.Message}
	case stream.KindDone:
		return StreamClosed{}
	default:
		return Ignored{Kind: rec.Type}
	}
}
