// ABOUTME: Controller phases and the session error sentinels.
// ABOUTME: Completed, Stopped, and Failed are terminal and absorbing for their session.
package session

import "errors"

// Phase is the Controller's state-machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseStreaming
	PhaseAwaitingAnswer
	PhaseCompleted
	PhaseStopped
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseIdle:           "idle",
	PhaseSubmitting:     "submitting",
	PhaseStreaming:      "streaming",
	PhaseAwaitingAnswer: "awaiting_answer",
	PhaseCompleted:      "completed",
	PhaseStopped:        "stopped",
	PhaseFailed:         "failed",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// Terminal reports whether p ends a session.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseStopped || p == PhaseFailed
}

// Active reports whether p holds the build lock.
func (p Phase) Active() bool {
	return p == PhaseSubmitting || p == PhaseStreaming || p == PhaseAwaitingAnswer
}

var (
	ErrEmptyAnswer      = errors.New("answer is empty")
	ErrAskOutstanding   = errors.New("a question is already awaiting an answer")
	ErrAskNotPending    = errors.New("no question is awaiting an answer")
	ErrBuildInProgress  = errors.New("a build is already in progress")
	ErrNoProject        = errors.New("no project selected")
	ErrEmptyPrompt      = errors.New("prompt is empty")
	ErrRetryNotAllowed  = errors.New("retry is only possible after a failed build")
	ErrNoSession        = errors.New("no build session is active")
	ErrControllerClosed = errors.New("controller is closed")
)

// User-facing messages for failures the backend did not describe itself.
const (
	MsgUnreachable    = "Could not reach the build server. Check the connection and retry."
	MsgConnectionLost = "Connection lost."
	MsgNoResult       = "Build ended without a result."
	MsgStopped        = "Build stopped."
)
