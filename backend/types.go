// ABOUTME: Wire types for the build backend's JSON API.
// ABOUTME: Field names follow the backend's snake_case payloads.
package backend

import "time"

// Attachment is one binary blob sent with a build request. Data is encoded
// as base64 by encoding/json.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data"`
}

// BuildRequest is the create-session payload.
type BuildRequest struct {
	Prompt      string       `json:"prompt"`
	ProjectName string       `json:"project_name"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type buildResponse struct {
	SessionID    string `json:"session_id"`
	SessionToken string `json:"sessionToken"`
	Error        string `json:"error"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ProjectInfo is one entry of the project listing.
type ProjectInfo struct {
	Name string `json:"name"`
	Tech string `json:"tech"`
}

// RunningStatus describes the backend's single preview server.
type RunningStatus struct {
	Running bool   `json:"running"`
	Project string `json:"project,omitempty"`
	URL     string `json:"url,omitempty"`
}

// PreviewResult is the start-preview response.
type PreviewResult struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Project string `json:"project,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Static reports whether the project has no dev server to run.
func (r PreviewResult) Static() bool { return r.Status == "static" }

// Outcome tags a persisted exchange.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeStopped Outcome = "stopped"
)

// HistoryEntry is one persisted prompt/response exchange.
type HistoryEntry struct {
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	Outcome  Outcome   `json:"outcome"`
	At       time.Time `json:"at"`
}

// Snapshot is a restorable point in a project's file history.
type Snapshot struct {
	ID            string  `json:"snapshot_id"`
	Timestamp     float64 `json:"timestamp"`
	PromptPreview string  `json:"prompt_preview,omitempty"`
}

// Time converts the backend's epoch-seconds timestamp.
func (s Snapshot) Time() time.Time {
	sec := int64(s.Timestamp)
	nsec := int64((s.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
