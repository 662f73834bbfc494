// ABOUTME: HTTP client for the build backend: sessions, event streams, answers, stop, projects, preview, history, snapshots.
// ABOUTME: Every call carries an X-Request-ID and an OpenTelemetry span; failures map onto the package error taxonomy.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/2389-research/buildpilot/logging"
	"github.com/2389-research/buildpilot/stream"
)

const tracerName = "github.com/2389-research/buildpilot/backend"

// Client talks to one backend instance.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request/response timeout. The event stream never
// times out on its own; it ends with the session or the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d, Transport: c.httpClient.Transport}
		}
	}
}

// WithStreamClient sets the client used for the long-lived event stream.
func WithStreamClient(hc *http.Client) Option {
	return func(c *Client) { c.streamClient = hc }
}

// New creates a Client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend root this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// CreateSession submits a build and returns the session token. A structured
// {"error": ...} payload is returned as a *RejectedError.
func (c *Client) CreateSession(ctx context.Context, req BuildRequest) (string, error) {
	const op = "create session"
	var resp buildResponse
	status, err := c.do(ctx, c.httpClient, op, http.MethodPost, "/api/build", req, &resp)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", &RejectedError{Op: op, Status: status, Message: resp.Error}
	}
	if !success(status) {
		return "", &RejectedError{Op: op, Status: status, Message: http.StatusText(status)}
	}
	token := resp.SessionID
	if token == "" {
		token = resp.SessionToken
	}
	if token == "" {
		return "", &RejectedError{Op: op, Status: status, Message: "response carried no session token"}
	}
	return token, nil
}

// OpenStream opens the event stream for a session. The returned Sequence
// must be closed by the caller.
func (c *Client) OpenStream(ctx context.Context, token string) (*stream.Sequence, error) {
	const op = "open stream"
	ctx, span := otel.Tracer(tracerName).Start(ctx, "backend.open_stream")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/stream/"+url.PathEscape(token), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	setRequestID(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, &TransportError{Op: op, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var payload statusResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(body, &payload)
		msg := payload.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		span.SetStatus(codes.Error, msg)
		return nil, &RejectedError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	logging.Debug().Str("session", token).Msg("event stream opened")
	return stream.Open(resp.Body), nil
}

// SubmitAnswer delivers the operator's answer to a pending question.
func (c *Client) SubmitAnswer(ctx context.Context, token, answer string) error {
	return c.action(ctx, "submit answer", http.MethodPost, "/api/answer/"+url.PathEscape(token), answerRequest{Answer: answer})
}

// RequestStop asks the backend to terminate the running build.
func (c *Client) RequestStop(ctx context.Context) error {
	return c.action(ctx, "request stop", http.MethodPost, "/api/stop", nil)
}

// ListProjects returns the backend's projects in backend order.
func (c *Client) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	var out []ProjectInfo
	if err := c.read(ctx, "list projects", "/api/projects", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Running returns the backend's preview server status.
func (c *Client) Running(ctx context.Context) (RunningStatus, error) {
	var out RunningStatus
	err := c.read(ctx, "get running", "/api/running", &out)
	return out, err
}

// StartPreview starts the dev server for a project.
func (c *Client) StartPreview(ctx context.Context, project string) (PreviewResult, error) {
	const op = "start preview"
	var out PreviewResult
	status, err := c.do(ctx, c.httpClient, op, http.MethodPost, "/api/run/"+url.PathEscape(project), nil, &out)
	if err != nil {
		return PreviewResult{}, err
	}
	if out.Error != "" || !success(status) {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(status)
		}
		return PreviewResult{}, &RejectedError{Op: op, Status: status, Message: msg}
	}
	return out, nil
}

// StopPreview stops whichever preview server is running.
func (c *Client) StopPreview(ctx context.Context) error {
	return c.action(ctx, "stop preview", http.MethodPost, "/api/stop-server", nil)
}

// FetchHistory returns a project's persisted exchanges, oldest first.
func (c *Client) FetchHistory(ctx context.Context, project string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.read(ctx, "fetch history", projectPath(project, "history"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendHistory persists one exchange for a project.
func (c *Client) AppendHistory(ctx context.Context, project string, entry HistoryEntry) error {
	return c.action(ctx, "append history", http.MethodPost, projectPath(project, "history"), entry)
}

// ListSnapshots returns a project's snapshots, newest first.
func (c *Client) ListSnapshots(ctx context.Context, project string) ([]Snapshot, error) {
	var out []Snapshot
	if err := c.read(ctx, "list snapshots", projectPath(project, "snapshots"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RevertSnapshot restores a project to a snapshot.
func (c *Client) RevertSnapshot(ctx context.Context, project, snapshotID string) error {
	path := projectPath(project, "snapshots") + "/" + url.PathEscape(snapshotID) + "/revert"
	return c.action(ctx, "revert snapshot", http.MethodPost, path, nil)
}

func projectPath(project, leaf string) string {
	return "/api/projects/" + url.PathEscape(project) + "/" + leaf
}

// read performs a GET whose non-success status means "unknown".
func (c *Client) read(ctx context.Context, op, path string, out any) error {
	status, err := c.do(ctx, c.httpClient, op, http.MethodGet, path, nil, out)
	if err != nil {
		if _, rejected := AsRejected(err); rejected {
			return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
		}
		return err
	}
	if !success(status) {
		return fmt.Errorf("%s: status %d: %w", op, status, ErrUnavailable)
	}
	return nil
}

// action performs a mutating call acknowledged by {"status": ...}.
func (c *Client) action(ctx context.Context, op, method, path string, body any) error {
	var out statusResponse
	status, err := c.do(ctx, c.httpClient, op, method, path, body, &out)
	if err != nil {
		return err
	}
	if out.Error != "" || !success(status) {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &RejectedError{Op: op, Status: status, Message: msg}
	}
	return nil
}

// do sends one JSON request and decodes the JSON response into out. Only
// transport failures and undecodable success bodies are returned as errors;
// status handling is left to the caller.
func (c *Client) do(ctx context.Context, hc *http.Client, op, method, path string, body, out any) (int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "backend."+strings.ReplaceAll(op, " ", "_"))
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	reqID := setRequestID(req)

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		logging.Warn().Str("op", op).Str("request_id", reqID).Err(err).Msg("backend call failed")
		return 0, &TransportError{Op: op, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return resp.StatusCode, &TransportError{Op: op, Cause: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	logging.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("request_id", reqID).
		Msg("backend call")

	if len(bytes.TrimSpace(data)) == 0 || out == nil {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		if success(resp.StatusCode) {
			span.SetStatus(codes.Error, "decode")
			return resp.StatusCode, &RejectedError{Op: op, Status: resp.StatusCode, Message: "malformed response: " + err.Error()}
		}
		// Error pages are often not JSON; the status speaks for itself.
		return resp.StatusCode, nil
	}
	if !success(resp.StatusCode) {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp.StatusCode, nil
}

func setRequestID(req *http.Request) string {
	id := uuid.NewString()
	req.Header.Set("X-Request-ID", id)
	return id
}

func success(status int) bool {
	return status >= 200 && status < 300
}
