// Package client provides an HTTP client for the devlog server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codervisor/devlog/internal/models"
)

// Client talks to the devlog server's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client.
// If endpoint is empty, uses DEVLOG_SERVER_URL env var or defaults to localhost:8910.
// Timeout can be configured via DEVLOG_CLIENT_TIMEOUT env var (default 2m for batch imports).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("DEVLOG_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:8910"
	}
	endpoint = strings.TrimRight(endpoint, "/")

	timeout := 2 * time.Minute
	if t := os.Getenv("DEVLOG_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// NotFound reports whether the error is a 404 from the server.
func NotFound(err error) bool {
	var apiErr *APIError
	if ok := asAPIError(err, &apiErr); ok {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

func asAPIError(err error, target **APIError) bool {
	for err != nil {
		if e, ok := err.(*APIError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

type errorResponse struct {
	Error string `json:"error"`
}

// do sends a request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// =============================================================================
// Response types
//
// Record ids come back as plain "table:⟨key⟩" strings, so the client keeps its
// own view of the session and workspace shapes instead of reusing the server's.
// =============================================================================

// ItemIssue describes one failed or rejected item within a batch.
type ItemIssue struct {
	Index  int    `json:"index"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason"`
}

// ImportProgress is a snapshot of an ingestion run.
type ImportProgress struct {
	RunID             string      `json:"run_id"`
	Status            string      `json:"status"`
	TotalSessions     int         `json:"total_sessions"`
	ProcessedSessions int         `json:"processed_sessions"`
	FailedSessions    int         `json:"failed_sessions"`
	SkippedSessions   int         `json:"skipped_sessions"`
	Percentage        int         `json:"percentage"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        *time.Time  `json:"finished_at,omitempty"`
	Errors            []ItemIssue `json:"errors,omitempty"`
}

// Terminal reports whether the run has finished.
func (p *ImportProgress) Terminal() bool {
	return p.Status == "completed" || p.Status == "failed"
}

// AppendResult summarizes an event batch append.
type AppendResult struct {
	Created int         `json:"created"`
	Skipped int         `json:"skipped"`
	Errors  []ItemIssue `json:"errors,omitempty"`
}

// Session is one agent conversation as reported by the server.
type Session struct {
	ID                string     `json:"id"`
	Workspace         string     `json:"workspace"`
	ExternalSessionID string     `json:"external_session_id"`
	AgentType         string     `json:"agent_type"`
	ModelID           *string    `json:"model_id,omitempty"`
	StartedAt         time.Time  `json:"started_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	MessageCount      int        `json:"message_count"`
	TotalTokens       int        `json:"total_tokens"`
	Status            string     `json:"status"`
	Outcome           *string    `json:"outcome,omitempty"`
}

// SessionStats aggregates over the sessions matching a filter.
type SessionStats struct {
	Count           int     `json:"count"`
	ActiveCount     int     `json:"active_count"`
	AverageDuration float64 `json:"average_duration_seconds"`
	TotalMessages   int     `json:"total_messages"`
	TotalTokens     int     `json:"total_tokens"`
}

// Workspace is a resolved workspace as reported by the server.
type Workspace struct {
	ID           string     `json:"id"`
	WorkspaceRef string     `json:"workspace_ref"`
	Application  string     `json:"application"`
	Machine      string     `json:"machine"`
	Project      *string    `json:"project,omitempty"`
	Path         string     `json:"path"`
	RepoURL      *string    `json:"repo_url,omitempty"`
	Created      time.Time  `json:"created,omitempty"`
	LastSeenAt   time.Time  `json:"last_seen_at,omitempty"`
}

// Application is an editor or agent host as reported by the server.
type Application struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Platform string `json:"platform"`
}

// Machine is a development machine as reported by the server.
type Machine struct {
	ID       string  `json:"id"`
	Hostname string  `json:"hostname"`
	Username *string `json:"username,omitempty"`
	OSType   *string `json:"os_type,omitempty"`
}

// CreatedSet records which hierarchy entities a resolution newly created.
type CreatedSet struct {
	Application bool `json:"application"`
	Machine     bool `json:"machine"`
	Workspace   bool `json:"workspace"`
}

// WorkspaceContext is the full hierarchy behind a workspace reference.
type WorkspaceContext struct {
	Application Application `json:"application"`
	Machine     Machine     `json:"machine"`
	Workspace   Workspace   `json:"workspace"`
	ProjectID   *string     `json:"project_id,omitempty"`
	Created     CreatedSet  `json:"created"`
}

// SessionOptions narrows session queries.
type SessionOptions struct {
	WorkspaceRef string
	AgentType    string
	Status       string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
}

func (o *SessionOptions) query() url.Values {
	q := url.Values{}
	if o == nil {
		return q
	}
	if o.WorkspaceRef != "" {
		q.Set("workspace_ref", o.WorkspaceRef)
	}
	if o.AgentType != "" {
		q.Set("agent_type", o.AgentType)
	}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.StartTime != nil {
		q.Set("start_time", o.StartTime.Format(time.RFC3339))
	}
	if o.EndTime != nil {
		q.Set("end_time", o.EndTime.Format(time.RFC3339))
	}
	if o.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", o.Limit))
	}
	return q
}

// EventOptions narrows event queries.
type EventOptions struct {
	ProjectID string
	SessionID string
	EventType string
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

func (o *EventOptions) query() url.Values {
	q := url.Values{}
	if o == nil {
		return q
	}
	if o.ProjectID != "" {
		q.Set("project_id", o.ProjectID)
	}
	if o.SessionID != "" {
		q.Set("session_id", o.SessionID)
	}
	if o.EventType != "" {
		q.Set("event_type", o.EventType)
	}
	if o.StartTime != nil {
		q.Set("start_time", o.StartTime.Format(time.RFC3339))
	}
	if o.EndTime != nil {
		q.Set("end_time", o.EndTime.Format(time.RFC3339))
	}
	if o.Limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", o.Limit))
	}
	return q
}

// =============================================================================
// Import
// =============================================================================

type importChatRequest struct {
	Sessions []models.RawChatSession `json:"sessions"`
}

// ImportChat submits a batch of exported chat sessions and returns the
// pending run snapshot. The import continues server-side; poll with
// GetImportProgress.
func (c *Client) ImportChat(ctx context.Context, sessions []models.RawChatSession) (*ImportProgress, error) {
	var progress ImportProgress
	err := c.do(ctx, http.MethodPost, "/api/import/chat", nil, importChatRequest{Sessions: sessions}, &progress)
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// GetImportProgress fetches the current snapshot of an ingestion run.
func (c *Client) GetImportProgress(ctx context.Context, runID string) (*ImportProgress, error) {
	var progress ImportProgress
	err := c.do(ctx, http.MethodGet, "/api/import/"+url.PathEscape(runID), nil, nil, &progress)
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// =============================================================================
// Events
// =============================================================================

type appendEventsRequest struct {
	Events []models.AgentEvent `json:"events"`
}

// AppendEvents submits a batch of agent telemetry events.
func (c *Client) AppendEvents(ctx context.Context, events []models.AgentEvent) (*AppendResult, error) {
	var result AppendResult
	err := c.do(ctx, http.MethodPost, "/api/events", nil, appendEventsRequest{Events: events}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetEvents queries stored events in chronological order.
func (c *Client) GetEvents(ctx context.Context, opts *EventOptions) ([]models.AgentEvent, error) {
	var events []models.AgentEvent
	if err := c.do(ctx, http.MethodGet, "/api/events", opts.query(), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// =============================================================================
// Sessions
// =============================================================================

// ListSessions queries sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, opts *SessionOptions) ([]Session, error) {
	var sessions []Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions", opts.query(), nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetActiveSessions queries sessions that have not ended yet.
func (c *Client) GetActiveSessions(ctx context.Context, opts *SessionOptions) ([]Session, error) {
	var sessions []Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions/active", opts.query(), nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetSession fetches a single session by its full id, e.g. "myrepo/abc123".
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

type endSessionRequest struct {
	Outcome *string `json:"outcome,omitempty"`
}

// EndSession marks an active session as completed.
func (c *Client) EndSession(ctx context.Context, id string, outcome *string) (*Session, error) {
	var session Session
	path := "/api/sessions/" + url.PathEscape(id) + "/end"
	if err := c.do(ctx, http.MethodPost, path, nil, endSessionRequest{Outcome: outcome}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSessionStats aggregates sessions matching the filter.
func (c *Client) GetSessionStats(ctx context.Context, opts *SessionOptions) (*SessionStats, error) {
	var stats SessionStats
	if err := c.do(ctx, http.MethodGet, "/api/sessions/stats", opts.query(), nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// =============================================================================
// Workspaces
// =============================================================================

type resolveWorkspaceRequest struct {
	WorkspaceRef string                 `json:"workspace_ref"`
	Hints        *models.WorkspaceHints `json:"hints,omitempty"`
}

// ResolveWorkspace resolves a workspace reference, creating the hierarchy
// from the hints when the reference is new. Nil hints means strict lookup.
func (c *Client) ResolveWorkspace(ctx context.Context, ref string, hints *models.WorkspaceHints) (*WorkspaceContext, error) {
	var wsCtx WorkspaceContext
	req := resolveWorkspaceRequest{WorkspaceRef: ref, Hints: hints}
	if err := c.do(ctx, http.MethodPost, "/api/workspaces/resolve", nil, req, &wsCtx); err != nil {
		return nil, err
	}
	return &wsCtx, nil
}

// GetWorkspace looks up an existing workspace reference without creating anything.
func (c *Client) GetWorkspace(ctx context.Context, ref string) (*WorkspaceContext, error) {
	var wsCtx WorkspaceContext
	if err := c.do(ctx, http.MethodGet, "/api/workspaces/"+url.PathEscape(ref), nil, nil, &wsCtx); err != nil {
		return nil, err
	}
	return &wsCtx, nil
}

// =============================================================================
// Server
// =============================================================================

// ServerStats returns the server's operation timing snapshot.
func (c *Client) ServerStats(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	if err := c.do(ctx, http.MethodGet, "/api/stats/server", nil, nil, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// =============================================================================
// Live stream
// =============================================================================

// Envelope is one broadcast message from the live stream.
type Envelope struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Watch subscribes to the server's live event stream over WebSocket and
// invokes onEvent for every envelope. Returns when the context is cancelled,
// the connection drops, or onEvent returns an error.
func (c *Client) Watch(ctx context.Context, onEvent func(Envelope) error) error {
	wsEndpoint := c.baseURL + "/api/stream/ws"
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if err := onEvent(env); err != nil {
			return err
		}
	}
}
