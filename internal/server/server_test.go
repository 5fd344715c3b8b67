package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codervisor/devlog/internal/hub"
	"github.com/codervisor/devlog/internal/models"
	"github.com/codervisor/devlog/internal/service"
)

type stubSessions struct {
	sessions []models.Session
	stats    *models.SessionStats
	err      error
}

func (s *stubSessions) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.sessions) == 0 {
		return nil, fmt.Errorf("%w: session %q", service.ErrNotFound, id)
	}
	return &s.sessions[0], nil
}

func (s *stubSessions) ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	return s.sessions, s.err
}

func (s *stubSessions) GetActiveSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error) {
	return s.sessions, s.err
}

func (s *stubSessions) EndSession(ctx context.Context, id string, outcome *string) (*models.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Session{ExternalSessionID: id, Status: models.SessionStatusCompleted, Outcome: outcome}, nil
}

func (s *stubSessions) GetSessionStats(ctx context.Context, filter models.SessionFilter) (*models.SessionStats, error) {
	return s.stats, s.err
}

type stubEvents struct {
	result *service.AppendResult
	events []models.AgentEvent
	err    error
}

func (s *stubEvents) AppendEvents(ctx context.Context, events []models.AgentEvent) (*service.AppendResult, error) {
	return s.result, s.err
}

func (s *stubEvents) GetEvents(ctx context.Context, filter models.EventFilter) ([]models.AgentEvent, error) {
	return s.events, s.err
}

type stubImporter struct {
	progress *service.Progress
	err      error
}

func (s *stubImporter) IngestChatSessions(ctx context.Context, batch []models.RawChatSession) (*service.Progress, error) {
	return s.progress, s.err
}

type stubRuns struct {
	progress *service.Progress
}

func (s *stubRuns) GetProgress(ctx context.Context, runID string) *service.Progress {
	return s.progress
}

type stubWorkspaces struct {
	ctx *models.WorkspaceContext
	err error
}

func (s *stubWorkspaces) ResolveWorkspace(ctx context.Context, ref string, hints *models.WorkspaceHints) (*models.WorkspaceContext, error) {
	return s.ctx, s.err
}

type serverStubs struct {
	sessions   *stubSessions
	events     *stubEvents
	importer   *stubImporter
	runs       *stubRuns
	workspaces *stubWorkspaces
	hub        *hub.Hub
}

func newTestServer(t *testing.T) (*httptest.Server, *serverStubs) {
	t.Helper()
	stubs := &serverStubs{
		sessions:   &stubSessions{},
		events:     &stubEvents{result: &service.AppendResult{}},
		importer:   &stubImporter{progress: &service.Progress{RunID: "run1", Status: service.RunStatusPending}},
		runs:       &stubRuns{},
		workspaces: &stubWorkspaces{},
		hub:        hub.New(8, nil),
	}
	srv := New(stubs.sessions, stubs.events, stubs.importer, stubs.runs, stubs.workspaces, stubs.hub, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, stubs
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListSessionsReturnsJSON(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.sessions.sessions = []models.Session{
		{ExternalSessionID: "s1", AgentType: "claude-code", Status: models.SessionStatusActive},
	}

	resp, err := http.Get(ts.URL + "/api/sessions?agent_type=claude-code")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []models.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].ExternalSessionID)
}

func TestListSessionsRejectsBadTime(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions?start_time=yesterday")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorTaxonomyMapsToStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", service.ErrNotFound, http.StatusNotFound},
		{"invalid state", service.ErrInvalidState, http.StatusConflict},
		{"degraded", service.ErrDegraded, http.StatusServiceUnavailable},
		{"validation", service.ErrValidation, http.StatusBadRequest},
		{"payload too large", service.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"infrastructure", service.ErrInfrastructure, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, stubs := newTestServer(t)
			stubs.sessions.err = fmt.Errorf("wrapped: %w", tt.err)

			resp, err := http.Post(ts.URL+"/api/sessions/ws-1%2Fs1/end", "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAppendEventsTooLarge(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.events.err = fmt.Errorf("%w: 1001 events", service.ErrPayloadTooLarge)

	resp, err := http.Post(ts.URL+"/api/events", "application/json", strings.NewReader(`{"events":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestImportChatAccepted(t *testing.T) {
	ts, _ := newTestServer(t)

	body := `{"sessions":[{"external_id":"s1","workspace_ref":"ws-1","agent_type":"claude-code","started_at":"2026-08-01T10:00:00Z"}]}`
	resp, err := http.Post(ts.URL+"/api/import/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got service.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "run1", got.RunID)
}

func TestImportProgressUnknownRun(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/import/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImportChatRejectsMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/import/chat", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResolveWorkspace(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.workspaces.ctx = &models.WorkspaceContext{
		Workspace: models.Workspace{WorkspaceRef: "ws-1"},
		Created:   models.CreatedSet{Workspace: true},
	}

	body := `{"workspace_ref":"ws-1","hints":{"platform":"vscode","app_path":"/usr/share/code","hostname":"h1","workspace_path":"/p"}}`
	resp, err := http.Post(ts.URL+"/api/workspaces/resolve", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got models.WorkspaceContext
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.True(t, got.Created.Workspace)
}

func TestGetWorkspaceStrictMiss(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.workspaces.err = fmt.Errorf("%w: workspace", service.ErrNotFound)

	resp, err := http.Get(ts.URL + "/api/workspaces/ws-ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSSEStreamDeliversEnvelopes(t *testing.T) {
	ts, stubs := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the handler's subscription before publishing.
	require.Eventually(t, func() bool {
		return stubs.hub.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)
	stubs.hub.Publish("session.imported", map[string]string{"id": "s1"})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	assert.Equal(t, "event: session.imported", eventLine)

	var env hub.Envelope
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &env))
	assert.Equal(t, "session.imported", env.Type)
}

func TestWebSocketStreamDeliversEnvelopes(t *testing.T) {
	ts, stubs := newTestServer(t)

	wsURL, err := url.Parse(ts.URL)
	require.NoError(t, err)
	wsURL.Scheme = "ws"
	wsURL.Path = "/api/stream/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return stubs.hub.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)
	stubs.hub.Publish("event.appended", map[string]string{"event_id": "e1"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env hub.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "event.appended", env.Type)
}
