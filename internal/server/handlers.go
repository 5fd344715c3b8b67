package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/codervisor/devlog/internal/models"
	"github.com/codervisor/devlog/internal/service"
)

// maxBodyBytes caps request bodies; chat exports can be large but not
// unbounded.
const maxBodyBytes = 32 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", service.ErrValidation, err)
	}
	return nil
}

type importChatRequest struct {
	Sessions []models.RawChatSession `json:"sessions"`
}

func (s *Server) handleImportChat(w http.ResponseWriter, r *http.Request) {
	var req importChatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	progress, err := s.importer.IngestChatSessions(r.Context(), req.Sessions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, progress)
}

func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	progress := s.runs.GetProgress(r.Context(), runID)
	if progress == nil {
		writeError(w, fmt.Errorf("%w: run %q", service.ErrNotFound, runID))
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

type appendEventsRequest struct {
	Events []models.AgentEvent `json:"events"`
}

func (s *Server) handleAppendEvents(w http.ResponseWriter, r *http.Request) {
	var req appendEventsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := s.events.AppendEvents(r.Context(), req.Events)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := eventFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := s.events.GetEvents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.AgentEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sessions, err := s.sessions.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleActiveSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sessions, err := s.sessions.GetActiveSessions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	filter, err := sessionFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := s.sessions.GetSessionStats(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type endSessionRequest struct {
	Outcome *string `json:"outcome,omitempty"`
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if r.ContentLength > 0 {
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	session, err := s.sessions.EndSession(r.Context(), r.PathValue("id"), req.Outcome)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type resolveWorkspaceRequest struct {
	WorkspaceRef string                 `json:"workspace_ref"`
	Hints        *models.WorkspaceHints `json:"hints,omitempty"`
}

func (s *Server) handleResolveWorkspace(w http.ResponseWriter, r *http.Request) {
	var req resolveWorkspaceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	wsCtx, err := s.workspaces.ResolveWorkspace(r.Context(), req.WorkspaceRef, req.Hints)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wsCtx)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	// Strict lookup: unknown references are 404, never auto-created.
	wsCtx, err := s.workspaces.ResolveWorkspace(r.Context(), r.PathValue("ref"), nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wsCtx)
}

func (s *Server) handleServerStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func sessionFilterFromQuery(r *http.Request) (models.SessionFilter, error) {
	var filter models.SessionFilter
	q := r.URL.Query()

	if v := q.Get("workspace_ref"); v != "" {
		filter.WorkspaceRef = &v
	}
	if v := q.Get("agent_type"); v != "" {
		filter.AgentType = &v
	}
	if v := q.Get("status"); v != "" {
		filter.Status = &v
	}
	var err error
	if filter.StartTime, err = timeParam(q.Get("start_time")); err != nil {
		return filter, err
	}
	if filter.EndTime, err = timeParam(q.Get("end_time")); err != nil {
		return filter, err
	}
	if filter.Limit, err = limitParam(q.Get("limit")); err != nil {
		return filter, err
	}
	return filter, nil
}

func eventFilterFromQuery(r *http.Request) (models.EventFilter, error) {
	var filter models.EventFilter
	q := r.URL.Query()

	if v := q.Get("project_id"); v != "" {
		filter.ProjectID = &v
	}
	if v := q.Get("session_id"); v != "" {
		filter.SessionID = &v
	}
	if v := q.Get("event_type"); v != "" {
		filter.EventType = &v
	}
	var err error
	if filter.StartTime, err = timeParam(q.Get("start_time")); err != nil {
		return filter, err
	}
	if filter.EndTime, err = timeParam(q.Get("end_time")); err != nil {
		return filter, err
	}
	if filter.Limit, err = limitParam(q.Get("limit")); err != nil {
		return filter, err
	}
	return filter, nil
}

func timeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: bad time %q: %v", service.ErrValidation, v, err)
	}
	return &t, nil
}

func limitParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad limit %q", service.ErrValidation, v)
	}
	return n, nil
}
