// Package server exposes the telemetry REST API and the live event stream.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/codervisor/devlog/internal/hub"
	"github.com/codervisor/devlog/internal/metrics"
	"github.com/codervisor/devlog/internal/models"
	"github.com/codervisor/devlog/internal/service"
)

// SessionService is the session surface the handlers consume.
type SessionService interface {
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error)
	GetActiveSessions(ctx context.Context, filter models.SessionFilter) ([]models.Session, error)
	EndSession(ctx context.Context, id string, outcome *string) (*models.Session, error)
	GetSessionStats(ctx context.Context, filter models.SessionFilter) (*models.SessionStats, error)
}

// EventService is the event surface the handlers consume.
type EventService interface {
	AppendEvents(ctx context.Context, events []models.AgentEvent) (*service.AppendResult, error)
	GetEvents(ctx context.Context, filter models.EventFilter) ([]models.AgentEvent, error)
}

// ImportService submits chat session batches.
type ImportService interface {
	IngestChatSessions(ctx context.Context, batch []models.RawChatSession) (*service.Progress, error)
}

// RunService reports import run progress.
type RunService interface {
	GetProgress(ctx context.Context, runID string) *service.Progress
}

// WorkspaceService resolves workspace references.
type WorkspaceService interface {
	ResolveWorkspace(ctx context.Context, ref string, hints *models.WorkspaceHints) (*models.WorkspaceContext, error)
}

// Server wires the service layer to the HTTP surface.
type Server struct {
	sessions   SessionService
	events     EventService
	importer   ImportService
	runs       RunService
	workspaces WorkspaceService
	hub        *hub.Hub
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// New creates a server over the given services.
func New(
	sessions SessionService,
	events EventService,
	importer ImportService,
	runs RunService,
	workspaces WorkspaceService,
	broadcast *hub.Hub,
	mc *metrics.Collector,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sessions:   sessions,
		events:     events,
		importer:   importer,
		runs:       runs,
		workspaces: workspaces,
		hub:        broadcast,
		metrics:    mc,
		logger:     logger,
	}
}

// Handler returns the routed HTTP handler with logging middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/import/chat", s.handleImportChat)
	mux.HandleFunc("GET /api/import/{runId}", s.handleImportProgress)

	mux.HandleFunc("POST /api/events", s.handleAppendEvents)
	mux.HandleFunc("GET /api/events", s.handleGetEvents)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/sessions/active", s.handleActiveSessions)
	mux.HandleFunc("GET /api/sessions/stats", s.handleSessionStats)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /api/sessions/{id}/end", s.handleEndSession)

	mux.HandleFunc("POST /api/workspaces/resolve", s.handleResolveWorkspace)
	mux.HandleFunc("GET /api/workspaces/{ref}", s.handleGetWorkspace)

	mux.HandleFunc("GET /api/stream", s.handleSSE)
	mux.HandleFunc("GET /api/stream/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/stats/server", s.handleServerStats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return LoggingMiddleware(s.logger)(mux)
}
