// Package models defines data structures for the devlog observability store.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Application represents an editor or agent host (VS Code, Cursor, a CLI
// agent). Identity is (platform, path).
type Application struct {
	ID       surrealmodels.RecordID `json:"id"`
	Name     string                 `json:"name"`
	Path     string                 `json:"path"`
	Platform string                 `json:"platform"`
	Parser   *string                `json:"parser,omitempty"`
	Created  time.Time              `json:"created,omitempty"`
}

// Machine represents a development machine, unique by hostname.
type Machine struct {
	ID          surrealmodels.RecordID `json:"id"`
	Hostname    string                 `json:"hostname"`
	Username    *string                `json:"username,omitempty"`
	OSType      *string                `json:"os_type,omitempty"`
	FirstSeenAt time.Time              `json:"first_seen_at,omitempty"`
}

// Workspace is a resolved editor/agent project context, unique by the opaque
// workspace reference the editor reports.
type Workspace struct {
	ID           surrealmodels.RecordID  `json:"id"`
	WorkspaceRef string                  `json:"workspace_ref"`
	Application  surrealmodels.RecordID  `json:"application"`
	Machine      surrealmodels.RecordID  `json:"machine"`
	Project      *surrealmodels.RecordID `json:"project,omitempty"`
	Path         string                  `json:"path"`
	RepoURL      *string                 `json:"repo_url,omitempty"`
	Created      time.Time               `json:"created,omitempty"`
	LastSeenAt   time.Time               `json:"last_seen_at,omitempty"`
}

// WorkspaceHints carries the caller-supplied identity hints used when a
// workspace reference is seen for the first time. A nil hints value puts the
// resolver in strict lookup mode.
type WorkspaceHints struct {
	Platform      string  `json:"platform"`
	AppPath       string  `json:"app_path"`
	AppName       string  `json:"app_name,omitempty"`
	Parser        *string `json:"parser,omitempty"`
	Hostname      string  `json:"hostname"`
	Username      *string `json:"username,omitempty"`
	OSType        *string `json:"os_type,omitempty"`
	WorkspacePath string  `json:"workspace_path"`
	RepoURL       *string `json:"repo_url,omitempty"`
}

// CreatedSet records which hierarchy entities a resolution newly created, as
// opposed to matched. Tests and callers can assert on creation counts instead
// of final state.
type CreatedSet struct {
	Application bool `json:"application"`
	Machine     bool `json:"machine"`
	Workspace   bool `json:"workspace"`
}

// WorkspaceContext is the result of resolving a workspace reference into the
// Application/Machine/Workspace hierarchy.
type WorkspaceContext struct {
	Application Application `json:"application"`
	Machine     Machine     `json:"machine"`
	Workspace   Workspace   `json:"workspace"`
	ProjectID   *string     `json:"project_id,omitempty"`
	Created     CreatedSet  `json:"created"`
}
