package models

import "time"

// RawChatSession is one imported chat transcript as handed to the ingestion
// pipeline, before hierarchy resolution.
type RawChatSession struct {
	ExternalID   string          `json:"external_id"`
	WorkspaceRef string          `json:"workspace_ref"`
	AgentType    string          `json:"agent_type"`
	ModelID      *string         `json:"model_id,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	Hints        *WorkspaceHints `json:"hints,omitempty"`
	Turns        []RawTurn       `json:"turns"`
}

// RawTurn is one request/response cycle of an imported transcript.
type RawTurn struct {
	Status      string       `json:"status,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Messages    []RawMessage `json:"messages"`
}

// RawMessage is one message of an imported turn.
type RawMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Tokens    int            `json:"tokens,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TokenCount sums the token counts of all messages in the session.
func (s *RawChatSession) TokenCount() int {
	total := 0
	for _, t := range s.Turns {
		for _, m := range t.Messages {
			total += m.Tokens
		}
	}
	return total
}

// MessageCount counts all messages in the session.
func (s *RawChatSession) MessageCount() int {
	total := 0
	for _, t := range s.Turns {
		total += len(t.Messages)
	}
	return total
}
