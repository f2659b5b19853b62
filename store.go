package flowgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Workflow is a saved editor graph. Nodes and Edges are stored verbatim.
type Workflow struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"userId"`
	Name      string          `json:"name"`
	Nodes     json.RawMessage `json:"nodes"`
	Edges     json.RawMessage `json:"edges"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// WorkflowUpdate replaces a workflow's graph. A nil Name keeps the current
// name; nil Nodes or Edges reset them to an empty list.
type WorkflowUpdate struct {
	ID    string          `json:"id"`
	Name  *string         `json:"name,omitempty"`
	Nodes json.RawMessage `json:"nodes,omitempty"`
	Edges json.RawMessage `json:"edges,omitempty"`
}

// ListQuery selects a page of an owner's workflows.
type ListQuery struct {
	Limit  int    `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Search string `json:"search,omitempty"`
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// PageSize clamps the requested limit.
func (q ListQuery) PageSize() int {
	switch {
	case q.Limit <= 0:
		return DefaultPageSize
	case q.Limit > MaxPageSize:
		return MaxPageSize
	}
	return q.Limit
}

// Page is one page of workflows, newest first. NextCursor is empty on the last page.
type Page struct {
	Items      []Workflow `json:"items"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// WorkflowStore persists workflows scoped to an owner.
type WorkflowStore interface {
	// Schema
	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error

	CreateWorkflow(ctx context.Context, w *Workflow) (*Workflow, error)
	ListWorkflows(ctx context.Context, ownerID string, q ListQuery) (*Page, error)
	// GetWorkflow returns nil, nil when the workflow does not exist or is not owned by ownerID.
	GetWorkflow(ctx context.Context, ownerID, id string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, ownerID string, u *WorkflowUpdate) (*Workflow, error)
	DeleteWorkflow(ctx context.Context, ownerID, id string) error
}

// Session is the persisted state of an editor session.
type Session struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"ownerId"`
	WorkflowID string          `json:"workflowId,omitempty"`
	Nodes      json.RawMessage `json:"nodes"`
	Edges      json.RawMessage `json:"edges"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// SessionStore keeps editor sessions between requests.
type SessionStore interface {
	SaveSession(ctx context.Context, s *Session) error
	// LoadSession returns ErrSessionNotFound when the session is unknown or expired.
	LoadSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// EmptyList is the stored form of an empty node or edge list.
var EmptyList = json.RawMessage(`[]`)

// Encode serializes the snapshot for storage.
func (s Snapshot) Encode() (nodes, edges json.RawMessage, err error) {
	if s.Nodes == nil {
		s.Nodes = []Node{}
	}
	if s.Edges == nil {
		s.Edges = []Edge{}
	}
	if nodes, err = json.Marshal(s.Nodes); err != nil {
		return nil, nil, fmt.Errorf("flowgraph: encode nodes: %w", err)
	}
	if edges, err = json.Marshal(s.Edges); err != nil {
		return nil, nil, fmt.Errorf("flowgraph: encode edges: %w", err)
	}
	return nodes, edges, nil
}

// DecodeSnapshot parses stored nodes and edges. Empty input decodes to empty lists.
func DecodeSnapshot(nodes, edges json.RawMessage) (Snapshot, error) {
	var s Snapshot
	if len(nodes) > 0 && string(nodes) != "null" {
		if err := json.Unmarshal(nodes, &s.Nodes); err != nil {
			return Snapshot{}, fmt.Errorf("flowgraph: decode nodes: %w", err)
		}
	}
	if len(edges) > 0 && string(edges) != "null" {
		if err := json.Unmarshal(edges, &s.Edges); err != nil {
			return Snapshot{}, fmt.Errorf("flowgraph: decode edges: %w", err)
		}
	}
	return s, nil
}
