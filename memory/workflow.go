// Package memory provides in-process implementations of the flowgraph
// stores, used for tests, local development and the CLI.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/meikuraledutech/flowgraph"
)

// WorkflowStore implements flowgraph.WorkflowStore in memory.
type WorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]flowgraph.Workflow
	ids       flowgraph.IDGenerator
	now       func() time.Time
}

var _ flowgraph.WorkflowStore = (*WorkflowStore)(nil)

// NewWorkflowStore returns an empty store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{
		workflows: make(map[string]flowgraph.Workflow),
		ids:       flowgraph.UUIDGenerator{},
		now:       time.Now,
	}
}

func (s *WorkflowStore) CreateSchema(context.Context) error { return nil }

// DropSchema discards every workflow.
func (s *WorkflowStore) DropSchema(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows = make(map[string]flowgraph.Workflow)
	return nil
}

func (s *WorkflowStore) CreateWorkflow(_ context.Context, w *flowgraph.Workflow) (*flowgraph.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.ID == "" {
		w.ID = s.ids.NextID()
	}
	if len(w.Nodes) == 0 {
		w.Nodes = flowgraph.EmptyList
	}
	if len(w.Edges) == 0 {
		w.Edges = flowgraph.EmptyList
	}
	w.CreatedAt = s.tick()
	w.UpdatedAt = w.CreatedAt
	s.workflows[w.ID] = *w
	return w, nil
}

func (s *WorkflowStore) ListWorkflows(_ context.Context, ownerID string, q flowgraph.ListQuery) (*flowgraph.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(q.Search)
	var items []flowgraph.Workflow
	for _, w := range s.workflows {
		if w.OwnerID != ownerID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(w.Name), search) {
			continue
		}
		items = append(items, w)
	}
	slices.SortFunc(items, func(a, b flowgraph.Workflow) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	if q.Cursor != "" {
		i := slices.IndexFunc(items, func(w flowgraph.Workflow) bool { return w.ID == q.Cursor })
		if i < 0 {
			items = nil
		} else {
			items = items[i:]
		}
	}

	page := &flowgraph.Page{Items: []flowgraph.Workflow{}}
	limit := q.PageSize()
	if len(items) > limit {
		page.NextCursor = items[limit].ID
		items = items[:limit]
	}
	page.Items = append(page.Items, items...)
	return page, nil
}

func (s *WorkflowStore) GetWorkflow(_ context.Context, ownerID, id string) (*flowgraph.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workflows[id]
	if !ok || w.OwnerID != ownerID {
		return nil, nil
	}
	return &w, nil
}

func (s *WorkflowStore) UpdateWorkflow(_ context.Context, ownerID string, u *flowgraph.WorkflowUpdate) (*flowgraph.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[u.ID]
	if !ok {
		return nil, flowgraph.ErrWorkflowNotFound
	}
	if w.OwnerID != ownerID {
		return nil, flowgraph.ErrForbidden
	}
	if u.Name != nil {
		w.Name = *u.Name
	}
	w.Nodes, w.Edges = flowgraph.EmptyList, flowgraph.EmptyList
	if len(u.Nodes) > 0 {
		w.Nodes = u.Nodes
	}
	if len(u.Edges) > 0 {
		w.Edges = u.Edges
	}
	w.UpdatedAt = s.tick()
	s.workflows[w.ID] = w
	return &w, nil
}

func (s *WorkflowStore) DeleteWorkflow(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workflows[id]
	if !ok || w.OwnerID != ownerID {
		return flowgraph.ErrWorkflowNotFound
	}
	delete(s.workflows, id)
	return nil
}

// tick returns a timestamp strictly after every one handed out so far, so
// ordering by UpdatedAt is stable even when the clock is coarse.
func (s *WorkflowStore) tick() time.Time {
	t := s.now()
	for _, w := range s.workflows {
		if !t.After(w.UpdatedAt) {
			t = w.UpdatedAt.Add(time.Microsecond)
		}
	}
	return t
}
