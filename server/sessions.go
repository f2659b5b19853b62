package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meikuraledutech/flowgraph"
)

// EditorSession is an editor session whose graph is loaded in this process.
type EditorSession struct {
	mu         sync.Mutex
	id         string
	owner      string
	workflowID string
	graph      *flowgraph.Graph

	// lastUsed is guarded by the registry lock.
	lastUsed time.Time
}

func (ls *EditorSession) ID() string               { return ls.id }
func (ls *EditorSession) Graph() *flowgraph.Graph { return ls.graph }

// WorkflowID is the saved workflow backing the session, if any.
func (ls *EditorSession) WorkflowID() string {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.workflowID
}

func (ls *EditorSession) setWorkflowID(id string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.workflowID = id
}

// Sessions keeps live graphs in memory and mirrors them to a SessionStore so
// a session survives restarts and can be served by another instance.
// The store is authoritative: a live session it no longer holds is dropped,
// and sessions idle for longer than the idle timeout are unloaded.
type Sessions struct {
	mu       sync.Mutex
	live     map[string]*EditorSession
	store    flowgraph.SessionStore
	newGraph func() *flowgraph.Graph
	ids      flowgraph.IDGenerator
	now      func() time.Time
	idle     time.Duration
}

// SessionsOption configures a Sessions registry.
type SessionsOption func(*Sessions)

// WithIdleTimeout unloads sessions not used for d. Zero keeps them loaded.
func WithIdleTimeout(d time.Duration) SessionsOption {
	return func(r *Sessions) {
		r.idle = d
	}
}

// NewSessions returns a registry backed by store.
func NewSessions(store flowgraph.SessionStore, newGraph func() *flowgraph.Graph, opts ...SessionsOption) *Sessions {
	r := &Sessions{
		live:     make(map[string]*EditorSession),
		store:    store,
		newGraph: newGraph,
		ids:      flowgraph.UUIDGenerator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create starts a session for owner, optionally hydrated from a workflow.
func (r *Sessions) Create(ctx context.Context, owner string, wf *flowgraph.Workflow) (*EditorSession, error) {
	ls := &EditorSession{
		id:    r.ids.NextID(),
		owner: owner,
		graph: r.newGraph(),
	}
	if wf != nil {
		snap, err := flowgraph.DecodeSnapshot(wf.Nodes, wf.Edges)
		if err != nil {
			return nil, err
		}
		ls.graph.SetWorkflow(snap.Nodes, snap.Edges)
		ls.workflowID = wf.ID
	}
	if err := r.Save(ctx, ls); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sweep()
	ls.lastUsed = r.now()
	r.live[ls.id] = ls
	r.mu.Unlock()
	return ls, nil
}

// Get returns the owner's session, loading it from the store if needed.
// Sessions of other owners are reported as not found.
func (r *Sessions) Get(ctx context.Context, id, owner string) (*EditorSession, error) {
	r.mu.Lock()
	r.sweep()
	ls, ok := r.live[id]
	r.mu.Unlock()

	stored, err := r.store.LoadSession(ctx, id)
	if errors.Is(err, flowgraph.ErrSessionNotFound) && ok {
		r.evict(ls)
	}
	if err != nil {
		return nil, err
	}
	if stored.OwnerID != owner {
		return nil, flowgraph.ErrSessionNotFound
	}
	if ok {
		r.touch(ls)
		return ls, nil
	}

	snap, err := flowgraph.DecodeSnapshot(stored.Nodes, stored.Edges)
	if err != nil {
		return nil, err
	}
	ls = &EditorSession{
		id:         stored.ID,
		owner:      stored.OwnerID,
		workflowID: stored.WorkflowID,
		graph:      r.newGraph(),
	}
	ls.graph.SetWorkflow(snap.Nodes, snap.Edges)

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have loaded it meanwhile.
	if existing, ok := r.live[id]; ok {
		existing.lastUsed = r.now()
		return existing, nil
	}
	ls.lastUsed = r.now()
	r.live[id] = ls
	return ls, nil
}

// Loaded reports how many sessions are held in memory.
func (r *Sessions) Loaded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Sessions) touch(ls *EditorSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ls.lastUsed = r.now()
}

func (r *Sessions) evict(ls *EditorSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live[ls.id] == ls {
		delete(r.live, ls.id)
	}
}

// sweep unloads idle sessions without a run in flight. Callers hold r.mu.
func (r *Sessions) sweep() {
	if r.idle <= 0 {
		return
	}
	cutoff := r.now().Add(-r.idle)
	for id, ls := range r.live {
		if ls.lastUsed.Before(cutoff) && !ls.graph.Running() {
			delete(r.live, id)
		}
	}
}

// Save writes the session's current graph to the store.
func (r *Sessions) Save(ctx context.Context, ls *EditorSession) error {
	nodes, edges, err := ls.graph.Snapshot().Encode()
	if err != nil {
		return err
	}
	if err := r.store.SaveSession(ctx, &flowgraph.Session{
		ID:         ls.id,
		OwnerID:    ls.owner,
		WorkflowID: ls.WorkflowID(),
		Nodes:      nodes,
		Edges:      edges,
		UpdatedAt:  r.now(),
	}); err != nil {
		return fmt.Errorf("save session %s: %w", ls.id, err)
	}
	return nil
}

// Delete drops the owner's session from memory and the store.
func (r *Sessions) Delete(ctx context.Context, id, owner string) error {
	if _, err := r.Get(ctx, id, owner); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
	if err := r.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, flowgraph.ErrSessionNotFound) {
		return err
	}
	return nil
}
