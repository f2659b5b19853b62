package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flowgraph"
	"github.com/meikuraledutech/flowgraph/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSessions(store flowgraph.SessionStore, opts ...SessionsOption) (*Sessions, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewSessions(store, func() *flowgraph.Graph { return flowgraph.New() }, opts...)
	r.now = clock.now
	return r, clock
}

func TestSessions_DroppedFromStoreIsEvicted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	r, _ := newTestSessions(store)

	ls, err := r.Create(ctx, "alice", nil)
	require.NoError(t, err)
	require.Equal(t, 1, r.Loaded())

	// Expired or deleted by another instance.
	require.NoError(t, store.DeleteSession(ctx, ls.ID()))

	_, err = r.Get(ctx, ls.ID(), "alice")
	assert.ErrorIs(t, err, flowgraph.ErrSessionNotFound)
	assert.Zero(t, r.Loaded())
}

func TestSessions_IdleSessionsAreUnloaded(t *testing.T) {
	ctx := context.Background()
	r, clock := newTestSessions(memory.NewSessionStore(), WithIdleTimeout(time.Hour))

	idle, err := r.Create(ctx, "alice", nil)
	require.NoError(t, err)
	_, err = idle.Graph().AddNode(flowgraph.KindText)
	require.NoError(t, err)
	require.NoError(t, r.Save(ctx, idle))

	clock.advance(30 * time.Minute)
	active, err := r.Create(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Loaded())

	clock.advance(45 * time.Minute)
	_, err = r.Get(ctx, active.ID(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Loaded(), "idle session unloaded")

	// Still in the store, so it loads again.
	back, err := r.Get(ctx, idle.ID(), "alice")
	require.NoError(t, err)
	assert.NotSame(t, idle, back)
	assert.Len(t, back.Graph().Nodes(), 1)
	assert.Equal(t, 2, r.Loaded())
}

func TestSessions_RunningSessionIsKept(t *testing.T) {
	ctx := context.Background()
	r, clock := newTestSessions(memory.NewSessionStore(), WithIdleTimeout(time.Minute))

	busy, err := r.Create(ctx, "alice", nil)
	require.NoError(t, err)
	llm, err := busy.Graph().AddNode(flowgraph.KindLLM)
	require.NoError(t, err)
	require.NoError(t, busy.Graph().UpdateNodeData(llm.ID, map[string]any{"loading": true}))

	clock.advance(time.Hour)
	_, err = r.Create(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Loaded())

	got, err := r.Get(ctx, busy.ID(), "alice")
	require.NoError(t, err)
	assert.Same(t, busy, got)
}

func TestSessions_NoIdleTimeoutKeepsSessions(t *testing.T) {
	ctx := context.Background()
	r, clock := newTestSessions(memory.NewSessionStore())

	_, err := r.Create(ctx, "alice", nil)
	require.NoError(t, err)
	clock.advance(1000 * time.Hour)
	_, err = r.Create(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Loaded())
}
