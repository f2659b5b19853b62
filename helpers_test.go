package flowgraph

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestGraph(opts ...Option) *Graph {
	return New(append([]Option{WithRand(func() float64 { return 0.5 })}, opts...)...)
}

func mustAdd(t *testing.T, g *Graph, k Kind) Node {
	t.Helper()
	n, err := g.AddNode(k)
	require.NoError(t, err)
	return n
}

func mustUpdate(t *testing.T, g *Graph, id string, patch map[string]any) {
	t.Helper()
	require.NoError(t, g.UpdateNodeData(id, patch))
}

func mustConnect(t *testing.T, g *Graph, src, dst, handle string) Edge {
	t.Helper()
	e, ok := g.Connect(Connection{Source: src, Target: dst, TargetHandle: handle})
	require.True(t, ok, "connect %s -> %s (%s)", src, dst, handle)
	return e
}

func dataOf[T NodeData](t *testing.T, g *Graph, id string) T {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok, "node %s", id)
	d, ok := n.Data.(T)
	require.True(t, ok, "node %s has data %T", id, n.Data)
	return d
}

type recordingObserver struct {
	mu       sync.Mutex
	checks   []bool
	outcomes []RunOutcome
}

func (o *recordingObserver) ConnectionChecked(_ Kind, _ string, accepted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checks = append(o.checks, accepted)
}

func (o *recordingObserver) RunFinished(_ string, outcome RunOutcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) runOutcomes() []RunOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RunOutcome(nil), o.outcomes...)
}
