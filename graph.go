package flowgraph

import (
	"io"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
)

// Graph is the single source of truth for a workflow's nodes and edges.
// Every operation runs under the graph's lock, so validation, resolution and
// projection always see a consistent view. Readers receive copies.
type Graph struct {
	mu    sync.Mutex
	nodes []Node
	edges []Edge

	ids      IDGenerator
	random   func() float64
	logger   *slog.Logger
	observer Observer

	// projected holds the key of the last materialized value written per output node.
	projected map[string]string
	// runs holds the latest run token per llm node.
	runs   map[string]uint64
	runSeq uint64
}

// Option configures a Graph.
type Option func(*Graph)

// WithIDGenerator sets the node id generator (default: NewCounter("node")).
func WithIDGenerator(ids IDGenerator) Option {
	return func(g *Graph) {
		g.ids = ids
	}
}

// WithRand sets the source of the random initial node positions.
func WithRand(random func() float64) Option {
	return func(g *Graph) {
		g.random = random
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		g.logger = logger
	}
}

// WithObserver registers an observer for connection checks and runs.
func WithObserver(o Observer) Option {
	return func(g *Graph) {
		g.observer = o
	}
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		ids:       NewCounter("node"),
		random:    rand.Float64,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer:  nopObserver{},
		projected: make(map[string]string),
		runs:      make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddNode appends a node of kind k with a fresh id, a random position and
// the kind's default data.
func (g *Graph) AddNode(k Kind) (Node, error) {
	if !k.Valid() {
		return Node{}, ErrUnknownNodeType
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	n := Node{
		ID:   g.nextID(),
		Type: k,
		Position: Position{
			X: g.random() * 400,
			Y: g.random() * 400,
		},
		Data: defaultData(k),
	}
	g.nodes = append(g.nodes, n)
	g.refreshOutputs()
	return n.Clone(), nil
}

// UpdateNodeData shallow-merges patch into the node's data. Keys mapped to
// nil clear the field. An unknown id is a no-op. Every field is writable,
// run state and derived output data included; user edits go through
// EditNodeData.
func (g *Graph) UpdateNodeData(id string, patch map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.updateData(id, patch)
}

// runStateKeys are the llm fields only a run may write.
var runStateKeys = []string{"loading", "output", "outputImage", "outputType", "error"}

// EditNodeData applies a user edit. Output node data is derived and cannot
// be edited; run state keys in an llm patch are ignored.
func (g *Graph) EditNodeData(id string, patch map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.find(id)
	if n == nil {
		return nil
	}
	switch n.Type {
	case KindOutput:
		return ErrDerivedData
	case KindLLM:
		patch = maps.Clone(patch)
		for _, k := range runStateKeys {
			delete(patch, k)
		}
	}
	return g.updateData(id, patch)
}

func (g *Graph) updateData(id string, patch map[string]any) error {
	i := g.indexOf(id)
	if i < 0 || g.nodes[i].Data == nil {
		return nil
	}
	data, extra, err := mergeData(g.nodes[i], patch)
	if err != nil {
		return err
	}
	g.nodes[i].Data, g.nodes[i].DataExtra = data, extra
	g.refreshOutputs()
	return nil
}

// Running reports whether any llm node has a run in flight.
func (g *Graph) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		if d, ok := n.Data.(*LLMData); ok && d.Loading {
			return true
		}
	}
	return false
}

// DeleteNode removes the node and every edge touching it.
func (g *Graph) DeleteNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeNode(id)
	g.refreshOutputs()
}

func (g *Graph) removeNode(id string) {
	g.nodes = slices.DeleteFunc(g.nodes, func(n Node) bool { return n.ID == id })
	g.edges = slices.DeleteFunc(g.edges, func(e Edge) bool { return e.Source == id || e.Target == id })
	delete(g.projected, id)
	delete(g.runs, id)
}

// SetWorkflow replaces the graph contents with a loaded workflow.
// Edges that reference missing nodes are dropped, transient loading flags are
// cleared and any in-flight run is invalidated.
func (g *Graph) SetWorkflow(nodes []Node, edges []Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make([]Node, 0, len(nodes))
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		c := n.Clone()
		if d, ok := c.Data.(*LLMData); ok {
			d.Loading = false
		}
		g.nodes = append(g.nodes, c)
		present[n.ID] = true
	}

	g.edges = make([]Edge, 0, len(edges))
	for _, e := range edges {
		if !present[e.Source] || !present[e.Target] {
			g.logger.Debug("dropping dangling edge", "edge", e.ID, "source", e.Source, "target", e.Target)
			continue
		}
		g.edges = append(g.edges, e)
	}

	g.projected = make(map[string]string)
	g.runs = make(map[string]uint64)
	g.refreshOutputs()
}

// Snapshot returns a copy of the current nodes and edges.
func (g *Graph) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{Nodes: g.copyNodes(), Edges: slices.Clone(g.edges)}
}

// Nodes returns a copy of the current nodes.
func (g *Graph) Nodes() []Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.copyNodes()
}

// Edges returns a copy of the current edges.
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.edges)
}

// Node returns a copy of the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.find(id)
	if n == nil {
		return Node{}, false
	}
	return n.Clone(), true
}

// AddOutputNode creates an output node to the right of source and wires it up.
// If source already feeds an output node nothing happens and ok is false.
func (g *Graph) AddOutputNode(sourceID string) (n Node, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	src := g.find(sourceID)
	if src == nil {
		return Node{}, false
	}
	for _, e := range g.edges {
		if e.Source != sourceID {
			continue
		}
		if t := g.find(e.Target); t != nil && t.Type == KindOutput {
			return Node{}, false
		}
	}

	n = Node{
		ID:   g.nextID(),
		Type: KindOutput,
		Position: Position{
			X: src.Position.X + 360,
			Y: src.Position.Y,
		},
		Data: defaultData(KindOutput),
	}
	g.nodes = append(g.nodes, n)
	g.edges = append(g.edges, Edge{
		ID:       g.nextEdgeID("edge-" + sourceID + "-" + n.ID),
		Source:   sourceID,
		Target:   n.ID,
		Type:     DefaultEdgeType,
		Animated: true,
	})
	g.refreshOutputs()

	got, _ := g.findCopy(n.ID)
	return got, true
}

func (g *Graph) nextID() string {
	for {
		id := g.ids.NextID()
		if g.indexOf(id) < 0 {
			return id
		}
	}
}

// nextEdgeID returns base, or base with the first free numeric suffix.
func (g *Graph) nextEdgeID(base string) string {
	id := base
	for i := 2; slices.ContainsFunc(g.edges, func(e Edge) bool { return e.ID == id }); i++ {
		id = base + "-" + strconv.Itoa(i)
	}
	return id
}

func (g *Graph) indexOf(id string) int {
	return slices.IndexFunc(g.nodes, func(n Node) bool { return n.ID == id })
}

func (g *Graph) find(id string) *Node {
	if i := g.indexOf(id); i >= 0 {
		return &g.nodes[i]
	}
	return nil
}

func (g *Graph) findCopy(id string) (Node, bool) {
	if n := g.find(id); n != nil {
		return n.Clone(), true
	}
	return Node{}, false
}

func (g *Graph) copyNodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Clone()
	}
	return out
}
