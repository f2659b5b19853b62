package flowgraph

import "slices"

// ChangeType enumerates the UI deltas ApplyNodeChanges and ApplyEdgeChanges understand.
type ChangeType string

const (
	ChangePosition   ChangeType = "position"
	ChangeSelect     ChangeType = "select"
	ChangeDimensions ChangeType = "dimensions"
	ChangeRemove     ChangeType = "remove"
)

// Dimensions is a measured node size.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NodeChange is a single node delta.
type NodeChange struct {
	Type       ChangeType  `json:"type"`
	ID         string      `json:"id"`
	Position   *Position   `json:"position,omitempty"`
	Dragging   bool        `json:"dragging,omitempty"`
	Selected   bool        `json:"selected,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
}

// EdgeChange is a single edge delta.
type EdgeChange struct {
	Type     ChangeType `json:"type"`
	ID       string     `json:"id"`
	Selected bool       `json:"selected,omitempty"`
}

// ApplyNodeChanges applies a batch of node deltas in order. Removing a node
// also removes its edges. Changes for unknown ids are ignored.
func (g *Graph) ApplyNodeChanges(changes []NodeChange) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := false
	for _, c := range changes {
		n := g.find(c.ID)
		if n == nil {
			continue
		}
		switch c.Type {
		case ChangePosition:
			if c.Position != nil {
				n.Position = *c.Position
			}
		case ChangeSelect:
			n.Selected = c.Selected
		case ChangeDimensions:
			if c.Dimensions != nil {
				w, h := c.Dimensions.Width, c.Dimensions.Height
				n.Width, n.Height = &w, &h
			}
		case ChangeRemove:
			g.removeNode(c.ID)
			removed = true
		}
	}
	if removed {
		g.refreshOutputs()
	}
}

// ApplyEdgeChanges applies a batch of edge deltas in order.
func (g *Graph) ApplyEdgeChanges(changes []EdgeChange) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := false
	for _, c := range changes {
		i := slices.IndexFunc(g.edges, func(e Edge) bool { return e.ID == c.ID })
		if i < 0 {
			continue
		}
		switch c.Type {
		case ChangeSelect:
			g.edges[i].Selected = c.Selected
		case ChangeRemove:
			g.edges = slices.Delete(g.edges, i, i+1)
			removed = true
		}
	}
	if removed {
		g.refreshOutputs()
	}
}
