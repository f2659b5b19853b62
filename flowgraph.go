package flowgraph

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Kind is the closed set of node types the editor knows about.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindLLM    Kind = "llm"
	KindOutput Kind = "output"
)

// Kinds lists every valid node kind.
var Kinds = []Kind{KindText, KindImage, KindLLM, KindOutput}

// Valid reports whether k is one of the known node kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindLLM, KindOutput:
		return true
	}
	return false
}

// Handle names the input slot on an llm node an edge feeds.
type Handle = string

const (
	HandleSystem Handle = "system"
	HandleUser   Handle = "user"
	HandleImages Handle = "images"
)

// Default visual edge kind assigned by Connect and AddOutputNode.
const DefaultEdgeType = "smoothstep"

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a vertex in the workflow graph.
// Data is nil only for nodes hydrated with an unknown type; their data is
// kept verbatim in RawData. Fields the graph does not model (Extra, and
// DataExtra inside data) are carried through encoding untouched.
type Node struct {
	ID        string                     `json:"id"`
	Type      Kind                       `json:"type"`
	Position  Position                   `json:"position"`
	Data      NodeData                   `json:"data"`
	Selected  bool                       `json:"selected,omitempty"`
	Width     *float64                   `json:"width,omitempty"`
	Height    *float64                   `json:"height,omitempty"`
	RawData   json.RawMessage            `json:"-"`
	DataExtra map[string]json.RawMessage `json:"-"`
	Extra     map[string]json.RawMessage `json:"-"`
}

type nodeJSON struct {
	ID       string          `json:"id"`
	Type     Kind            `json:"type"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data,omitempty"`
	Selected bool            `json:"selected,omitempty"`
	Width    *float64        `json:"width,omitempty"`
	Height   *float64        `json:"height,omitempty"`
}

var nodeKeys = []string{"id", "type", "position", "data", "selected", "width", "height"}

// UnmarshalJSON decodes the node and its type-specific data.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	extra, err := extraFields(b, nodeKeys)
	if err != nil {
		return err
	}
	*n = Node{
		ID:       raw.ID,
		Type:     raw.Type,
		Position: raw.Position,
		Selected: raw.Selected,
		Width:    raw.Width,
		Height:   raw.Height,
		Extra:    extra,
	}
	if !raw.Type.Valid() {
		if len(raw.Data) > 0 {
			n.RawData = slices.Clone(raw.Data)
		}
		return nil
	}

	fields := map[string]any{}
	if len(raw.Data) > 0 && string(raw.Data) != "null" {
		if fields, err = decodeFields(raw.Data); err != nil {
			return fmt.Errorf("flowgraph: node %s data: %w", raw.ID, err)
		}
	}
	data, dataExtra, err := decodeData(raw.Type, fields)
	if err != nil {
		return fmt.Errorf("flowgraph: node %s data: %w", raw.ID, err)
	}
	n.Data, n.DataExtra = data, dataExtra
	return nil
}

// MarshalJSON encodes the node with its unmodelled fields merged back in.
func (n Node) MarshalJSON() ([]byte, error) {
	data, err := n.encodeData()
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(nodeJSON{
		ID:       n.ID,
		Type:     n.Type,
		Position: n.Position,
		Data:     data,
		Selected: n.Selected,
		Width:    n.Width,
		Height:   n.Height,
	})
	if err != nil {
		return nil, err
	}
	return withExtra(b, n.Extra)
}

// encodeData returns the JSON object stored under "data".
func (n Node) encodeData() (json.RawMessage, error) {
	if n.Data == nil {
		return n.RawData, nil
	}
	b, err := json.Marshal(n.Data)
	if err != nil {
		return nil, err
	}
	return withExtra(b, n.DataExtra)
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	c := n
	if n.Data != nil {
		c.Data = n.Data.clone()
	}
	if n.Width != nil {
		w := *n.Width
		c.Width = &w
	}
	if n.Height != nil {
		h := *n.Height
		c.Height = &h
	}
	c.RawData = slices.Clone(n.RawData)
	c.DataExtra = maps.Clone(n.DataExtra)
	c.Extra = maps.Clone(n.Extra)
	return c
}

// Edge is a directed connection between two nodes.
// TargetHandle names the llm input slot it feeds; it is empty for output targets.
// Extra holds fields the graph does not model, such as style or markerEnd.
type Edge struct {
	ID           string                     `json:"id"`
	Source       string                     `json:"source"`
	Target       string                     `json:"target"`
	SourceHandle string                     `json:"sourceHandle,omitempty"`
	TargetHandle string                     `json:"targetHandle,omitempty"`
	Type         string                     `json:"type,omitempty"`
	Animated     bool                       `json:"animated,omitempty"`
	Selected     bool                       `json:"selected,omitempty"`
	Extra        map[string]json.RawMessage `json:"-"`
}

// edgeJSON has Edge's fields without its methods.
type edgeJSON Edge

var edgeKeys = []string{"id", "source", "target", "sourceHandle", "targetHandle", "type", "animated", "selected"}

// UnmarshalJSON decodes the edge and keeps its unmodelled fields.
func (e *Edge) UnmarshalJSON(b []byte) error {
	var raw edgeJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	extra, err := extraFields(b, edgeKeys)
	if err != nil {
		return err
	}
	raw.Extra = extra
	*e = Edge(raw)
	return nil
}

// MarshalJSON encodes the edge with its unmodelled fields merged back in.
func (e Edge) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(edgeJSON(e))
	if err != nil {
		return nil, err
	}
	return withExtra(b, e.Extra)
}

// extraFields returns the members of the JSON object b not named in known.
func extraFields(b []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// withExtra adds the members of extra that b does not already set.
func withExtra(b []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return b, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := all[k]; !ok {
			all[k] = v
		}
	}
	return json.Marshal(all)
}

// Connection is a candidate edge proposed by the UI.
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// Snapshot is a consistent copy of the graph's nodes and edges.
type Snapshot struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Inputs is the bundle the resolver hands to the generation collaborator.
type Inputs struct {
	System string   `json:"system,omitempty"`
	User   string   `json:"user,omitempty"`
	Images []string `json:"images,omitempty"`
}
