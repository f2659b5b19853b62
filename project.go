package flowgraph

// Materialized is the value an output node re-exposes from its upstream.
// The zero value means empty.
type Materialized struct {
	Type  OutputType `json:"type,omitempty"`
	Text  string     `json:"text,omitempty"`
	Image string     `json:"image,omitempty"`
}

// IsEmpty reports whether nothing was materialized.
func (m Materialized) IsEmpty() bool {
	return m.Type == ""
}

// Key identifies the content for change detection.
func (m Materialized) Key() string {
	if m.IsEmpty() {
		return "empty"
	}
	return string(m.Type) + "-" + m.Text + "-" + m.Image
}

// Materialize derives the value of output node id from its current upstream.
func (g *Graph) Materialize(id string) (Materialized, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.find(id)
	if n == nil {
		return Materialized{}, ErrNodeNotFound
	}
	if n.Type != KindOutput {
		return Materialized{}, ErrNotOutputNode
	}
	return g.materialize(id), nil
}

func (g *Graph) materialize(id string) Materialized {
	var src *Node
	for _, e := range g.edges {
		if e.Target == id {
			src = g.find(e.Source)
			break
		}
	}
	if src == nil {
		return Materialized{}
	}

	switch d := src.Data.(type) {
	case *LLMData:
		switch {
		case d.OutputImage != "" && d.Output != "":
			return Materialized{Type: OutputBoth, Text: d.Output, Image: d.OutputImage}
		case d.OutputImage != "":
			return Materialized{Type: OutputImage, Image: d.OutputImage}
		case d.Output != "":
			return Materialized{Type: OutputText, Text: d.Output}
		}
	case *TextData:
		if d.Value != "" {
			return Materialized{Type: OutputText, Text: d.Value}
		}
	case *ImageData:
		if d.Preview != "" {
			return Materialized{Type: OutputImage, Image: d.Preview}
		}
	case *OutputData:
		// Only text propagates through a chain of output nodes.
		if d.Value != "" {
			return Materialized{Type: OutputText, Text: d.Value}
		}
	}
	return Materialized{}
}

// refreshOutputs re-derives every output node and writes back only the ones
// whose content key changed. Chained outputs settle over repeated passes; the
// pass count is bounded so output-to-output loops cannot spin.
func (g *Graph) refreshOutputs() {
	outputs := 0
	for _, n := range g.nodes {
		if n.Type == KindOutput {
			outputs++
		}
	}

	for pass := 0; pass <= outputs; pass++ {
		changed := false
		for i := range g.nodes {
			n := &g.nodes[i]
			if n.Type != KindOutput {
				continue
			}
			m := g.materialize(n.ID)
			key := m.Key()
			if prev, ok := g.projected[n.ID]; ok && prev == key {
				continue
			}
			g.projected[n.ID] = key
			n.Data = &OutputData{Value: m.Text, Type: m.Type, Text: m.Text, Image: m.Image}
			changed = true
		}
		if !changed {
			return
		}
	}
}
