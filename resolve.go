package flowgraph

// ResolveInputs gathers the inputs of the llm node id from its incoming edges.
// A connected handle always wins; the node's manual systemPrompt/userMessage
// are used only for handles nothing is connected to.
func (g *Graph) ResolveInputs(id string) (Inputs, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resolve(id)
}

func (g *Graph) resolve(id string) (Inputs, error) {
	n := g.find(id)
	if n == nil {
		return Inputs{}, ErrNodeNotFound
	}
	llm, ok := n.Data.(*LLMData)
	if !ok {
		return Inputs{}, ErrNotExecutable
	}

	var in Inputs
	connected := map[string]bool{}
	for _, e := range g.edges {
		if e.Target != id {
			continue
		}
		connected[e.TargetHandle] = true

		src := g.find(e.Source)
		if src == nil {
			continue
		}
		switch d := src.Data.(type) {
		case *TextData:
			in.setText(e.TargetHandle, d.Value)
		case *ImageData:
			if e.TargetHandle == HandleImages {
				in.addImage(d.Preview)
			}
		case *OutputData:
			in.setText(e.TargetHandle, d.Value)
			if e.TargetHandle == HandleImages {
				in.addImage(d.Image)
			}
		case *LLMData:
			// Not a valid upstream for an llm node.
		}
	}

	if !connected[HandleSystem] && llm.SystemPrompt != "" {
		in.System = llm.SystemPrompt
	}
	if !connected[HandleUser] && llm.UserMessage != "" {
		in.User = llm.UserMessage
	}
	return in, nil
}

func (in *Inputs) setText(handle, v string) {
	if v == "" {
		return
	}
	switch handle {
	case HandleSystem:
		in.System = v
	case HandleUser:
		in.User = v
	}
}

// addImage forwards only non-empty encoded images.
func (in *Inputs) addImage(v string) {
	if v == "" {
		return
	}
	in.Images = append(in.Images, v)
}
