package flowgraph

// IsValidConnection reports whether c may be added to the graph.
// It never mutates the graph and returns the same answer for the same state.
func (g *Graph) IsValidConnection(c Connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isValid(c)
}

// Connect adds an edge for c if the validator accepts it. Rejected or
// duplicate connections leave the graph untouched.
func (g *Graph) Connect(c Connection) (Edge, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.isValid(c) {
		g.logger.Debug("connection rejected", "source", c.Source, "target", c.Target, "handle", c.TargetHandle)
		return Edge{}, false
	}
	for _, e := range g.edges {
		if e.Source == c.Source && e.Target == c.Target &&
			e.SourceHandle == c.SourceHandle && e.TargetHandle == c.TargetHandle {
			return Edge{}, false
		}
	}

	e := Edge{
		ID:           g.nextEdgeID("edge-" + c.Source + c.SourceHandle + "-" + c.Target + c.TargetHandle),
		Source:       c.Source,
		Target:       c.Target,
		SourceHandle: c.SourceHandle,
		TargetHandle: c.TargetHandle,
		Type:         DefaultEdgeType,
		Animated:     true,
	}
	g.edges = append(g.edges, e)
	g.refreshOutputs()
	return e, true
}

func (g *Graph) isValid(c Connection) bool {
	src, dst := g.find(c.Source), g.find(c.Target)
	if src == nil || dst == nil || !src.Type.Valid() || !dst.Type.Valid() {
		return false
	}
	ok := Accepts(src.Type, dst.Type, c.TargetHandle)
	if ok && !exemptFromCycleCheck(dst.Type) {
		ok = !HasCycle(c.Source, c.Target, g.nodes, g.edges)
	}
	g.observer.ConnectionChecked(dst.Type, c.TargetHandle, ok)
	return ok
}

// Accepts applies the per-kind capability rules for an edge from a source of
// kind src into handle on a target of kind dst. Targets without special rules
// accept anything here and are left to the cycle check.
func Accepts(src, dst Kind, handle string) bool {
	switch dst {
	case KindLLM:
		switch handle {
		case HandleSystem, HandleUser:
			return src == KindText || src == KindOutput
		case HandleImages:
			return src == KindImage || src == KindOutput
		}
		return false
	case KindOutput:
		switch src {
		case KindLLM, KindText, KindImage, KindOutput:
			return true
		}
		return false
	case KindText, KindImage:
		return true
	}
	return false
}

// exemptFromCycleCheck lists the target kinds whose capability rules already
// decide the connection. New kinds must be added here deliberately.
func exemptFromCycleCheck(k Kind) bool {
	switch k {
	case KindLLM, KindOutput:
		return true
	case KindText, KindImage:
		return false
	}
	return false
}
