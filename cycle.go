package flowgraph

// HasCycle reports whether adding an edge source→target would close a cycle,
// i.e. whether target already reaches source over the given edges.
// The search uses an explicit stack so graph depth never grows the call stack.
func HasCycle(source, target string, nodes []Node, edges []Edge) bool {
	present := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		present[n.ID] = true
	}
	if !present[source] || !present[target] {
		return false
	}

	adj := make(map[string][]string)
	for _, e := range edges {
		if present[e.Source] && present[e.Target] {
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}

	stack := []string{target}
	visited := make(map[string]bool)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[cur] {
			continue
		}
		visited[cur] = true

		if cur == source {
			return true
		}
		stack = append(stack, adj[cur]...)
	}
	return false
}
