package ir

// Prune physically removes dead nodes, and live nodes none of whose results are used nor are
// graph outputs. Graph inputs are never removed. It iterates until no more nodes can be removed and
// returns the number of nodes removed.
//
// Lowering never prunes: it leaves replaced nodes and unused weights behind for the caller.
func (g *Graph) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	isInput := make(map[ValueID]bool, len(g.inputs))
	for _, id := range g.inputs {
		isInput[id] = true
	}
	isOutput := make(map[ValueID]bool, len(g.outputs))
	for _, id := range g.outputs {
		isOutput[id] = true
	}

	removed := 0
	for {
		changed := false
		for id, node := range g.nodes {
			if node == nil {
				continue
			}
			if !node.dead && !g.isUnusedLocked(node, isInput, isOutput) {
				continue
			}
			if !node.dead {
				g.eraseLocked(node)
			}
			for _, result := range node.Results {
				if v := g.values[result]; v != nil && g.valueByName[v.Name] == result {
					delete(g.valueByName, v.Name)
				}
				g.values[result] = nil
			}
			delete(g.weights, node.ID)
			g.nodes[id] = nil
			removed++
			changed = true
		}
		if !changed {
			return removed
		}
	}
}

func (g *Graph) isUnusedLocked(node *Node, isInput, isOutput map[ValueID]bool) bool {
	for _, result := range node.Results {
		v := g.values[result]
		if isInput[result] || isOutput[result] || len(v.uses) > 0 {
			return false
		}
	}
	return true
}
