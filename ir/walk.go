package ir

import (
	"github.com/gomlx/gomlx/pkg/support/sets"
)

// TopologicalOrder returns the live nodes ordered such that the defining node of every operand
// comes before its consumers. Ties are broken by creation order, so the result is deterministic.
func (g *Graph) TopologicalOrder() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	visited := sets.Make[NodeID]()
	order := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		if node == nil || node.dead {
			continue
		}
		order = g.recursiveTopologicalOrder(node, visited, order)
	}
	return order
}

// recursiveTopologicalOrder appends node to order after all of its operands' defining nodes.
func (g *Graph) recursiveTopologicalOrder(node *Node, visited sets.Set[NodeID], order []*Node) []*Node {
	if visited.Has(node.ID) {
		return order
	}
	visited.Insert(node.ID)
	for _, operand := range node.Operands {
		if operand == NoValue {
			continue
		}
		def := g.nodes[g.values[operand].Def]
		if def == nil || def.dead {
			continue
		}
		order = g.recursiveTopologicalOrder(def, visited, order)
	}
	return append(order, node)
}

// Walk calls fn for each live node in topological order.
//
// The order is computed once, upfront, so fn may call Replace: nodes erased during the walk are
// skipped, replacement nodes created during the walk are not visited, and fn always receives the
// current version of a node whose operands were redirected earlier in the walk. The walk stops at
// the first error returned by fn.
func (g *Graph) Walk(fn func(node *Node) error) error {
	for _, visit := range g.TopologicalOrder() {
		node := g.LiveNode(visit.ID)
		if node == nil {
			continue
		}
		if err := fn(node); err != nil {
			return err
		}
	}
	return nil
}
