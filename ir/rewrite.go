package ir

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
)

// Replace swaps the node old for a new node of the given kind, operands, result types and
// attributes, and returns the new node.
//
// Every use of old's result i (including graph outputs) is redirected to the new node's result i,
// keeping the consumer's operand slot. The old node is marked dead and its own operand uses are
// dropped; its arena slot is only freed by Prune. The whole rewrite happens under the graph's
// write lock, and consumers are copied on write: a *Node handed out before the rewrite keeps its
// old operands, so a view taken in one call (Nodes, TopologicalOrder) is never partially
// redirected. Fetch the node again (Graph.Node) to see the new operands.
//
// Operands defined by old, or by any node that transitively consumes old's results, are rejected
// since they would create a cycle.
//
// The new node takes old's name, and its results take over the names of old's results.
func (g *Graph) Replace(old NodeID, kind Kind, resultTypes []TensorType, operands []ValueID, attrs Attributes) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	oldNode, err := g.liveNodeLocked(old)
	if err != nil {
		return nil, errors.WithMessage(err, "replacing node")
	}
	if len(resultTypes) != len(oldNode.Results) {
		return nil, errors.Wrapf(ErrMalformedNode, "replacing %s (%d results) with %s with %d results",
			oldNode, len(oldNode.Results), kind, len(resultTypes))
	}
	downstream := g.downstreamLocked(oldNode)
	for ii, operand := range operands {
		if operand == NoValue {
			continue
		}
		if operand < 0 || int(operand) >= len(g.values) || g.values[operand] == nil {
			continue // Reported by addNodeLocked.
		}
		if def := g.values[operand].Def; downstream.Has(def) {
			return nil, errors.Wrapf(ErrMalformedNode, "operand #%d of the replacement of %s is defined by %s, which depends on the node being replaced",
				ii, oldNode, g.nodes[def])
		}
	}

	newNode, err := g.addNodeLocked(kind, oldNode.Name, operands, resultTypes, attrs)
	if err != nil {
		return nil, errors.WithMessagef(err, "replacing %s", oldNode)
	}

	// From here on nothing can fail.
	redirect := make(map[ValueID]ValueID, len(oldNode.Results))
	clones := make(map[NodeID]*Node)
	for ii, oldValueID := range oldNode.Results {
		oldValue := g.values[oldValueID]
		newValue := g.values[newNode.Results[ii]]
		newValue.Name = oldValue.Name
		g.valueByName[oldValue.Name] = newValue.ID
		redirect[oldValueID] = newValue.ID
		for _, use := range oldValue.uses {
			consumer, found := clones[use.Node]
			if !found {
				consumer = g.nodes[use.Node].clone()
				clones[use.Node] = consumer
			}
			consumer.Operands[use.Operand] = newValue.ID
		}
		newValue.uses = append(newValue.uses, oldValue.uses...)
		oldValue.uses = nil
	}
	for ii, output := range g.outputs {
		if newID, found := redirect[output]; found {
			g.outputs[ii] = newID
		}
	}
	for id, consumer := range clones {
		g.nodes[id] = consumer
	}
	g.eraseLocked(oldNode)
	return newNode, nil
}

// clone returns a copy of the node that doesn't share Operands with it.
func (n *Node) clone() *Node {
	c := *n
	c.Operands = slices.Clone(n.Operands)
	return &c
}

// downstreamLocked returns the IDs of node and of every live node that transitively consumes
// its results.
func (g *Graph) downstreamLocked(node *Node) sets.Set[NodeID] {
	visited := sets.Make[NodeID]()
	pending := []NodeID{node.ID}
	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if visited.Has(id) {
			continue
		}
		visited.Insert(id)
		for _, result := range g.nodes[id].Results {
			for _, use := range g.values[result].uses {
				pending = append(pending, use.Node)
			}
		}
	}
	return visited
}

// eraseLocked marks the node dead and removes its entries from the use lists of its operands.
func (g *Graph) eraseLocked(node *Node) {
	node.dead = true
	for ii, operand := range node.Operands {
		if operand == NoValue {
			continue
		}
		v := g.values[operand]
		if v == nil {
			continue
		}
		uses := v.uses[:0]
		for _, use := range v.uses {
			if use.Node == node.ID && use.Operand == ii {
				continue
			}
			uses = append(uses, use)
		}
		v.uses = uses
	}
}
