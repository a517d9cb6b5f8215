package ir

import (
	"slices"

	"github.com/pkg/errors"
)

// Verify checks the structural invariants of the graph:
//
//   - every live node's kind is registered and its operand/result counts match the kind;
//   - every operand of a live node is a live value, whose use list records that operand slot;
//   - every use recorded in a value's use list references a live node holding the value in that slot;
//   - graph outputs are live values.
func (g *Graph) Verify() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, node := range g.nodes {
		if node == nil || node.dead {
			continue
		}
		info, found := LookupKind(node.Kind)
		if !found {
			return errors.Wrapf(ErrUnknownKind, "node %s", node)
		}
		if info.NumOperands != Variadic && len(node.Operands) != info.NumOperands {
			return errors.Wrapf(ErrMalformedNode, "%s has %d operands, kind requires %d",
				node, len(node.Operands), info.NumOperands)
		}
		if len(node.Results) != info.NumResults {
			return errors.Wrapf(ErrMalformedNode, "%s has %d results, kind requires %d",
				node, len(node.Results), info.NumResults)
		}
		for ii, operand := range node.Operands {
			if operand == NoValue {
				continue
			}
			v, err := g.liveValueLocked(operand)
			if err != nil {
				return errors.WithMessagef(err, "operand #%d of %s", ii, node)
			}
			if !slices.Contains(v.uses, Use{Node: node.ID, Operand: ii}) {
				return errors.Errorf("operand #%d of %s (%q) is missing from the value's use list", ii, node, v.Name)
			}
		}
		for _, result := range node.Results {
			v := g.values[result]
			for _, use := range v.uses {
				consumer, err := g.liveNodeLocked(use.Node)
				if err != nil {
					return errors.WithMessagef(err, "use of %q", v.Name)
				}
				if consumer.Operand(use.Operand) != result {
					return errors.Errorf("use of %q by %s operand #%d is stale", v.Name, consumer, use.Operand)
				}
			}
		}
	}
	for ii, output := range g.outputs {
		if _, err := g.liveValueLocked(output); err != nil {
			return errors.WithMessagef(err, "graph output #%d", ii)
		}
	}
	return nil
}
