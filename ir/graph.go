package ir

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// NodeID is the stable arena index of a node.
type NodeID int

// ValueID is the stable arena index of a value.
type ValueID int

// NoValue marks an absent optional operand (e.g. a convolution without bias).
const NoValue ValueID = -1

// Use is one consumer of a value: operand slot Operand of node Node.
type Use struct {
	Node    NodeID
	Operand int
}

// Value is a tensor produced by exactly one node and consumed by zero or more nodes.
type Value struct {
	ID    ValueID
	Name  string
	Type  TensorType
	Def   NodeID
	Index int // Result index in Def.

	uses []Use
}

// Node is an operation instance.
//
// Nodes returned by a Graph must be treated as read-only: lowering never mutates a node, it
// replaces it with Graph.Replace.
type Node struct {
	ID       NodeID
	Kind     Kind
	Name     string
	Operands []ValueID
	Results  []ValueID
	Attrs    Attributes

	dead bool
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	if n == nil {
		return "<nil node>"
	}
	return fmt.Sprintf("%s %q", n.Kind, n.Name)
}

// Operand returns operand i, or NoValue if the node has fewer operands.
func (n *Node) Operand(i int) ValueID {
	if i < 0 || i >= len(n.Operands) {
		return NoValue
	}
	return n.Operands[i]
}

// HasOperand reports whether operand slot i is present (not NoValue).
func (n *Node) HasOperand(i int) bool {
	return n.Operand(i) != NoValue
}

// Result returns result i.
func (n *Node) Result(i int) ValueID {
	return n.Results[i]
}

// Graph is an arena of nodes and values.
//
// All methods are safe for concurrent use. Structural mutations (AddNode, Replace, Prune) take
// the write lock, and nodes already handed out are never modified (Replace copies consumers on
// write), so readers never observe a partially applied rewrite.
type Graph struct {
	Name string

	mu          sync.RWMutex
	nodes       []*Node
	values      []*Value
	weights     map[NodeID]any
	names       map[string]bool
	valueByName map[string]ValueID
	inputs      []ValueID
	outputs     []ValueID
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		Name:        name,
		weights:     make(map[NodeID]any),
		names:       make(map[string]bool),
		valueByName: make(map[string]ValueID),
	}
}

// AddInput adds a graph input with the given name and type, and returns its value.
func (g *Graph) AddInput(name string, t TensorType) ValueID {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, err := g.addNodeLocked(KindInput, name, nil, []TensorType{t}, nil)
	if err != nil {
		// Inputs have no operands: adding one cannot fail.
		panic(err)
	}
	g.inputs = append(g.inputs, node.Results[0])
	return node.Results[0]
}

// AddNode creates a node of the given kind. Result values are named after the node.
//
// It fails with ErrUnknownKind for unregistered kinds, ErrMalformedNode if the operand or
// result counts don't match the kind, and ErrNotLive if an operand is not a live value.
func (g *Graph) AddNode(kind Kind, name string, operands []ValueID, resultTypes []TensorType, attrs Attributes) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(kind, name, operands, resultTypes, attrs)
}

func (g *Graph) addNodeLocked(kind Kind, name string, operands []ValueID, resultTypes []TensorType, attrs Attributes) (*Node, error) {
	info, found := LookupKind(kind)
	if !found {
		return nil, errors.Wrapf(ErrUnknownKind, "creating node %q of kind %q", name, kind)
	}
	if info.NumOperands != Variadic && len(operands) != info.NumOperands {
		return nil, errors.Wrapf(ErrMalformedNode, "%s %q requires %d operands, got %d",
			kind, name, info.NumOperands, len(operands))
	}
	if len(resultTypes) != info.NumResults {
		return nil, errors.Wrapf(ErrMalformedNode, "%s %q requires %d results, got %d",
			kind, name, info.NumResults, len(resultTypes))
	}
	for ii, operand := range operands {
		if operand == NoValue {
			continue
		}
		if _, err := g.liveValueLocked(operand); err != nil {
			return nil, errors.WithMessagef(err, "operand #%d of %s %q", ii, kind, name)
		}
	}

	node := &Node{
		ID:       NodeID(len(g.nodes)),
		Kind:     kind,
		Name:     name,
		Operands: slices.Clone(operands),
		Attrs:    attrs.Clone(),
	}
	g.nodes = append(g.nodes, node)
	g.names[name] = true
	for ii, t := range resultTypes {
		valueName := name
		if len(resultTypes) > 1 {
			valueName = fmt.Sprintf("%s_%d", name, ii)
		}
		v := &Value{
			ID:    ValueID(len(g.values)),
			Name:  valueName,
			Type:  t,
			Def:   node.ID,
			Index: ii,
		}
		g.values = append(g.values, v)
		g.valueByName[valueName] = v.ID
		node.Results = append(node.Results, v.ID)
	}
	for ii, operand := range node.Operands {
		if operand == NoValue {
			continue
		}
		v := g.values[operand]
		v.uses = append(v.uses, Use{Node: node.ID, Operand: ii})
	}
	return node, nil
}

// liveValueLocked returns the value if it exists and its defining node is live.
func (g *Graph) liveValueLocked(id ValueID) (*Value, error) {
	if id < 0 || int(id) >= len(g.values) || g.values[id] == nil {
		return nil, errors.Wrapf(ErrNotLive, "value #%d", id)
	}
	v := g.values[id]
	if g.nodes[v.Def] == nil || g.nodes[v.Def].dead {
		return nil, errors.Wrapf(ErrNotLive, "value %q (#%d) defined by an erased node", v.Name, id)
	}
	return v, nil
}

// liveNodeLocked returns the node if it exists and is live.
func (g *Graph) liveNodeLocked(id NodeID) (*Node, error) {
	if id < 0 || int(id) >= len(g.nodes) || g.nodes[id] == nil || g.nodes[id].dead {
		return nil, errors.Wrapf(ErrNotLive, "node #%d", id)
	}
	return g.nodes[id], nil
}

// Node returns the node with the given ID, or nil if it was pruned or never existed.
// Dead (replaced) nodes are still returned until pruned, see IsLive.
func (g *Graph) Node(id NodeID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// LiveNode returns the current version of the node, or nil if it was replaced or pruned.
func (g *Graph) LiveNode(id NodeID) *Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, err := g.liveNodeLocked(id)
	if err != nil {
		return nil
	}
	return node
}

// IsLive reports whether the node exists and hasn't been replaced or pruned.
func (g *Graph) IsLive(id NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, err := g.liveNodeLocked(id)
	return err == nil
}

// Value returns the value with the given ID, or nil.
func (g *Graph) Value(id ValueID) *Value {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || int(id) >= len(g.values) {
		return nil
	}
	return g.values[id]
}

// ValueByName returns the live value with the given name.
func (g *Graph) ValueByName(name string) (*Value, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, found := g.valueByName[name]
	if !found {
		return nil, false
	}
	v, err := g.liveValueLocked(id)
	return v, err == nil
}

// Type returns the type of the value. It panics for invalid IDs.
func (g *Graph) Type(id ValueID) TensorType {
	v := g.Value(id)
	if v == nil {
		panic(errors.Wrapf(ErrNotLive, "value #%d", id))
	}
	return v.Type
}

// SetType changes the type of a value. Used by shape inference. Values already handed out keep
// the previous type.
func (g *Graph) SetType(id ValueID, t TensorType) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, err := g.liveValueLocked(id)
	if err != nil {
		return err
	}
	updated := *v
	updated.Type = t
	g.values[id] = &updated
	return nil
}

// DefiningNode returns the node that produces the value, or nil for NoValue.
func (g *Graph) DefiningNode(id ValueID) *Node {
	if id == NoValue {
		return nil
	}
	v := g.Value(id)
	if v == nil {
		return nil
	}
	return g.Node(v.Def)
}

// Uses returns a copy of the use list of a value.
func (g *Graph) Uses(id ValueID) []Use {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || int(id) >= len(g.values) || g.values[id] == nil {
		return nil
	}
	return slices.Clone(g.values[id].uses)
}

// NumUses returns the number of consumers of a value.
func (g *Graph) NumUses(id ValueID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if id < 0 || int(id) >= len(g.values) || g.values[id] == nil {
		return 0
	}
	return len(g.values[id].uses)
}

// Inputs returns the graph inputs.
func (g *Graph) Inputs() []ValueID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.inputs)
}

// Outputs returns the graph outputs.
func (g *Graph) Outputs() []ValueID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.outputs)
}

// SetOutputs sets the graph outputs. Outputs are redirected by Replace like any other use.
func (g *Graph) SetOutputs(outputs ...ValueID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range outputs {
		if _, err := g.liveValueLocked(id); err != nil {
			return errors.WithMessage(err, "setting graph outputs")
		}
	}
	g.outputs = slices.Clone(outputs)
	return nil
}

// Nodes returns the live nodes in creation order.
// Use TopologicalOrder if operands must precede their consumers.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]*Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		if node != nil && !node.dead {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// HasName reports whether any node (live or dead, not pruned) already uses the name.
func (g *Graph) HasName(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.names[name]
}
