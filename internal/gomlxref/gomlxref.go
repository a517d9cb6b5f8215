// Package gomlxref builds top-dialect float graphs with GoMLX ops, and executes them on a GoMLX
// backend. It's an independent reference for the interp kernels: both must agree (within
// floating point tolerance) on every float graph.
package gomlxref

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/interp"
	"github.com/timkaye11/tpulower/ir"
)

// ModelScope is the context scope holding the graph weights as variables.
var ModelScope = "tpulower"

// SafeVarName converts a weight name to a GoMLX safe variable name by replacing the scope separator with a "|".
func SafeVarName(name string) string {
	return strings.ReplaceAll(name, context.ScopeSeparator, "|")
}

// VariablesToContext creates one variable (within scope ModelScope) for each live weight of g.
// Integer weights are converted to float32.
func VariablesToContext(ctx *context.Context, g *ir.Graph) error {
	ctx = ctx.In(ModelScope).Checked(false)
	for _, node := range g.Nodes() {
		if node.Kind != ir.KindWeight {
			continue
		}
		id := node.Results[0]
		data, err := ir.ReadWeightAsFloat32(g, id)
		if err != nil {
			return errors.WithMessagef(err, "gomlxref.VariablesToContext()")
		}
		t := tensors.FromFlatDataAndDimensions(data, g.Type(id).Dims()...)
		ctx.VariableWithValue(SafeVarName(g.Value(id).Name), t)
	}
	return nil
}

// CallGraph builds the GoMLX graph computing the outputs of g, given the input nodes by input name.
// Weights are read from the variables created by VariablesToContext. ctx can be nil if g has no
// weights.
//
// As in GoMLX graph building functions, it panics (throws exceptions) in case of errors.
func CallGraph(ctx *context.Context, gg *Graph, g *ir.Graph, inputs map[string]*Node) []*Node {
	if ctx != nil {
		ctx = ctx.In(ModelScope).Checked(false)
	}
	converted := make(map[ir.ValueID]*Node)
	missing := sets.Make[string]()
	for _, id := range g.Inputs() {
		name := g.Value(id).Name
		node, found := inputs[name]
		if !found {
			missing.Insert(name)
			continue
		}
		if !node.Shape().Equal(shapeOf(g.Type(id))) {
			exceptions.Panicf("gomlxref.CallGraph(): input %q shaped %s, graph expects %s", name, node.Shape(), g.Type(id))
		}
		converted[id] = node
	}
	if len(missing) > 0 {
		exceptions.Panicf("gomlxref.CallGraph() called with missing inputs %q", missing)
	}

	outputs := make([]*Node, 0, len(g.Outputs()))
	for _, id := range g.Outputs() {
		recursiveCallGraph(ctx, gg, g, id, converted)
		outputs = append(outputs, converted[id])
	}
	return outputs
}

// recursiveCallGraph converts the node defining value id, after its operands.
func recursiveCallGraph(ctx *context.Context, gg *Graph, g *ir.Graph, id ir.ValueID, converted map[ir.ValueID]*Node) {
	if _, found := converted[id]; found {
		return
	}
	node := g.DefiningNode(id)
	if node == nil {
		exceptions.Panicf("value #%d has no defining node", id)
	}
	if node.Kind == ir.KindWeight {
		if ctx == nil {
			exceptions.Panicf("gomlxref.CallGraph(): graph has weights, but a nil context was given")
		}
		name := SafeVarName(g.Value(id).Name)
		v := ctx.GetVariable(name)
		if v == nil {
			exceptions.Panicf("variable %q has not been uploaded yet to context -- did you forget to call gomlxref.VariablesToContext?", name)
		}
		converted[id] = v.ValueGraph(gg)
		return
	}
	for _, operand := range node.Operands {
		if operand != ir.NoValue {
			recursiveCallGraph(ctx, gg, g, operand, converted)
		}
	}
	convertNode(g, node, converted)
}

// convertNode converts a single node, storing its result in converted.
func convertNode(g *ir.Graph, node *ir.Node, converted map[ir.ValueID]*Node) {
	inputs := make([]*Node, len(node.Operands))
	for ii, operand := range node.Operands {
		if operand != ir.NoValue {
			inputs[ii] = converted[operand]
		}
	}
	var result *Node
	switch node.Kind {
	case ir.KindConv:
		result = convertConv(g, node, inputs)
	case ir.KindSlice:
		result = convertSlice(g, node, inputs)
	case ir.KindMinConst:
		result = convertMinConst(g, node, inputs)
	default:
		exceptions.Panicf("gomlxref: unsupported kind %s in node %s", node.Kind, node)
	}
	converted[node.Results[0]] = result
}

// Execute runs the graph g on backend, with the given inputs by name, and returns the outputs by
// value name.
func Execute(backend backends.Backend, g *ir.Graph, inputs map[string][]float32) (map[string][]float32, error) {
	if err := interp.ValidateInputs(g, inputs); err != nil {
		return nil, err
	}
	inputIDs := g.Inputs()
	if len(inputIDs) == 0 {
		return nil, errors.Errorf("gomlxref.Execute(): graph %q has no inputs", g.Name)
	}
	ctx := context.New()
	if err := VariablesToContext(ctx, g); err != nil {
		return nil, err
	}
	args := make([]any, len(inputIDs))
	for ii, id := range inputIDs {
		v := g.Value(id)
		args[ii] = tensors.FromFlatDataAndDimensions(inputs[v.Name], v.Type.Dims()...)
	}

	outputs := make(map[string][]float32)
	err := exceptions.TryCatch[error](func() {
		exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, nodes []*Node) []*Node {
			named := make(map[string]*Node, len(nodes))
			for ii, id := range inputIDs {
				named[g.Value(id).Name] = nodes[ii]
			}
			return CallGraph(ctx, nodes[0].Graph(), g, named)
		})
		results, err := exec.Exec(args...)
		if err != nil {
			panic(err)
		}
		for ii, id := range g.Outputs() {
			outputs[g.Value(id).Name] = tensors.MustCopyFlatData[float32](results[ii])
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "executing graph %q with GoMLX", g.Name)
	}
	return outputs, nil
}
