package interp

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/ir"
	"k8s.io/klog/v2"
)

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	workers int
}

// WithWorkers sets the number of parallel workers of each node evaluation. 0 (the default)
// selects it automatically.
func WithWorkers(workers int) Option {
	return func(c *runConfig) { c.workers = workers }
}

// ValidateInputs checks that inputs has exactly one buffer for each graph input, of the right size.
func ValidateInputs(g *ir.Graph, inputs map[string][]float32) error {
	graphInputs := g.Inputs()
	if len(inputs) != len(graphInputs) {
		return errors.Errorf("graph %q takes %d inputs, but %d inputs provided", g.Name, len(graphInputs), len(inputs))
	}
	for idx, id := range graphInputs {
		v := g.Value(id)
		buffer, found := inputs[v.Name]
		if !found {
			return errors.Errorf("graph input #%d (%q) not provided", idx, v.Name)
		}
		if len(buffer) != v.Type.Size() {
			return errors.Errorf("graph input #%d (%q) shaped %s requires %d elements, got %d",
				idx, v.Name, v.Type, v.Type.Size(), len(buffer))
		}
	}
	return nil
}

// Run evaluates the graph on the given inputs (by input name), and returns the graph outputs by
// value name. Weights are read from the graph.
func Run(g *ir.Graph, inputs map[string][]float32, opts ...Option) (map[string][]float32, error) {
	var config runConfig
	for _, opt := range opts {
		opt(&config)
	}
	if err := ValidateInputs(g, inputs); err != nil {
		return nil, err
	}
	buffers := make(map[ir.ValueID][]float32)
	for _, id := range g.Inputs() {
		buffers[id] = inputs[g.Value(id).Name]
	}

	for _, node := range g.TopologicalOrder() {
		switch node.Kind {
		case ir.KindInput:
			continue
		case ir.KindWeight:
			data, err := ir.ReadWeightAsFloat32(g, node.Results[0])
			if err != nil {
				return nil, err
			}
			buffers[node.Results[0]] = data
			continue
		}
		p := &InferenceParameter{
			Inputs:  make([][]float32, len(node.Operands)),
			Outputs: make([][]float32, len(node.Results)),
			Workers: config.workers,
		}
		for ii, operand := range node.Operands {
			if operand != ir.NoValue {
				p.Inputs[ii] = buffers[operand]
			}
		}
		for ii, result := range node.Results {
			p.Outputs[ii] = make([]float32, g.Type(result).Size())
		}
		op := Op{Graph: g, Node: node}
		var err error
		if exception := exceptions.TryCatch[error](func() { err = Evaluate(op, p) }); exception != nil {
			err = exception
		}
		if err != nil {
			return nil, err
		}
		klog.V(2).Infof("evaluated %s", node)
		for ii, result := range node.Results {
			buffers[result] = p.Outputs[ii]
		}
	}

	outputs := make(map[string][]float32)
	for _, id := range g.Outputs() {
		outputs[g.Value(id).Name] = buffers[id]
	}
	return outputs, nil
}

// InferShapes sets the result types of every node, in topological order, using the kernels'
// shape inference.
func InferShapes(g *ir.Graph) error {
	for _, node := range g.TopologicalOrder() {
		if node.Kind == ir.KindInput || node.Kind == ir.KindWeight {
			continue
		}
		k, found := Lookup(node.Kind)
		if !found {
			return errors.Errorf("no evaluation kernel registered for %s", node)
		}
		shapeInference := k.ShapeInference
		if shapeInference == nil {
			shapeInference = CommonShapeInference
		}
		var resultTypes []ir.TensorType
		var err error
		exception := exceptions.TryCatch[error](func() { resultTypes, err = shapeInference(Op{Graph: g, Node: node}) })
		if exception != nil {
			err = exception
		}
		if err != nil {
			return errors.WithMessagef(err, "shape inference of %s", node)
		}
		if len(resultTypes) != len(node.Results) {
			return errors.Errorf("shape inference of %s returned %d types for %d results", node, len(resultTypes), len(node.Results))
		}
		for ii, result := range node.Results {
			if err := g.SetType(result, resultTypes[ii]); err != nil {
				return err
			}
		}
	}
	return nil
}

// FLOPs returns the total cost of the graph, and the cost per node name.
func FLOPs(g *ir.Graph) (total int64, perNode map[string]int64, err error) {
	perNode = make(map[string]int64)
	for _, node := range g.TopologicalOrder() {
		if node.Kind == ir.KindInput || node.Kind == ir.KindWeight {
			continue
		}
		k, found := Lookup(node.Kind)
		if !found {
			return 0, nil, errors.Errorf("no evaluation kernel registered for %s", node)
		}
		if k.FLOPs == nil {
			continue
		}
		flops := k.FLOPs(Op{Graph: g, Node: node})
		perNode[node.Name] = flops
		total += flops
	}
	return total, perNode, nil
}
