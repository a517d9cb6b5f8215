// Package interp evaluates the numeric semantics of graph nodes on concrete float32 buffers.
//
// Each kind registers a Kernel with the lifecycle Init -> Inference -> Deinit over a
// caller-owned InferenceParameter, plus ShapeInference and FLOPs. Kernels keep no state between
// calls other than what they store in InferenceParameter.Handle.
//
// Quantized values (int8 results of fixed-point lowering, int8/int16 weights) are carried as
// their integer codes stored in float32 buffers.
package interp

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/ir"
)

// InferenceParameter holds the buffers of one node evaluation. It's owned by the caller.
type InferenceParameter struct {
	// Inputs has one buffer per operand, nil for absent optional operands.
	Inputs [][]float32

	// Outputs has one pre-allocated buffer per result.
	Outputs [][]float32

	// Workers is the number of parallel workers used by Inference. 0 selects it automatically.
	Workers int

	// Handle holds working state set by Init, released by Deinit.
	Handle any
}

// Op identifies the node being evaluated.
type Op struct {
	Graph *ir.Graph
	Node  *ir.Node
}

// Kernel implements the evaluation of one kind. Init, Deinit and ShapeInference are optional:
// nil Init/Deinit are no-ops, and a nil ShapeInference uses CommonShapeInference.
type Kernel struct {
	Init      func(op Op, p *InferenceParameter) error
	Inference func(op Op, p *InferenceParameter) error
	Deinit    func(op Op, p *InferenceParameter)

	// ShapeInference derives the result types from the operand types and attributes.
	ShapeInference func(op Op) ([]ir.TensorType, error)

	// FLOPs returns the number of elementary floating point operations of one evaluation.
	FLOPs func(op Op) int64
}

var (
	kernelsMu sync.RWMutex
	kernels   = make(map[ir.Kind]Kernel)
)

// Register sets the kernel of a kind.
func Register(kind ir.Kind, k Kernel) {
	kernelsMu.Lock()
	defer kernelsMu.Unlock()
	kernels[kind] = k
}

// Lookup returns the kernel registered for kind.
func Lookup(kind ir.Kind) (Kernel, bool) {
	kernelsMu.RLock()
	defer kernelsMu.RUnlock()
	k, found := kernels[kind]
	return k, found
}

func init() {
	minConst := Kernel{
		Inference: minConstInference,
		FLOPs:     elementwiseFLOPs,
	}
	Register(ir.KindMinConst, minConst)
	Register(ir.KindTPUMinConst, minConst)

	conv := Kernel{
		Init:           convInit,
		Inference:      convInference,
		Deinit:         convDeinit,
		ShapeInference: convShapeInference,
		FLOPs:          convFLOPs,
	}
	Register(ir.KindConv, conv)
	Register(ir.KindTPUConv2D, conv)
	Register(ir.KindTPUConv3D, conv)

	slice := Kernel{
		Inference:      sliceInference,
		ShapeInference: sliceShapeInference,
		FLOPs:          func(Op) int64 { return 0 },
	}
	Register(ir.KindSlice, slice)
	Register(ir.KindTPUSlice, slice)
}

// Evaluate runs the full lifecycle of the kernel of op.Node over p.
func Evaluate(op Op, p *InferenceParameter) (err error) {
	k, found := Lookup(op.Node.Kind)
	if !found {
		return errors.Errorf("no evaluation kernel registered for %s", op.Node)
	}
	if k.Init != nil {
		if err = k.Init(op, p); err != nil {
			return errors.WithMessagef(err, "initializing %s", op.Node)
		}
	}
	if k.Deinit != nil {
		defer k.Deinit(op, p)
	}
	if err = k.Inference(op, p); err != nil {
		return errors.WithMessagef(err, "evaluating %s", op.Node)
	}
	return nil
}

// CommonShapeInference is the generic shape rule: the (single) result has the dimensions of
// operand 0, keeping the result's element type and quantization.
func CommonShapeInference(op Op) ([]ir.TensorType, error) {
	n := op.Node
	if len(n.Operands) == 0 || !n.HasOperand(0) {
		return nil, errors.Wrapf(ir.ErrMalformedNode, "%s: shape inference requires operand #0", n)
	}
	inputType := op.Graph.Type(n.Operands[0])
	resultTypes := make([]ir.TensorType, len(n.Results))
	for ii, result := range n.Results {
		resultTypes[ii] = withDims(op.Graph.Type(result), inputType.Dims())
	}
	return resultTypes, nil
}

// withDims returns t with new dimensions, keeping element type and quantization.
func withDims(t ir.TensorType, dims []int) ir.TensorType {
	out := ir.Tensor(t.DType(), dims...)
	out.Quant = t.Quant
	return out
}

// checkBuffers validates the number of inputs and outputs, and the sizes of the outputs.
func checkBuffers(op Op, p *InferenceParameter, numInputs int) error {
	n := op.Node
	if len(p.Inputs) < numInputs {
		return errors.Errorf("%s requires %d input buffers, got %d", n, numInputs, len(p.Inputs))
	}
	if len(p.Outputs) != len(n.Results) {
		return errors.Errorf("%s requires %d output buffers, got %d", n, len(n.Results), len(p.Outputs))
	}
	for ii, result := range n.Results {
		if want := op.Graph.Type(result).Size(); len(p.Outputs[ii]) != want {
			return errors.Errorf("%s output #%d buffer has %d elements, expected %d", n, ii, len(p.Outputs[ii]), want)
		}
	}
	return nil
}

func elementwiseFLOPs(op Op) int64 {
	return int64(op.Graph.Type(op.Node.Results[0]).Size())
}
