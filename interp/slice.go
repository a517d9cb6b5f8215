package interp

import (
	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/internal/parallel"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/params"
)

// sliceInference copies, for each output position, the input element at start + index*step.
func sliceInference(op Op, p *InferenceParameter) error {
	if err := checkBuffers(op, p, 1); err != nil {
		return err
	}
	s, err := params.ParseSlice(op.Graph, op.Node)
	if err != nil {
		return err
	}
	input, output := p.Inputs[0], p.Outputs[0]
	if len(input) != product(s.InputDims) {
		return errors.Errorf("%s: input buffer has %d elements, expected %d", op.Node, len(input), product(s.InputDims))
	}
	if len(output) != product(s.OutputDims) {
		return errors.Errorf("%s: output buffer has %d elements, expected %d", op.Node, len(output), product(s.OutputDims))
	}
	rank := len(s.InputDims)
	inputStrides := make([]int, rank)
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		inputStrides[axis] = stride
		stride *= s.InputDims[axis]
	}
	parallel.For(len(output), p.Workers, func(start, end int) {
		for outIdx := start; outIdx < end; outIdx++ {
			rem, inIdx := outIdx, 0
			for axis := rank - 1; axis >= 0; axis-- {
				pos := rem % s.OutputDims[axis]
				rem /= s.OutputDims[axis]
				inIdx += (s.Starts[axis] + pos*s.Steps[axis]) * inputStrides[axis]
			}
			output[outIdx] = input[inIdx]
		}
	})
	return nil
}

func sliceShapeInference(op Op) ([]ir.TensorType, error) {
	s, err := params.ParseSlice(op.Graph, op.Node)
	if err != nil {
		return nil, err
	}
	return []ir.TensorType{withDims(op.Graph.Type(op.Node.Results[0]), s.OutputDims)}, nil
}
