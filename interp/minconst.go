package interp

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/internal/parallel"
	"github.com/timkaye11/tpulower/params"
)

// minConstInference computes out[i] = min(in[i], const_val).
func minConstInference(op Op, p *InferenceParameter) error {
	if err := checkBuffers(op, p, 1); err != nil {
		return err
	}
	mc, err := params.ParseMinConst(op.Graph, op.Node)
	if err != nil {
		return err
	}
	input, output := p.Inputs[0], p.Outputs[0]
	if len(input) != len(output) {
		return errors.Errorf("%s: input has %d elements, output %d", op.Node, len(input), len(output))
	}
	constVal := float32(mc.ConstVal)
	parallel.For(len(output), p.Workers, func(start, end int) {
		for ii := start; ii < end; ii++ {
			output[ii] = math32.Min(input[ii], constVal)
		}
	})
	return nil
}
