package interp

import (
	"math"

	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/internal/parallel"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/params"
)

// convState is the working state of a convolution evaluation, stored in InferenceParameter.Handle.
type convState struct {
	params.Conv

	// kernelOffsets[k] is the multi-index of the k-th element of the kernel window.
	kernelOffsets [][]int

	// Fixed-point parameters, if the node was lowered to int8.
	quantized bool
	rshift    int
}

func convInit(op Op, p *InferenceParameter) error {
	conv, err := params.ParseConv(op.Graph, op.Node)
	if err != nil {
		return err
	}
	state := &convState{Conv: conv}
	state.kernelOffsets = make([][]int, 0, conv.KernelSize())
	offset := make([]int, conv.KernelRank)
	for range conv.KernelSize() {
		state.kernelOffsets = append(state.kernelOffsets, append([]int(nil), offset...))
		incrementIndex(offset, conv.Kernel)
	}
	if mode := op.Node.StringAttrOr("quant_mode", ""); mode != "" {
		state.quantized = true
		rshift := op.Node.IntsAttrOr("rshift", []int{0})
		if len(rshift) != 1 || rshift[0] < 0 {
			return errors.Wrapf(ir.ErrMalformedNode, "%s: quant_mode %q requires a single non-negative rshift, got %v",
				op.Node, mode, rshift)
		}
		state.rshift = rshift[0]
	}
	p.Handle = state
	return nil
}

func convDeinit(_ Op, p *InferenceParameter) {
	p.Handle = nil
}

// incrementIndex advances a multi-index in row-major order, wrapping around at dims.
func incrementIndex(index, dims []int) {
	for axis := len(index) - 1; axis >= 0; axis-- {
		index[axis]++
		if index[axis] < dims[axis] {
			return
		}
		index[axis] = 0
	}
}

// convInference computes the convolution for each output position independently: in float32, or,
// for fixed-point nodes, accumulating integer codes, adding the int16 bias, dividing by 2^rshift
// (rounding half up) and saturating to int8.
func convInference(op Op, p *InferenceParameter) error {
	state, ok := p.Handle.(*convState)
	if !ok {
		return errors.Errorf("%s: Inference called without Init", op.Node)
	}
	if err := checkBuffers(op, p, 3); err != nil {
		return err
	}
	input, filter, bias, output := p.Inputs[0], p.Inputs[1], p.Inputs[2], p.Outputs[0]
	c := state.Conv
	inSpatialSize, outSpatialSize := product(c.InputSpatial), product(c.OutputSpatial)
	icPerGroup, ocPerGroup := c.IC/c.Groups, c.OC/c.Groups
	kernelSize := c.KernelSize()
	if len(input) != c.N*c.IC*inSpatialSize {
		return errors.Errorf("%s: input buffer has %d elements, expected %d", op.Node, len(input), c.N*c.IC*inSpatialSize)
	}
	if len(filter) != c.OC*icPerGroup*kernelSize {
		return errors.Errorf("%s: filter buffer has %d elements, expected %d", op.Node, len(filter), c.OC*icPerGroup*kernelSize)
	}
	if c.HasBias && len(bias) != c.OC {
		return errors.Errorf("%s: bias buffer has %d elements, expected %d", op.Node, len(bias), c.OC)
	}
	if len(output) != c.N*c.OC*outSpatialSize {
		return errors.Errorf("%s: output buffer has %d elements, expected %d", op.Node, len(output), c.N*c.OC*outSpatialSize)
	}

	shiftDivisor := math.Ldexp(1, state.rshift)
	parallel.For(len(output), p.Workers, func(start, end int) {
		outPos := make([]int, c.KernelRank)
		for outIdx := start; outIdx < end; outIdx++ {
			// Decode (n, oc, spatial...) of outIdx.
			rem := outIdx
			for axis := c.KernelRank - 1; axis >= 0; axis-- {
				outPos[axis] = rem % c.OutputSpatial[axis]
				rem /= c.OutputSpatial[axis]
			}
			oc := rem % c.OC
			n := rem / c.OC
			group := oc / ocPerGroup

			var acc float64
			for icg := range icPerGroup {
				ic := group*icPerGroup + icg
				inputBase := (n*c.IC + ic) * inSpatialSize
				filterBase := (oc*icPerGroup + icg) * kernelSize
			kernelLoop:
				for k, offset := range state.kernelOffsets {
					inIdx := 0
					for axis := range c.KernelRank {
						pos := outPos[axis]*c.Strides[axis] - c.PadsBegin[axis] + offset[axis]*c.Dilations[axis]
						if pos < 0 || pos >= c.InputSpatial[axis] {
							continue kernelLoop
						}
						inIdx = inIdx*c.InputSpatial[axis] + pos
					}
					acc += float64(input[inputBase+inIdx]) * float64(filter[filterBase+k])
				}
			}
			if c.HasBias {
				acc += float64(bias[oc])
			}

			if state.quantized {
				v := math.Floor(acc/shiftDivisor + 0.5)
				if c.DoRelu {
					v = max(v, 0)
				}
				output[outIdx] = float32(min(max(v, math.MinInt8), math.MaxInt8))
				continue
			}
			if c.DoRelu {
				acc = max(acc, 0)
				if c.ReluLimit > 0 {
					acc = min(acc, c.ReluLimit)
				}
			}
			output[outIdx] = float32(acc)
		}
	})
	return nil
}

func product(dims []int) int {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}

func convShapeInference(op Op) ([]ir.TensorType, error) {
	c, err := params.ParseConv(op.Graph, op.Node)
	if err != nil {
		return nil, err
	}
	return []ir.TensorType{withDims(op.Graph.Type(op.Node.Results[0]), c.OutputDims())}, nil
}

// convFLOPs counts a multiply and an add per kernel element and input channel of the group, plus
// the bias and relu per output element.
func convFLOPs(op Op) int64 {
	c, err := params.ParseConv(op.Graph, op.Node)
	if err != nil {
		return 0
	}
	perOutput := int64(2 * (c.IC / c.Groups) * c.KernelSize())
	if c.HasBias {
		perOutput++
	}
	if c.DoRelu {
		perOutput++
	}
	return int64(product(c.OutputDims())) * perOutput
}
