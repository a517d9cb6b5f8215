package params

import (
	"github.com/timkaye11/tpulower/ir"
)

// Slice holds the normalized per-axis ranges of a slice node.
//
// The node's attributes offset, ends and steps list one value per entry of axes (all axes, in
// order, if axes is not given). Negative offsets and ends count from the end of the axis, and
// values are clamped to the axis as in ONNX: [0, dim] for positive steps and [-1, dim-1] for
// negative ones. Axes not listed are taken whole.
type Slice struct {
	InputDims  []int
	Starts     []int
	Ends       []int
	Steps      []int
	OutputDims []int
}

// ParseSlice parses the parameters of a top.Slice or tpu.Slice node.
//
// The optional operands (offsetT, stepsT, endsT) override the corresponding attributes when
// present; they must be weights.
func ParseSlice(g *ir.Graph, node *ir.Node) (Slice, error) {
	return parse(func() Slice { return parseSlice(g, node) })
}

func parseSlice(g *ir.Graph, node *ir.Node) (p Slice) {
	inputType := operandType(g, node, 0)
	rank := inputType.Rank()
	p.InputDims = inputType.Dims()

	offsets := sliceValues(g, node, 1, "offset")
	steps := sliceValues(g, node, 2, "steps")
	ends := sliceValues(g, node, 3, "ends")

	axes := node.IntsAttrOr("axes", nil)
	if len(axes) == 0 {
		axes = make([]int, len(offsets))
		for ii := range axes {
			axes[ii] = ii
		}
	}
	if steps == nil {
		steps = repeated(len(axes), 1)
	}
	if len(offsets) != len(axes) || len(ends) != len(axes) || len(steps) != len(axes) {
		malformedf(node, "offset (%v), ends (%v) and steps (%v) must have one value per sliced axis (%v)",
			offsets, ends, steps, axes)
	}

	p.Starts = repeated(rank, 0)
	p.Ends = inputType.Dims()
	p.Steps = repeated(rank, 1)
	seen := make([]bool, rank)
	for ii, axis := range axes {
		if axis < 0 {
			axis += rank
		}
		if axis < 0 || axis >= rank {
			malformedf(node, "axis %d is out of bounds for tensor of rank %d", axes[ii], rank)
		}
		if seen[axis] {
			malformedf(node, "axis %d is sliced twice", axis)
		}
		seen[axis] = true
		start, end, step := offsets[ii], ends[ii], steps[ii]
		dim := p.InputDims[axis]
		if step == 0 {
			malformedf(node, "step cannot be 0 for axis %d", axis)
		}
		if start < 0 {
			start += dim
		}
		if end < 0 {
			end += dim
		}
		if step > 0 {
			start = max(0, min(start, dim))
			end = max(0, min(end, dim))
		} else {
			start = max(0, min(start, dim-1))
			end = max(-1, min(end, dim-1))
		}
		p.Starts[axis], p.Ends[axis], p.Steps[axis] = start, end, step
	}

	p.OutputDims = make([]int, rank)
	for axis := range rank {
		p.OutputDims[axis] = SliceLen(p.Starts[axis], p.Ends[axis], p.Steps[axis])
	}
	return p
}

// SliceLen returns the number of elements in the range [start, end) taken with the given step.
func SliceLen(start, end, step int) int {
	if step > 0 {
		if end <= start {
			return 0
		}
		return (end - start + step - 1) / step
	}
	if start <= end {
		return 0
	}
	return (start - end - step - 1) / -step
}

// sliceValues returns the values of the slice parameter from the weight operand i if present,
// otherwise from the attribute.
func sliceValues(g *ir.Graph, node *ir.Node, operand int, attr string) []int {
	if !node.HasOperand(operand) {
		return node.IntsAttrOr(attr, nil)
	}
	data, err := ir.ReadWeightAsFloat32(g, node.Operands[operand])
	if err != nil {
		malformedf(node, "%s operand must be a constant: %v", attr, err)
	}
	values := make([]int, len(data))
	for ii, v := range data {
		values[ii] = int(v)
	}
	return values
}
