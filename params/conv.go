package params

import (
	"fmt"

	"github.com/timkaye11/tpulower/ir"
)

// Conv holds the structural parameters of a convolution node: operands (input, filter,
// bias|none), with input shaped [N, IC, spatial...] and filter [OC, IC/Groups, kernel...].
type Conv struct {
	// KernelRank is the number of spatial axes: 1, 2 or 3.
	KernelRank int

	N, IC, OC int

	InputSpatial, OutputSpatial []int
	Kernel, Strides, Dilations  []int
	PadsBegin, PadsEnd          []int
	Groups                      int

	HasBias   bool
	DoRelu    bool
	ReluLimit float64
}

// ParseConv parses the parameters of a top.Conv, tpu.Conv2D or tpu.Conv3D node.
func ParseConv(g *ir.Graph, node *ir.Node) (Conv, error) {
	return parse(func() Conv { return parseConv(g, node) })
}

func parseConv(g *ir.Graph, node *ir.Node) (p Conv) {
	if len(node.Operands) != 3 {
		malformedf(node, "convolution requires 3 operands (input, filter, bias|none), got %d", len(node.Operands))
	}
	inputType := operandType(g, node, 0)
	filterType := operandType(g, node, 1)
	if inputType.Rank() < 3 || inputType.Rank() > 5 {
		malformedf(node, "input must be shaped [N, C, spatial...] with 1 to 3 spatial axes, got %s", inputType)
	}
	p.KernelRank = inputType.Rank() - 2
	if filterType.Rank() != inputType.Rank() {
		malformedf(node, "filter %s and input %s must have the same rank", filterType, inputType)
	}
	inputDims, filterDims := inputType.Dims(), filterType.Dims()
	p.N, p.IC, p.OC = inputDims[0], inputDims[1], filterDims[0]
	p.InputSpatial = inputDims[2:]

	p.Kernel = node.IntsAttrOr("kernel_shape", filterDims[2:])
	p.Strides = node.IntsAttrOr("strides", repeated(p.KernelRank, 1))
	p.Dilations = node.IntsAttrOr("dilations", repeated(p.KernelRank, 1))
	pads := node.IntsAttrOr("pads", repeated(2*p.KernelRank, 0))
	p.Groups = node.IntAttrOr("group", 1)
	p.DoRelu = node.BoolAttrOr("do_relu", false)
	p.ReluLimit = node.FloatAttrOr("relu_limit", -1)
	p.HasBias = node.HasOperand(2)

	for _, attr := range []struct {
		name   string
		values []int
	}{{"kernel_shape", p.Kernel}, {"strides", p.Strides}, {"dilations", p.Dilations}} {
		name, values := attr.name, attr.values
		if len(values) != p.KernelRank {
			malformedf(node, "%s must have %d values (one per spatial axis), got %v", name, p.KernelRank, values)
		}
		for _, v := range values {
			if v < 1 {
				malformedf(node, "%s must be positive, got %v", name, values)
			}
		}
	}
	if len(pads) != 2*p.KernelRank {
		malformedf(node, "invalid number of padding values: %d spatial axes, got %d padding values -- expected 2 pads per axis",
			p.KernelRank, len(pads))
	}
	p.PadsBegin = pads[:p.KernelRank]
	p.PadsEnd = pads[p.KernelRank:]
	for _, pad := range pads {
		if pad < 0 {
			malformedf(node, "pads must be non-negative, got %v", pads)
		}
	}

	if p.Groups < 1 || p.IC%p.Groups != 0 || p.OC%p.Groups != 0 {
		malformedf(node, "group=%d must divide input channels (%d) and output channels (%d)", p.Groups, p.IC, p.OC)
	}
	if filterDims[1] != p.IC/p.Groups {
		malformedf(node, "filter %s must have %d input channels (IC=%d / group=%d)", filterType, p.IC/p.Groups, p.IC, p.Groups)
	}
	for axis, k := range p.Kernel {
		if filterDims[2+axis] != k {
			malformedf(node, "filter %s doesn't match kernel_shape %v", filterType, p.Kernel)
		}
	}
	if p.HasBias {
		biasType := operandType(g, node, 2)
		if biasType.Size() != p.OC {
			malformedf(node, "bias %s must have %d (output channels) elements", biasType, p.OC)
		}
	}

	p.OutputSpatial = make([]int, p.KernelRank)
	for axis := range p.KernelRank {
		effectiveKernel := p.Dilations[axis]*(p.Kernel[axis]-1) + 1
		padded := p.InputSpatial[axis] + p.PadsBegin[axis] + p.PadsEnd[axis]
		if padded < effectiveKernel {
			malformedf(node, "spatial axis %d: padded input size %d smaller than dilated kernel %d",
				axis, padded, effectiveKernel)
		}
		p.OutputSpatial[axis] = (padded-effectiveKernel)/p.Strides[axis] + 1
	}
	return p
}

// OutputDims returns the output shape [N, OC, outputSpatial...].
func (p Conv) OutputDims() []int {
	return append([]int{p.N, p.OC}, p.OutputSpatial...)
}

// KernelSize returns the number of elements of one kernel window.
func (p Conv) KernelSize() int {
	size := 1
	for _, k := range p.Kernel {
		size *= k
	}
	return size
}

// String implements fmt.Stringer.
func (p Conv) String() string {
	return fmt.Sprintf("conv%dd(N=%d, IC=%d, OC=%d, in=%v, out=%v, kernel=%v, strides=%v, pads=%v/%v, dilations=%v, groups=%d, bias=%t)",
		p.KernelRank, p.N, p.IC, p.OC, p.InputSpatial, p.OutputSpatial, p.Kernel, p.Strides, p.PadsBegin, p.PadsEnd,
		p.Dilations, p.Groups, p.HasBias)
}
