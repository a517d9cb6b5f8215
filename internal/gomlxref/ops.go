package gomlxref

import (
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/params"
)

// shapeOf converts a tensor type to a GoMLX shape. Quantization descriptors are dropped.
func shapeOf(t ir.TensorType) shapes.Shape {
	return shapes.Make(t.DType(), t.Dims()...)
}

// convertConv converts a top.Conv node: the filter is laid out [O, I/groups, spatial...], and the
// bias (if present) is added per output channel.
func convertConv(g *ir.Graph, node *ir.Node, inputs []*Node) *Node {
	c, err := params.ParseConv(g, node)
	if err != nil {
		panic(err)
	}
	x, w, b := inputs[0], inputs[1], inputs[2]

	spatialAxes := make([]int, c.KernelRank)
	paddings := make([][2]int, c.KernelRank)
	for i := range spatialAxes {
		spatialAxes[i] = i + 2
		paddings[i] = [2]int{c.PadsBegin[i], c.PadsEnd[i]}
	}
	axes := backends.ConvolveAxesConfig{
		InputBatch:           0,
		InputChannels:        1,
		InputSpatial:         spatialAxes,
		KernelOutputChannels: 0,
		KernelInputChannels:  1,
		KernelSpatial:        spatialAxes,
		OutputBatch:          0,
		OutputChannels:       1,
		OutputSpatial:        spatialAxes,
	}
	conv := Convolve(x, w).AxesConfig(axes).
		StridePerAxis(c.Strides...).
		DilationPerAxis(c.Dilations...).
		PaddingPerDim(paddings)
	if c.Groups > 1 {
		conv = conv.ChannelGroupCount(c.Groups)
	}
	out := conv.Done()
	if b != nil {
		shape := make([]int, out.Rank())
		for i := range shape {
			shape[i] = 1
		}
		shape[1] = c.OC
		out = Add(out, Reshape(b, shape...))
	}
	if c.DoRelu {
		out = Max(out, ZerosLike(out))
		if c.ReluLimit > 0 {
			out = Min(out, Scalar(out.Graph(), out.DType(), c.ReluLimit))
		}
	}
	return out
}

// convertSlice converts a top.Slice node. Axes with negative steps are reversed first, since GoMLX
// slices only take positive strides.
func convertSlice(g *ir.Graph, node *ir.Node, inputs []*Node) *Node {
	s, err := params.ParseSlice(g, node)
	if err != nil {
		panic(err)
	}
	return sliceAxes(inputs[0], s)
}

func sliceAxes(operand *Node, s params.Slice) *Node {
	rank := len(s.InputDims)
	var reversed []int
	specs := make([]SliceAxisSpec, rank)
	for axis := range rank {
		start, step, length := s.Starts[axis], s.Steps[axis], s.OutputDims[axis]
		if step < 0 {
			reversed = append(reversed, axis)
			start = s.InputDims[axis] - 1 - start
			step = -step
		}
		end := start
		if length > 0 {
			end = start + (length-1)*step + 1
		}
		specs[axis] = AxisRange(start, end).Stride(step)
	}
	if len(reversed) > 0 {
		operand = Reverse(operand, reversed...)
	}
	return Slice(operand, specs...)
}

// convertMinConst converts a top.MinConst node to an element-wise Min with a scalar.
func convertMinConst(g *ir.Graph, node *ir.Node, inputs []*Node) *Node {
	mc, err := params.ParseMinConst(g, node)
	if err != nil {
		panic(err)
	}
	x := inputs[0]
	return Min(x, Scalar(x.Graph(), x.DType(), mc.ConstVal))
}
