package gomlxref

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
	"github.com/timkaye11/tpulower/interp"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/params"

	_ "github.com/gomlx/gomlx/backends/default"
)

func linspace(n int, lo, hi float32) []float32 {
	values := make([]float32, n)
	for ii := range values {
		values[ii] = lo + (hi-lo)*float32(ii)/float32(n-1)
	}
	return values
}

func TestSliceAxes(t *testing.T) {
	graphtest.RunTestGraphFn(t, "sliceAxes(): negative step", func(g *Graph) (inputs, outputs []*Node) {
		x := Const(g, [][]float32{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9, 10, 11}})
		inputs = []*Node{x}
		outputs = []*Node{
			sliceAxes(x, params.Slice{
				InputDims:  []int{3, 4},
				Starts:     []int{0, 3},
				Steps:      []int{2, -2},
				OutputDims: []int{2, 2},
			}),
			sliceAxes(x, params.Slice{
				InputDims:  []int{3, 4},
				Starts:     []int{2, 1},
				Steps:      []int{-1, 1},
				OutputDims: []int{3, 2},
			}),
		}
		return
	}, []any{
		[][]float32{{3, 1}, {11, 9}},
		[][]float32{{9, 10}, {5, 6}, {1, 2}},
	}, -1)
}

// buildNet builds Conv -> MinConst -> Slice, with all the convolution features enabled.
func buildNet(t *testing.T, inputDims, filterDims []int, convAttrs ir.Attributes) *ir.Graph {
	t.Helper()
	g := ir.New("net")
	input := g.AddInput("input", ir.Tensor(dtypes.Float32, inputDims...))
	filterSize := 1
	for _, dim := range filterDims {
		filterSize *= dim
	}
	filter := must.M1(ir.CreateWeight(g, "filter", linspace(filterSize, -1, 1), filterDims...))
	bias := must.M1(ir.CreateWeight(g, "bias", linspace(filterDims[0], -0.5, 0.5), filterDims[0]))
	f32 := []ir.TensorType{ir.Tensor(dtypes.Float32, 1)}
	conv := must.M1(g.AddNode(ir.KindConv, "conv", []ir.ValueID{input, filter, bias}, f32, convAttrs))
	clip := must.M1(g.AddNode(ir.KindMinConst, "clip", []ir.ValueID{conv.Result(0)}, f32,
		ir.Attributes{{Name: "const_val", Value: ir.FloatAttr(1.5)}}))
	slice := must.M1(g.AddNode(ir.KindSlice, "slice", []ir.ValueID{clip.Result(0), ir.NoValue, ir.NoValue, ir.NoValue}, f32,
		ir.Attributes{
			{Name: "offset", Value: ir.IntsAttr(-1, 0)},
			{Name: "ends", Value: ir.IntsAttr(-100, 100)},
			{Name: "steps", Value: ir.IntsAttr(-1, 2)},
			{Name: "axes", Value: ir.IntsAttr(1, 2)},
		}))
	require.NoError(t, g.SetOutputs(conv.Result(0), slice.Result(0)))
	require.NoError(t, interp.InferShapes(g))
	return g
}

func TestExecuteMatchesInterp(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, tc := range []struct {
		name                  string
		inputDims, filterDims []int
		attrs                 ir.Attributes
	}{
		{name: "Conv2D", inputDims: []int{1, 2, 6, 6}, filterDims: []int{4, 2, 3, 3}},
		{name: "Conv2DAllFeatures", inputDims: []int{2, 4, 9, 7}, filterDims: []int{6, 2, 3, 2},
			attrs: ir.Attributes{
				{Name: "strides", Value: ir.IntsAttr(2, 1)},
				{Name: "pads", Value: ir.IntsAttr(1, 0, 1, 1)},
				{Name: "dilations", Value: ir.IntsAttr(1, 2)},
				{Name: "group", Value: ir.IntAttr(2)},
				{Name: "do_relu", Value: ir.BoolAttr(true)},
				{Name: "relu_limit", Value: ir.FloatAttr(6)},
			}},
		{name: "Conv1D", inputDims: []int{1, 3, 11}, filterDims: []int{2, 3, 4},
			attrs: ir.Attributes{{Name: "pads", Value: ir.IntsAttr(2, 1)}}},
		{name: "Conv3D", inputDims: []int{1, 2, 4, 5, 3}, filterDims: []int{2, 2, 2, 3, 2},
			attrs: ir.Attributes{{Name: "strides", Value: ir.IntsAttr(1, 2, 1)}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := buildNet(t, tc.inputDims, tc.filterDims, tc.attrs)
			inputSize := 1
			for _, dim := range tc.inputDims {
				inputSize *= dim
			}
			inputs := map[string][]float32{"input": linspace(inputSize, -2, 2)}
			want, err := interp.Run(g, inputs)
			require.NoError(t, err)
			got, err := Execute(backend, g, inputs)
			require.NoError(t, err)
			for _, name := range []string{"conv", "slice"} {
				require.Len(t, got[name], len(want[name]), "output %q", name)
				require.InDeltaSlice(t, want[name], got[name], 1e-3, "output %q", name)
			}
		})
	}
}

func TestExecuteErrors(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := buildNet(t, []int{1, 2, 6, 6}, []int{4, 2, 3, 3}, nil)
	_, err := Execute(backend, g, map[string][]float32{"input": make([]float32, 3)})
	require.ErrorContains(t, err, "requires 72 elements")

	lowered := ir.New("lowered")
	input := lowered.AddInput("input", ir.Tensor(dtypes.Float32, 4))
	node := must.M1(lowered.AddNode(ir.KindTPUMinConst, "m", []ir.ValueID{input}, []ir.TensorType{ir.Tensor(dtypes.Float32, 4)},
		ir.Attributes{{Name: "const_val", Value: ir.FloatAttr(0)}}))
	require.NoError(t, lowered.SetOutputs(node.Result(0)))
	_, err = Execute(backend, lowered, map[string][]float32{"input": make([]float32, 4)})
	require.ErrorContains(t, err, "unsupported kind tpu.MinConst")
}
