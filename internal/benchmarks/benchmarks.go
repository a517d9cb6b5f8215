// Package benchmarks implements support functionality for the benchmark tests of the reference
// evaluation kernels, against the same graphs executed with GoMLX.
package benchmarks

import (
	"fmt"
	"math"
	"testing"

	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/timkaye11/tpulower/internal/graphio"
	"github.com/timkaye11/tpulower/interp"
	"github.com/timkaye11/tpulower/ir"
)

// requireSameFloat32 compares two buffers and fails the test if they are not within a delta margin.
func requireSameFloat32(t testing.TB, want, got []float32, delta float64) {
	require.Len(t, got, len(want))
	var mismatches int
	for flatIdx, gotValue := range got {
		wantValue := want[flatIdx]
		if math.Abs(float64(gotValue)-float64(wantValue)) > delta {
			if mismatches < 3 {
				fmt.Printf("\tflatIdx=%d has a mismatch: got %f, want %f\n", flatIdx, gotValue, wantValue)
			} else if mismatches == 4 {
				fmt.Printf("\t...\n")
			}
			mismatches++
		}
	}
	if mismatches > 0 {
		fmt.Printf("Found %d mismatches in buffers\n", mismatches)
		panic(errors.Errorf("found %d mismatches in buffers", mismatches))
	}
}

// minConstGraph builds a graph with a single top.MinConst(input, 0.5) over size elements.
func minConstGraph(size int) *ir.Graph {
	g := ir.New("min_const")
	input := g.AddInput("input", ir.Tensor(dtypes.Float32, size))
	node := must.M1(g.AddNode(ir.KindMinConst, "min", []ir.ValueID{input}, []ir.TensorType{ir.Tensor(dtypes.Float32, size)},
		ir.Attributes{{Name: "const_val", Value: ir.FloatAttr(0.5)}}))
	must.M(g.SetOutputs(node.Result(0)))
	return g
}

// convGraph builds a graph with a single top.Conv with bias and padding 1, with linspace weights.
func convGraph(inputDims, filterDims []int) *ir.Graph {
	g := ir.New("conv")
	input := g.AddInput("input", ir.Tensor(dtypes.Float32, inputDims...))
	filter := must.M1(ir.CreateWeight(g, "filter", graphio.Linspace(product(filterDims), -1, 1), filterDims...))
	bias := must.M1(ir.CreateWeight(g, "bias", graphio.Linspace(filterDims[0], -0.5, 0.5), filterDims[0]))
	node := must.M1(g.AddNode(ir.KindConv, "conv", []ir.ValueID{input, filter, bias}, []ir.TensorType{ir.Tensor(dtypes.Float32, 1)},
		ir.Attributes{{Name: "pads", Value: ir.IntsAttr(1, 1, 1, 1)}}))
	must.M(g.SetOutputs(node.Result(0)))
	must.M(interp.InferShapes(g))
	return g
}

func product(dims []int) int {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}
