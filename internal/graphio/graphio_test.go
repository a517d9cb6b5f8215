package graphio

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timkaye11/tpulower/interp"
	"github.com/timkaye11/tpulower/ir"
	"gopkg.in/yaml.v3"
)

var convNetPath = filepath.Join("..", "..", "testdata", "conv_net.yaml")

func TestLoadFile(t *testing.T) {
	fixture, err := LoadFile(convNetPath)
	require.NoError(t, err)
	g := fixture.Graph
	assert.Equal(t, "net", g.Name)
	require.Len(t, g.Inputs(), 1)
	assert.True(t, fixture.HasAllInputs())
	assert.Len(t, fixture.Inputs["input"], 50)
	assert.Equal(t, float32(-5), fixture.Inputs["input"][0])
	assert.Equal(t, float32(5), fixture.Inputs["input"][49])

	kinds := make([]ir.Kind, 0)
	for _, node := range g.TopologicalOrder() {
		kinds = append(kinds, node.Kind)
	}
	assert.Equal(t, []ir.Kind{ir.KindInput, ir.KindWeight, ir.KindWeight, ir.KindConv, ir.KindMinConst, ir.KindSlice}, kinds)

	conv, found := g.ValueByName("conv1")
	require.True(t, found)
	assert.Equal(t, "f32[1,4,3,3]", conv.Type.String())
	assert.Equal(t, []int{3, 3}, g.DefiningNode(conv.ID).IntsAttrOr("kernel_shape", nil))
	slice := g.Outputs()[0]
	assert.Equal(t, "f32[1,4,2,2]", g.Type(slice).String())
	clip, _ := g.ValueByName("clip")
	assert.Equal(t, 0.5, g.DefiningNode(clip.ID).FloatAttrOr("const_val", 0))
	assert.Equal(t, ir.NoValue, g.DefiningNode(slice).Operand(1))

	bias, _ := g.ValueByName("bias")
	assert.Equal(t, []float32{0.1, -0.2, 0.3, -0.4}, must.M1(ir.ReadWeight[float32](g, bias.ID)))

	assert.Equal(t, []string{"conv1", "input", "slice"}, fixture.Calibration.Names())
	assert.Equal(t, 6.35, fixture.Calibration["conv1"].Threshold)

	outputs, err := interp.Run(g, fixture.Inputs)
	require.NoError(t, err)
	assert.Len(t, outputs["slice"], 16)
	for _, v := range outputs["slice"] {
		assert.LessOrEqual(t, v, float32(0.5))
	}
}

func TestAttributeTypes(t *testing.T) {
	attrs, err := loadAttrs(t, `{i: 3, f: 0.25, b: true, s: OnlyShift, ints: [1, -2], floats: [1, 2.5]}`)
	require.NoError(t, err)
	assert.Equal(t, ir.Attributes{
		{Name: "i", Value: ir.IntAttr(3)},
		{Name: "f", Value: ir.FloatAttr(0.25)},
		{Name: "b", Value: ir.BoolAttr(true)},
		{Name: "s", Value: ir.StringAttr("OnlyShift")},
		{Name: "ints", Value: ir.IntsAttr(1, -2)},
		{Name: "floats", Value: ir.FloatsAttr(1, 2.5)},
	}, attrs)

	_, err = loadAttrs(t, `{bad: [a, b]}`)
	require.ErrorContains(t, err, "lists can only hold numbers")
	_, err = loadAttrs(t, `{bad: {x: 1}}`)
	require.ErrorContains(t, err, "unsupported attribute value")
}

// loadAttrs loads a single-node fixture (a MinConst) with the given attributes.
func loadAttrs(t *testing.T, attrs string) (ir.Attributes, error) {
	t.Helper()
	doc := `
name: attrs
inputs: [{name: x, dims: [2]}]
nodes:
  - {kind: top.MinConst, name: m, operands: [x], attrs: ` + attrs + `}
outputs: [m]
`
	var file File
	require.NoError(t, yaml.Unmarshal([]byte(doc), &file))
	return parseAttrs(&file.Nodes[0].Attrs)
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name, doc, want string
	}{
		{"UnknownField", `{name: g, inputs: [], nodes: [], outputs: [x], bogus: 1}`, "field bogus not found"},
		{"MissingName", `{inputs: [], nodes: [], outputs: [x]}`, "name is required"},
		{"MissingOutputs", `{name: g, inputs: [{name: x, dims: [1]}], nodes: []}`, "outputs list is required"},
		{"UndefinedOutput", `{name: g, inputs: [{name: x, dims: [1]}], nodes: [], outputs: [y]}`, `output #0 ("y") is not defined`},
		{"DuplicateName", `{name: g, inputs: [{name: x, dims: [1]}, {name: x, dims: [1]}], nodes: [], outputs: [x]}`,
			`name "x" is already defined`},
		{"ValuesSize", `{name: g, inputs: [{name: x, dims: [2]}], weights: [{name: w, dims: [3], values: [1, 2]}], nodes: [], outputs: [x]}`,
			"require 3 values, got 2"},
		{"Linspace", `{name: g, inputs: [{name: x, dims: [2], linspace: [1]}], nodes: [], outputs: [x]}`,
			"linspace takes [lo, hi]"},
		{"UndefinedOperand", `{name: g, inputs: [{name: x, dims: [2]}], nodes: [{kind: top.MinConst, name: m, operands: [y], attrs: {const_val: 1}}], outputs: [m]}`,
			`operand #0 ("y") is not defined`},
		{"UnknownKind", `{name: g, inputs: [{name: x, dims: [2]}], nodes: [{kind: top.Frobnicate, name: m, operands: [x]}], outputs: [m]}`,
			"unknown node kind"},
		{"Arity", `{name: g, inputs: [{name: x, dims: [2]}], nodes: [{kind: top.MinConst, name: m, operands: [x, x]}], outputs: [m]}`,
			"node #0 (\"m\")"},
		{"Shapes", `{name: g, inputs: [{name: x, dims: [1, 1, 2, 2]}], weights: [{name: w, dims: [1, 1, 3, 3], linspace: [0, 1]}], nodes: [{kind: top.Conv, name: c, operands: [x, w, none]}], outputs: [c]}`,
			"malformed node"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLinspace(t *testing.T) {
	assert.Equal(t, []float32{-1, 0, 1}, Linspace(3, -1, 1))
	assert.Equal(t, []float32{7}, Linspace(1, 7, 9))
}
