// Package graphio loads top-dialect graphs, their weights, sample inputs and calibration
// statistics from YAML fixture files.
//
// Example:
//
//	name: net
//	inputs:
//	  - {name: input, dims: [1, 2, 5, 5], linspace: [-1, 1]}
//	weights:
//	  - {name: filter, dims: [4, 2, 3, 3], linspace: [-0.5, 0.5]}
//	nodes:
//	  - kind: top.Conv
//	    name: conv
//	    operands: [input, filter, none]
//	    attrs: {kernel_shape: [3, 3], pads: [1, 1, 1, 1]}
//	outputs: [conv]
//	calibration:
//	  input: {threshold: 1}
//	  conv: {threshold: 4}
//
// Attribute types follow the YAML scalars: integers, floats, booleans and strings, and lists of
// integers or floats. Result types are derived with interp.InferShapes.
package graphio

import (
	"bytes"
	"io"
	"os"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/interp"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/quant"
	"gopkg.in/yaml.v3"
)

// File is the YAML document of a fixture.
type File struct {
	Name        string                 `yaml:"name"`
	Inputs      []TensorSpec           `yaml:"inputs"`
	Weights     []TensorSpec           `yaml:"weights,omitempty"`
	Nodes       []NodeSpec             `yaml:"nodes"`
	Outputs     []string               `yaml:"outputs"`
	Calibration map[string]quant.Stats `yaml:"calibration,omitempty"`
}

// TensorSpec declares a float32 input or weight. Data is given either explicitly by Values, or as
// Linspace [lo, hi]: evenly spaced values from lo to hi (inclusive). For inputs the data is
// optional, and only used as sample input.
type TensorSpec struct {
	Name     string    `yaml:"name"`
	Dims     []int     `yaml:"dims"`
	Values   []float32 `yaml:"values,omitempty"`
	Linspace []float32 `yaml:"linspace,omitempty"`
}

// NodeSpec declares one node. Absent optional operands are written as "none" (or "").
type NodeSpec struct {
	Kind     string    `yaml:"kind"`
	Name     string    `yaml:"name"`
	Operands []string  `yaml:"operands"`
	Attrs    yaml.Node `yaml:"attrs,omitempty"`
}

// Fixture is a loaded graph with its data.
type Fixture struct {
	Graph *ir.Graph

	// Inputs holds the sample data of the inputs that define it.
	Inputs map[string][]float32

	// Calibration is empty if the file has no calibration section.
	Calibration quant.Table
}

// HasAllInputs returns whether every graph input has sample data.
func (f *Fixture) HasAllInputs() bool {
	return len(f.Inputs) == len(f.Graph.Inputs())
}

// LoadFile reads and builds the fixture at path.
func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read fixture file")
	}
	fixture, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WithMessagef(err, "fixture %q", path)
	}
	return fixture, nil
}

// Load parses a fixture and builds its graph. Unknown fields are rejected.
func Load(r io.Reader) (*Fixture, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse YAML")
	}
	return file.Build()
}

// Build creates the graph described by the file.
func (file *File) Build() (*Fixture, error) {
	if file.Name == "" {
		return nil, errors.New("name is required")
	}
	if len(file.Outputs) == 0 {
		return nil, errors.New("outputs list is required and must be non-empty")
	}
	g := ir.New(file.Name)
	fixture := &Fixture{
		Graph:       g,
		Inputs:      make(map[string][]float32),
		Calibration: make(quant.Table),
	}
	for ii, ts := range file.Inputs {
		if err := checkName(g, ts.Name); err != nil {
			return nil, errors.WithMessagef(err, "input #%d", ii)
		}
		g.AddInput(ts.Name, ir.Tensor(dtypes.Float32, ts.Dims...))
		if len(ts.Values) == 0 && len(ts.Linspace) == 0 {
			continue
		}
		data, err := ts.data()
		if err != nil {
			return nil, errors.WithMessagef(err, "input #%d (%q)", ii, ts.Name)
		}
		fixture.Inputs[ts.Name] = data
	}
	for ii, ts := range file.Weights {
		if err := checkName(g, ts.Name); err != nil {
			return nil, errors.WithMessagef(err, "weight #%d", ii)
		}
		data, err := ts.data()
		if err != nil {
			return nil, errors.WithMessagef(err, "weight #%d (%q)", ii, ts.Name)
		}
		if _, err = ir.CreateWeight(g, ts.Name, data, ts.Dims...); err != nil {
			return nil, errors.WithMessagef(err, "weight #%d (%q)", ii, ts.Name)
		}
	}
	for ii, ns := range file.Nodes {
		if err := ns.build(g); err != nil {
			return nil, errors.WithMessagef(err, "node #%d (%q)", ii, ns.Name)
		}
	}
	outputs := make([]ir.ValueID, len(file.Outputs))
	for ii, name := range file.Outputs {
		v, found := g.ValueByName(name)
		if !found {
			return nil, errors.Errorf("output #%d (%q) is not defined", ii, name)
		}
		outputs[ii] = v.ID
	}
	if err := g.SetOutputs(outputs...); err != nil {
		return nil, err
	}
	if err := interp.InferShapes(g); err != nil {
		return nil, err
	}
	if err := g.Verify(); err != nil {
		return nil, err
	}
	for name, stats := range file.Calibration {
		fixture.Calibration[name] = stats
	}
	return fixture, nil
}

func checkName(g *ir.Graph, name string) error {
	if name == "" {
		return errors.New("name is required")
	}
	if g.HasName(name) {
		return errors.Errorf("name %q is already defined", name)
	}
	return nil
}

// data returns the values of the tensor, checking they match its dimensions.
func (ts *TensorSpec) data() ([]float32, error) {
	size := 1
	for _, dim := range ts.Dims {
		if dim <= 0 {
			return nil, errors.Errorf("invalid dims %v", ts.Dims)
		}
		size *= dim
	}
	switch {
	case len(ts.Values) > 0 && len(ts.Linspace) > 0:
		return nil, errors.New("values and linspace are mutually exclusive")
	case len(ts.Linspace) > 0:
		if len(ts.Linspace) != 2 {
			return nil, errors.Errorf("linspace takes [lo, hi], got %v", ts.Linspace)
		}
		return Linspace(size, ts.Linspace[0], ts.Linspace[1]), nil
	case len(ts.Values) != size:
		return nil, errors.Errorf("dims %v require %d values, got %d", ts.Dims, size, len(ts.Values))
	}
	return ts.Values, nil
}

// Linspace returns n evenly spaced values from lo to hi, inclusive.
func Linspace(n int, lo, hi float32) []float32 {
	values := make([]float32, n)
	if n == 1 {
		values[0] = lo
		return values
	}
	for ii := range values {
		values[ii] = lo + (hi-lo)*float32(ii)/float32(n-1)
	}
	return values
}

func (ns *NodeSpec) build(g *ir.Graph) error {
	if ns.Kind == "" {
		return errors.New("kind is required")
	}
	if err := checkName(g, ns.Name); err != nil {
		return err
	}
	operands := make([]ir.ValueID, len(ns.Operands))
	for ii, name := range ns.Operands {
		if name == "" || name == "none" {
			operands[ii] = ir.NoValue
			continue
		}
		v, found := g.ValueByName(name)
		if !found {
			return errors.Errorf("operand #%d (%q) is not defined", ii, name)
		}
		operands[ii] = v.ID
	}
	attrs, err := parseAttrs(&ns.Attrs)
	if err != nil {
		return err
	}
	info, found := ir.LookupKind(ir.Kind(ns.Kind))
	if !found {
		return errors.Wrapf(ir.ErrUnknownKind, "kind %q", ns.Kind)
	}
	resultTypes := make([]ir.TensorType, info.NumResults)
	for ii := range resultTypes {
		resultTypes[ii] = ir.Tensor(dtypes.Float32, 1)
	}
	_, err = g.AddNode(info.Kind, ns.Name, operands, resultTypes, attrs)
	return err
}

// parseAttrs converts a YAML mapping to attributes, in document order.
func parseAttrs(node *yaml.Node) (ir.Attributes, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, errors.Errorf("line %d: attrs must be a mapping", node.Line)
	}
	var attrs ir.Attributes
	for ii := 0; ii+1 < len(node.Content); ii += 2 {
		key, value := node.Content[ii], node.Content[ii+1]
		attr, err := parseAttr(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "line %d: attribute %q", key.Line, key.Value)
		}
		attrs = attrs.Set(key.Value, attr)
	}
	return attrs, nil
}

func parseAttr(node *yaml.Node) (ir.Attr, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return parseScalar(node)
	case yaml.SequenceNode:
		isFloat := false
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return ir.Attr{}, errors.New("lists can only hold scalars")
			}
			switch item.Tag {
			case "!!int":
			case "!!float":
				isFloat = true
			default:
				return ir.Attr{}, errors.Errorf("lists can only hold numbers, got %s %q", item.Tag, item.Value)
			}
		}
		if isFloat {
			values := make([]float64, len(node.Content))
			for ii, item := range node.Content {
				if err := item.Decode(&values[ii]); err != nil {
					return ir.Attr{}, err
				}
			}
			return ir.FloatsAttr(values...), nil
		}
		values := make([]int64, len(node.Content))
		for ii, item := range node.Content {
			if err := item.Decode(&values[ii]); err != nil {
				return ir.Attr{}, err
			}
		}
		return ir.IntsAttr(values...), nil
	}
	return ir.Attr{}, errors.Errorf("unsupported attribute value at line %d", node.Line)
}

func parseScalar(node *yaml.Node) (ir.Attr, error) {
	switch node.Tag {
	case "!!int":
		var v int64
		if err := node.Decode(&v); err != nil {
			return ir.Attr{}, err
		}
		return ir.IntAttr(v), nil
	case "!!float":
		var v float64
		if err := node.Decode(&v); err != nil {
			return ir.Attr{}, err
		}
		return ir.FloatAttr(v), nil
	case "!!bool":
		var v bool
		if err := node.Decode(&v); err != nil {
			return ir.Attr{}, err
		}
		return ir.BoolAttr(v), nil
	case "!!str":
		return ir.StringAttr(node.Value), nil
	}
	return ir.Attr{}, errors.Errorf("unsupported scalar %s %q", node.Tag, node.Value)
}
