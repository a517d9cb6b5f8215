package ir

import (
	"fmt"
	"io"
	"strings"
)

// Print writes a deterministic textual dump of the live graph, in topological order, e.g.:
//
//	graph conv(%input: f32[1,2,5,5]) {
//	  %filter = top.Weight() : f32[4,2,3,3]
//	  %conv1 = top.Conv(%input, %filter, none) {kernel_shape=[3,3]} : f32[1,4,3,3]
//	  return %conv1
//	}
//
// Weight data is not printed.
func (g *Graph) Print(w io.Writer) error {
	var sb strings.Builder
	inputs := g.Inputs()
	inputParts := make([]string, len(inputs))
	for ii, id := range inputs {
		v := g.Value(id)
		inputParts[ii] = fmt.Sprintf("%%%s: %s", v.Name, v.Type)
	}
	fmt.Fprintf(&sb, "graph %s(%s) {\n", g.Name, strings.Join(inputParts, ", "))
	for _, node := range g.TopologicalOrder() {
		if node.Kind == KindInput {
			continue
		}
		sb.WriteString("  ")
		sb.WriteString(g.formatNode(node))
		sb.WriteString("\n")
	}
	outputs := g.Outputs()
	outputParts := make([]string, len(outputs))
	for ii, id := range outputs {
		outputParts[ii] = "%" + g.Value(id).Name
	}
	fmt.Fprintf(&sb, "  return %s\n}\n", strings.Join(outputParts, ", "))
	_, err := io.WriteString(w, sb.String())
	return err
}

// String implements fmt.Stringer with the output of Print.
func (g *Graph) String() string {
	var sb strings.Builder
	_ = g.Print(&sb)
	return sb.String()
}

// formatNode formats a single node as "%result = kind(%operands...) {attrs} : type".
func (g *Graph) formatNode(node *Node) string {
	results := make([]string, len(node.Results))
	types := make([]string, len(node.Results))
	for ii, id := range node.Results {
		v := g.Value(id)
		results[ii] = "%" + v.Name
		types[ii] = v.Type.String()
	}
	operands := make([]string, len(node.Operands))
	for ii, id := range node.Operands {
		if id == NoValue {
			operands[ii] = "none"
			continue
		}
		operands[ii] = "%" + g.Value(id).Name
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s = %s(%s)", strings.Join(results, ", "), node.Kind, strings.Join(operands, ", "))
	if len(node.Attrs) > 0 {
		sb.WriteString(" ")
		sb.WriteString(node.Attrs.String())
	}
	sb.WriteString(" : ")
	sb.WriteString(strings.Join(types, ", "))
	return sb.String()
}
