// Package params holds the structural parameter parsers of the operator kinds: they extract
// kernel rank, strides, pads, dilations, bias presence, slicing ranges, etc. from a node's
// operands and attributes.
//
// Parsers are shared by the lowering and evaluation of a kind, and accept both the top and the tpu
// variants of it. Inconsistent nodes are reported as errors wrapping ir.ErrMalformedNode.
package params

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/ir"
)

// malformedf panics with an error wrapping ir.ErrMalformedNode. Parsers catch it with parse.
func malformedf(node *ir.Node, format string, args ...any) {
	panic(errors.Wrapf(ir.ErrMalformedNode, "%s: %s", node, fmt.Sprintf(format, args...)))
}

// parse runs fn, converting panics to errors.
func parse[T any](fn func() T) (result T, err error) {
	err = exceptions.TryCatch[error](func() { result = fn() })
	return
}

// operandType returns the type of operand i, which must be present.
func operandType(g *ir.Graph, node *ir.Node, i int) ir.TensorType {
	if !node.HasOperand(i) {
		malformedf(node, "missing operand #%d", i)
	}
	return g.Type(node.Operands[i])
}

// repeated returns a slice with n copies of v.
func repeated(n, v int) []int {
	s := make([]int, n)
	for ii := range s {
		s[ii] = v
	}
	return s
}
