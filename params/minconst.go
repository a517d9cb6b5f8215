package params

import (
	"github.com/timkaye11/tpulower/ir"
)

// MinConst holds the parameters of an elementwise minimum against a constant.
type MinConst struct {
	ConstVal float64
}

// ParseMinConst parses the parameters of a top.MinConst or tpu.MinConst node. The attribute
// const_val is required.
func ParseMinConst(g *ir.Graph, node *ir.Node) (MinConst, error) {
	return parse(func() MinConst {
		operandType(g, node, 0)
		if !node.Attrs.Has("const_val") {
			malformedf(node, "missing attribute const_val")
		}
		return MinConst{ConstVal: node.FloatAttrOr("const_val", 0)}
	})
}
