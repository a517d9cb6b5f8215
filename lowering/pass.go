package lowering

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/ir"
	"k8s.io/klog/v2"
)

// LowerNode lowers a single node with the lowering registered for its kind, in the mode of
// ctx.Config. Nodes of kinds without lowering are left untouched, except top-dialect compute
// nodes, which fail with ErrCodeUnsupportedKind.
//
// Errors are returned as *Error.
func LowerNode(ctx *Context, n *ir.Node) error {
	l, found := Lookup(n.Kind)
	if !found {
		if n.Kind.Dialect() == "top" && n.Kind != ir.KindInput && n.Kind != ir.KindWeight {
			return &Error{Code: ErrCodeUnsupportedKind, Node: n.Name, Kind: n.Kind, Message: "no lowering registered"}
		}
		return nil
	}
	var err error
	exception := exceptions.TryCatch[error](func() {
		switch ctx.Config.Mode {
		case ModeF32:
			err = l.LowerF32(ctx, n)
		case ModeINT8:
			err = l.LowerINT8(ctx, n, ctx.Config.Asymmetric)
		default:
			err = errors.Errorf("invalid lowering mode %q", ctx.Config.Mode)
		}
	})
	if exception != nil {
		err = exception
	}
	if err != nil {
		return newError(n, err)
	}
	return nil
}

// Run lowers every node of ctx.Graph, visiting them once in topological order. It stops at the
// first failure, which identifies the offending node. Nodes already lowered before the failure
// stay lowered.
//
// Replaced nodes and weights left without uses are not pruned.
func Run(ctx *Context) (*Report, error) {
	if err := ctx.Config.Validate(); err != nil {
		return nil, err
	}
	if ctx.Report == nil {
		ctx.Report = &Report{}
	}
	err := ctx.Graph.Walk(func(n *ir.Node) error {
		return LowerNode(ctx, n)
	})
	if err != nil {
		return ctx.Report, err
	}
	klog.V(1).Infof("lowered graph %q (%s): %d int8, %d f32, %d f32 fallbacks", ctx.Graph.Name, ctx.Config.Mode,
		ctx.Report.Count(PathINT8), ctx.Report.Count(PathF32), ctx.Report.Count(PathF32Fallback))
	return ctx.Report, nil
}
