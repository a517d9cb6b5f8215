package lowering

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/quant"
)

// lowerCommonF32 replaces n by a node of the given kind with the same operands (padded with
// ir.NoValue up to numOperands), attributes and result types.
func lowerCommonF32(ctx *Context, n *ir.Node, kind ir.Kind, numOperands int, entry Entry) error {
	operands, err := padOperands(n, numOperands)
	if err != nil {
		return err
	}
	resultTypes := make([]ir.TensorType, len(n.Results))
	for ii, result := range n.Results {
		resultTypes[ii] = ctx.Graph.Type(result)
	}
	_, err = ctx.replace(n, kind, resultTypes, operands, n.Attrs, entry)
	return err
}

// lowerCommonINT8 is like lowerCommonF32, but the results are re-typed as int8 with the
// quantization parameters of their calibration statistics.
func lowerCommonINT8(ctx *Context, n *ir.Node, kind ir.Kind, numOperands int, asymmetric bool) error {
	operands, err := padOperands(n, numOperands)
	if err != nil {
		return err
	}
	resultTypes := make([]ir.TensorType, len(n.Results))
	for ii, result := range n.Results {
		scale, zeroPoint, err := quant.ScaleAndZeroPoint(ctx.Calibration, ctx.Graph.Value(result), asymmetric)
		if err != nil {
			return errors.WithMessagef(err, "result #%d", ii)
		}
		resultTypes[ii] = ctx.Graph.Type(result).WithQuant(dtypes.Int8, quant.Descriptor(scale, zeroPoint, asymmetric))
	}
	_, err = ctx.replace(n, kind, resultTypes, operands, n.Attrs, Entry{Path: PathINT8, RightShift: NoShift})
	return err
}

func padOperands(n *ir.Node, numOperands int) ([]ir.ValueID, error) {
	if len(n.Operands) > numOperands {
		return nil, errors.Wrapf(ir.ErrMalformedNode, "%s has %d operands, backend variant takes at most %d",
			n, len(n.Operands), numOperands)
	}
	operands := slices.Clone(n.Operands)
	for len(operands) < numOperands {
		operands = append(operands, ir.NoValue)
	}
	return operands, nil
}

// SliceLowering lowers top.Slice into tpu.Slice. The backend variant takes an extra (absent)
// buffer operand.
type SliceLowering struct{}

const tpuSliceNumOperands = 5

// LowerF32 implements Lowering.
func (SliceLowering) LowerF32(ctx *Context, n *ir.Node) error {
	return lowerCommonF32(ctx, n, ir.KindTPUSlice, tpuSliceNumOperands, Entry{Path: PathF32, RightShift: NoShift})
}

// LowerINT8 implements Lowering. The BM1684 slice is always symmetric, whatever the requested
// quantization.
func (SliceLowering) LowerINT8(ctx *Context, n *ir.Node, _ bool) error {
	return lowerCommonINT8(ctx, n, ir.KindTPUSlice, tpuSliceNumOperands, false)
}

// MinConstLowering lowers top.MinConst into tpu.MinConst.
//
// This backend family has no fixed-point MinConst: LowerINT8 lowers to float32.
type MinConstLowering struct{}

// LowerF32 implements Lowering.
func (MinConstLowering) LowerF32(ctx *Context, n *ir.Node) error {
	return lowerCommonF32(ctx, n, ir.KindTPUMinConst, 1, Entry{Path: PathF32, RightShift: NoShift})
}

// LowerINT8 implements Lowering.
func (MinConstLowering) LowerINT8(ctx *Context, n *ir.Node, _ bool) error {
	return lowerCommonF32(ctx, n, ir.KindTPUMinConst, 1,
		Entry{Path: PathF32Fallback, RightShift: NoShift, Reason: "no int8 kernel"})
}
