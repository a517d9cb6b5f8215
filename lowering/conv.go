package lowering

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/params"
	"github.com/timkaye11/tpulower/quant"
	"k8s.io/klog/v2"
)

// QuantModeOnlyShift is the quant_mode of fixed-point nodes requantized with a right-shift only
// (the multiplier is fixed to 1).
const QuantModeOnlyShift = "OnlyShift"

// ConvLowering lowers top.Conv into tpu.Conv2D (1 or 2 spatial axes) or tpu.Conv3D.
type ConvLowering struct{}

// convKind selects the backend variant from the kernel rank.
func convKind(p params.Conv) ir.Kind {
	if p.KernelRank == 3 {
		return ir.KindTPUConv3D
	}
	return ir.KindTPUConv2D
}

// LowerF32 implements Lowering: operands and attributes are copied, and with_bias is set.
func (ConvLowering) LowerF32(ctx *Context, n *ir.Node) error {
	p, err := params.ParseConv(ctx.Graph, n)
	if err != nil {
		return err
	}
	return lowerConvF32(ctx, n, p, Entry{Path: PathF32, RightShift: NoShift})
}

func lowerConvF32(ctx *Context, n *ir.Node, p params.Conv, entry Entry) error {
	attrs := n.Attrs.Clone().Set("with_bias", ir.BoolAttr(p.HasBias))
	resultType := ctx.Graph.Type(n.Results[0])
	_, err := ctx.replace(n, convKind(p), []ir.TensorType{resultType}, n.Operands, attrs, entry)
	return err
}

// LowerINT8 implements Lowering.
//
// The filter is requantized to int8 with scale 2^rshift*inScale/outScale, where rshift is the
// largest shift keeping the filter in range. If there is a bias, rshift is then reduced until the
// int16 bias (scale 2^rshift/outScale) saturates at most Config.BiasOverflowTolerance of its
// elements. If no rshift >= 0 fits the filter, the node is lowered to float32 instead.
func (ConvLowering) LowerINT8(ctx *Context, n *ir.Node, asymmetric bool) (err error) {
	g := ctx.Graph
	var created []ir.ValueID
	defer func() {
		if err == nil {
			return
		}
		for _, id := range created {
			if removeErr := g.RemoveWeight(id); removeErr != nil {
				klog.Errorf("%s: failed to remove weight #%d after failed lowering: %+v", n, id, removeErr)
			}
		}
	}()
	p, err := params.ParseConv(g, n)
	if err != nil {
		return err
	}
	inScale, _, err := quant.ScaleAndZeroPoint(ctx.Calibration, g.Value(n.Operands[0]), asymmetric)
	if err != nil {
		return errors.WithMessage(err, "input")
	}
	outScale, outZeroPoint, err := quant.ScaleAndZeroPoint(ctx.Calibration, g.Value(n.Results[0]), asymmetric)
	if err != nil {
		return errors.WithMessage(err, "output")
	}
	filter, err := ir.ReadWeight[float32](g, n.Operands[1])
	if err != nil {
		return errors.WithMessage(err, "filter")
	}
	filterMax := quant.MaxAbs(filter)
	rshift := quant.RightShift(filterMax, inScale, outScale, 8)
	if rshift < 0 {
		klog.V(1).Infof("%s: filter max %g with scales in=%g out=%g requires rshift %d < 0, lowering to f32",
			n, filterMax, inScale, outScale, rshift)
		return lowerConvF32(ctx, n, p, Entry{Path: PathF32Fallback, RightShift: NoShift, Reason: "negative rshift"})
	}

	entry := Entry{Path: PathINT8}
	newBias := ir.NoValue
	if p.HasBias {
		bias, err := ir.ReadWeight[float32](g, n.Operands[2])
		if err != nil {
			return errors.WithMessage(err, "bias")
		}
		tolerance := ctx.Config.BiasOverflowTolerance
		calibration := quant.CalibrateBias(bias, rshift, outScale, tolerance)
		if !calibration.Resolved(tolerance) {
			klog.Warningf("%s: bias overflow %.2f%% exceeds tolerance %.2f%% at rshift 0",
				n, 100*calibration.OverflowRatio, 100*tolerance)
			entry.Reason = "bias overflow unresolved"
		}
		rshift = calibration.RightShift
		entry.BiasOverflow = calibration.OverflowRatio
		newBias, err = ir.CreateWeight(g, ctx.UniqueName(n.Name+"_bias_int16"), calibration.Quantized,
			g.Type(n.Operands[2]).Dims()...)
		if err != nil {
			return err
		}
		created = append(created, newBias)
	}
	entry.RightShift = rshift

	scale := math.Ldexp(1, rshift) * inScale / outScale
	filterInt8, _ := quant.QuantizeToInt8(filter, scale)
	newFilter, err := ir.CreateWeight(g, ctx.UniqueName(n.Name+"_filter_int8"), filterInt8,
		g.Type(n.Operands[1]).Dims()...)
	if err != nil {
		return err
	}
	created = append(created, newFilter)

	attrs := n.Attrs.Clone().
		Set("rshift", ir.IntsAttr(int64(rshift))).
		Set("multiplier", ir.IntsAttr(1)).
		Set("quant_mode", ir.StringAttr(QuantModeOnlyShift)).
		Set("with_bias", ir.BoolAttr(p.HasBias))
	resultType := g.Type(n.Results[0]).WithQuant(dtypes.Int8, quant.Descriptor(outScale, outZeroPoint, asymmetric))
	klog.V(1).Infof("%s: int8 with rshift=%d (filter max %g, scales in=%g out=%g)", n, rshift, filterMax, inScale, outScale)
	_, err = ctx.replace(n, convKind(p), []ir.TensorType{resultType},
		[]ir.ValueID{n.Operands[0], newFilter, newBias}, attrs, entry)
	return err
}
