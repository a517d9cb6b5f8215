package quant

import (
	"math"

	"k8s.io/klog/v2"
)

// MaxRightShift caps the right-shift returned by RightShift.
const MaxRightShift = 31

// DefaultBiasOverflowTolerance is the maximum fraction of saturated bias elements accepted by
// CalibrateBias before it gives up shift.
const DefaultBiasOverflowTolerance = 0.03

// RightShift returns the largest shift r such that filterMax * 2^r * inScale / outScale fits
// in the signed range of the given number of bits (that is, is <= 2^(bits-1)-1).
//
// The result is negative when no r >= 0 satisfies it, meaning fixed-point execution with a
// right-shift only is not feasible. It's capped at MaxRightShift, which is also returned for
// an all-zero filter.
func RightShift(filterMax, inScale, outScale float64, bits int) int {
	target := math.Ldexp(1, bits-1) - 1
	ratio := filterMax * inScale / outScale
	if ratio == 0 {
		return MaxRightShift
	}
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio < 0 {
		return -1
	}
	// target/ratio may overflow or underflow for extreme scales: subtract logarithms instead.
	log := math.Log2(target) - math.Log2(ratio)
	if log >= MaxRightShift+1 {
		return MaxRightShift
	}
	r := int(math.Floor(log))
	// Correct floating point errors of Log2 close to exact powers of two.
	for r < MaxRightShift && ratio*math.Ldexp(1, r+1) <= target {
		r++
	}
	for ratio*math.Ldexp(1, r) > target {
		r--
	}
	return min(r, MaxRightShift)
}

// BiasCalibration is the result of CalibrateBias.
type BiasCalibration struct {
	// Quantized is the int16 bias, quantized with scale 2^RightShift/outScale.
	Quantized []int16

	// RightShift is the accepted shift.
	RightShift int

	// OverflowRatio is the fraction of saturated elements in Quantized.
	OverflowRatio float64

	// Trace lists the shifts tried, in order. It is strictly decreasing and ends with RightShift.
	Trace []int
}

// Resolved reports whether the accepted shift met the tolerance. When false the shift is 0 and the
// bias is saturated beyond the tolerance.
func (c BiasCalibration) Resolved(tolerance float64) bool {
	return c.OverflowRatio <= tolerance
}

// CalibrateBias searches, starting from r0 and going down, for the largest shift r >= 0 for which
// quantizing bias with scale 2^r/outScale saturates at most a fraction tolerance of the elements.
//
// If the tolerance is still violated at r = 0, the r = 0 result is accepted. A negative r0 is
// treated as 0.
func CalibrateBias(bias []float32, r0 int, outScale, tolerance float64) BiasCalibration {
	r := max(r0, 0)
	var result BiasCalibration
	for {
		scale := math.Ldexp(1, r) / outScale
		q, ratio := QuantizeToInt16(bias, scale)
		result.Trace = append(result.Trace, r)
		klog.V(2).Infof("bias calibration: rshift=%d scale=%g overflow=%.4f (tolerance %.4f)", r, scale, ratio, tolerance)
		if ratio <= tolerance || r == 0 {
			result.Quantized = q
			result.RightShift = r
			result.OverflowRatio = ratio
			return result
		}
		r--
	}
}
