package quant

import (
	"math"

	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/ir"
)

// Int8 limits.
const (
	QMin = -128
	QMax = 127
)

// ScaleAndZeroPoint returns the scale and zero-point of the value.
//
// If the value's type already carries a quantization descriptor, it is returned as is.
// Otherwise the statistics of the value (looked up by name) are converted:
//
//   - symmetric: scale = threshold/127, zero-point = 0.
//   - asymmetric: scale = (max-min)/255, zero-point = round(-128 - min/scale), clamped to int8.
//
// It fails with ErrMissingCalibration if the provider has no statistics for the value, and with
// ErrInvalidCalibration if the resulting scale is not positive.
func ScaleAndZeroPoint(p Provider, v *ir.Value, asymmetric bool) (scale float64, zeroPoint int64, err error) {
	if v == nil {
		return 0, 0, errors.New("ScaleAndZeroPoint: nil value")
	}
	if q := v.Type.Quant; q != nil {
		if q.Scale <= 0 {
			return 0, 0, errors.Wrapf(ErrInvalidCalibration, "value %q has quantization scale %g", v.Name, q.Scale)
		}
		return q.Scale, q.ZeroPoint, nil
	}
	if p == nil {
		return 0, 0, errors.Wrapf(ErrMissingCalibration, "value %q (no calibration provider)", v.Name)
	}
	stats, found := p.Lookup(v.Name)
	if !found {
		return 0, 0, errors.Wrapf(ErrMissingCalibration, "value %q", v.Name)
	}
	scale, zeroPoint = stats.ScaleAndZeroPoint(asymmetric)
	if !(scale > 0) || math.IsInf(scale, 0) {
		return 0, 0, errors.Wrapf(ErrInvalidCalibration, "value %q: stats %+v yield scale %g", v.Name, stats, scale)
	}
	return scale, zeroPoint, nil
}

// ScaleAndZeroPoint converts the statistics to int8 quantization parameters, without validation.
func (s Stats) ScaleAndZeroPoint(asymmetric bool) (scale float64, zeroPoint int64) {
	if !asymmetric {
		threshold := s.Threshold
		if threshold == 0 {
			threshold = max(math.Abs(s.Min), math.Abs(s.Max))
		}
		return threshold / QMax, 0
	}
	scale = (s.Max - s.Min) / (QMax - QMin)
	if scale <= 0 {
		return scale, 0
	}
	zp := math.Round(QMin - s.Min/scale)
	return scale, int64(min(max(zp, QMin), QMax))
}

// Descriptor returns the int8 quantization descriptor for the given scale and zero-point.
func Descriptor(scale float64, zeroPoint int64, asymmetric bool) ir.QuantDescriptor {
	return ir.QuantDescriptor{Scale: scale, ZeroPoint: zeroPoint, BitWidth: 8, Symmetric: !asymmetric}
}
