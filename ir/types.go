package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// QuantDescriptor describes the linear quantization of a value: real = (q - ZeroPoint) * Scale.
type QuantDescriptor struct {
	Scale     float64
	ZeroPoint int64
	BitWidth  int
	Symmetric bool
}

// String implements fmt.Stringer.
func (q QuantDescriptor) String() string {
	mode := "asym"
	if q.Symmetric {
		mode = "sym"
	}
	return fmt.Sprintf("{scale=%s, zp=%d, bits=%d, %s}",
		strconv.FormatFloat(q.Scale, 'g', 6, 64), q.ZeroPoint, q.BitWidth, mode)
}

// TensorType is the type of a Value: shape (which includes the element dtype) and an
// optional quantization descriptor.
type TensorType struct {
	Shape shapes.Shape
	Quant *QuantDescriptor
}

// Tensor returns a non-quantized TensorType.
func Tensor(dtype dtypes.DType, dims ...int) TensorType {
	return TensorType{Shape: shapes.Make(dtype, dims...)}
}

// DType returns the element type.
func (t TensorType) DType() dtypes.DType {
	return t.Shape.DType
}

// Dims returns a copy of the dimensions.
func (t TensorType) Dims() []int {
	return append([]int(nil), t.Shape.Dimensions...)
}

// Size returns the number of elements.
func (t TensorType) Size() int {
	return t.Shape.Size()
}

// Rank returns the number of axes.
func (t TensorType) Rank() int {
	return t.Shape.Rank()
}

// IsQuantized reports whether the type carries a quantization descriptor.
func (t TensorType) IsQuantized() bool {
	return t.Quant != nil
}

// WithDType returns a copy of t with a different element type. The quantization descriptor is
// dropped.
func (t TensorType) WithDType(dtype dtypes.DType) TensorType {
	return Tensor(dtype, t.Shape.Dimensions...)
}

// WithQuant returns a copy of t, re-expressed with the given element type and quantization.
func (t TensorType) WithQuant(dtype dtypes.DType, q QuantDescriptor) TensorType {
	out := t.WithDType(dtype)
	out.Quant = &q
	return out
}

// Equal compares shape, dtype and quantization.
func (t TensorType) Equal(other TensorType) bool {
	if !t.Shape.Equal(other.Shape) {
		return false
	}
	if (t.Quant == nil) != (other.Quant == nil) {
		return false
	}
	return t.Quant == nil || *t.Quant == *other.Quant
}

// String implements fmt.Stringer, e.g. "f32[1,3,8,8]" or "i8[1,4]{scale=0.1, zp=0, bits=8, sym}".
func (t TensorType) String() string {
	parts := make([]string, len(t.Shape.Dimensions))
	for ii, dim := range t.Shape.Dimensions {
		parts[ii] = strconv.Itoa(dim)
	}
	s := fmt.Sprintf("%s[%s]", DTypeName(t.Shape.DType), strings.Join(parts, ","))
	if t.Quant != nil {
		s += t.Quant.String()
	}
	return s
}

// DTypeName returns the short name used in IR dumps.
func DTypeName(dtype dtypes.DType) string {
	switch dtype {
	case dtypes.Float32:
		return "f32"
	case dtypes.Float64:
		return "f64"
	case dtypes.Float16:
		return "f16"
	case dtypes.BFloat16:
		return "bf16"
	case dtypes.Int8:
		return "i8"
	case dtypes.Int16:
		return "i16"
	case dtypes.Int32:
		return "i32"
	case dtypes.Int64:
		return "i64"
	case dtypes.Uint8:
		return "u8"
	case dtypes.Uint16:
		return "u16"
	case dtypes.Bool:
		return "i1"
	default:
		return strings.ToLower(dtype.String())
	}
}

// IntRange returns the representable range of a signed integer dtype.
// It returns ok=false for other dtypes.
func IntRange(dtype dtypes.DType) (lo, hi int64, ok bool) {
	switch dtype {
	case dtypes.Int8:
		return -128, 127, true
	case dtypes.Int16:
		return -32768, 32767, true
	case dtypes.Int32:
		return -2147483648, 2147483647, true
	case dtypes.Uint8:
		return 0, 255, true
	case dtypes.Uint16:
		return 0, 65535, true
	default:
		return 0, 0, false
	}
}
