package quant

import (
	"math"
	"sync/atomic"

	"github.com/timkaye11/tpulower/internal/parallel"
)

// Integer is the set of element types a float buffer can be requantized into.
type Integer interface {
	int8 | int16
}

// intRange returns the representable range of T.
func intRange[T Integer]() (lo, hi float64) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return math.MinInt8, math.MaxInt8
	default:
		return math.MinInt16, math.MaxInt16
	}
}

// Requantize converts src into integers of type T: q[i] = clamp(round(src[i] * scale)), rounding
// half away from zero.
//
// overflowRatio is the fraction of elements whose rounded value fell outside T's range (and hence
// was saturated). It's 0 for an empty buffer.
//
// Large buffers are split over parallel workers; the result doesn't depend on the partitioning.
func Requantize[T Integer](src []float32, scale float64) (q []T, overflowRatio float64) {
	q = make([]T, len(src))
	if len(src) == 0 {
		return q, 0
	}
	lo, hi := intRange[T]()
	var overflows atomic.Int64
	parallel.For(len(src), 0, func(start, end int) {
		var count int64
		for ii := start; ii < end; ii++ {
			v := math.Round(float64(src[ii]) * scale)
			if v > hi {
				v = hi
				count++
			} else if v < lo {
				v = lo
				count++
			} else if math.IsNaN(v) {
				v = 0
			}
			q[ii] = T(v)
		}
		overflows.Add(count)
	})
	return q, float64(overflows.Load()) / float64(len(src))
}

// QuantizeToInt8 requantizes a filter buffer into int8.
func QuantizeToInt8(src []float32, scale float64) ([]int8, float64) {
	return Requantize[int8](src, scale)
}

// QuantizeToInt16 requantizes a bias buffer into int16.
func QuantizeToInt16(src []float32, scale float64) ([]int16, float64) {
	return Requantize[int16](src, scale)
}

// MaxAbs returns max(|src[i]|), or 0 for an empty buffer.
func MaxAbs(src []float32) float64 {
	var m float64
	for _, v := range src {
		m = max(m, math.Abs(float64(v)))
	}
	return m
}
