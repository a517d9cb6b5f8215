// Package lowering rewrites top-dialect nodes into their tpu-dialect replacements, choosing per
// node between the float32 path and the int8 fixed-point path.
//
// Each operator kind registers a Lowering with two entry points: LowerF32 always produces a
// float replacement; LowerINT8 derives the requantization parameters from calibration statistics
// and commits a fixed-point replacement, or falls back to the float path when a right-shift only
// scheme can't represent the filter. Replacements are committed with ir.Graph.Replace.
//
// Run drives a lowering pass over a whole graph.
package lowering

import (
	"sort"
	"sync"

	"github.com/timkaye11/tpulower/ir"
)

// Lowering is implemented by each operator kind that can be lowered.
//
// Both methods either commit a replacement of n through ctx.Graph.Replace, or return an error
// and leave the graph untouched.
type Lowering interface {
	// LowerF32 replaces n by its float32 backend variant.
	LowerF32(ctx *Context, n *ir.Node) error

	// LowerINT8 replaces n by its int8 fixed-point backend variant, or by the float32 variant if
	// fixed-point is not feasible for n.
	LowerINT8(ctx *Context, n *ir.Node, asymmetric bool) error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[ir.Kind]Lowering)
)

func init() {
	Register(ir.KindConv, ConvLowering{})
	Register(ir.KindSlice, SliceLowering{})
	Register(ir.KindMinConst, MinConstLowering{})
}

// Register sets the lowering of a kind, replacing any previous registration.
func Register(kind ir.Kind, l Lowering) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = l
}

// Lookup returns the lowering registered for the kind.
func Lookup(kind ir.Kind) (Lowering, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	l, found := registry[kind]
	return l, found
}

// Kinds returns the sorted list of kinds with a registered lowering.
func Kinds() []ir.Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]ir.Kind, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
