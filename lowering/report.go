package lowering

import (
	"github.com/timkaye11/tpulower/ir"
)

// Path is the lowering path taken for a node.
type Path string

const (
	// PathF32 is a float32 lowering requested by the pass mode.
	PathF32 Path = "f32"

	// PathINT8 is an int8 fixed-point lowering.
	PathINT8 Path = "int8"

	// PathF32Fallback is a float32 lowering taken by an int8 pass, because fixed-point was not
	// feasible (or not supported) for the node.
	PathF32Fallback Path = "f32-fallback"
)

// NoShift is the Entry.RightShift of nodes lowered without a right-shift.
const NoShift = -1

// Entry records the lowering of one node.
type Entry struct {
	Node     string
	From, To ir.Kind
	Path     Path

	// RightShift is the accepted shift for int8 nodes, NoShift otherwise.
	RightShift int

	// BiasOverflow is the fraction of saturated bias elements, for int8 nodes with bias.
	BiasOverflow float64

	// Reason explains fallbacks.
	Reason string
}

// Report lists the lowering decisions of a pass, in the order they were taken.
type Report struct {
	Entries []Entry
}

// Count returns the number of entries with the given path.
func (r *Report) Count(path Path) int {
	count := 0
	for _, e := range r.Entries {
		if e.Path == path {
			count++
		}
	}
	return count
}

// Find returns the entry for the node with the given name.
func (r *Report) Find(name string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Node == name {
			return e, true
		}
	}
	return Entry{}, false
}
