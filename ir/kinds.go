package ir

import (
	"strings"
	"sync"
)

// Kind identifies the operator family of a node, e.g. "top.Conv" or "tpu.Conv2D".
// The prefix before the first dot is the dialect.
type Kind string

// Built-in kinds.
const (
	KindInput    Kind = "top.Input"
	KindWeight   Kind = "top.Weight"
	KindConv     Kind = "top.Conv"
	KindSlice    Kind = "top.Slice"
	KindMinConst Kind = "top.MinConst"

	KindTPUConv2D   Kind = "tpu.Conv2D"
	KindTPUConv3D   Kind = "tpu.Conv3D"
	KindTPUSlice    Kind = "tpu.Slice"
	KindTPUMinConst Kind = "tpu.MinConst"
)

// Variadic can be used as KindInfo.NumOperands for kinds taking any number of operands.
const Variadic = -1

// KindInfo describes the structural contract of a kind.
type KindInfo struct {
	Kind Kind

	// NumOperands is the exact number of operand slots, optional operands included
	// (they hold NoValue when absent). Variadic disables the check.
	NumOperands int

	// NumResults is the exact number of results.
	NumResults int
}

var (
	kindsMu sync.RWMutex
	kinds   = make(map[Kind]KindInfo)
)

func init() {
	for _, info := range []KindInfo{
		{Kind: KindInput, NumOperands: 0, NumResults: 1},
		{Kind: KindWeight, NumOperands: 0, NumResults: 1},
		{Kind: KindConv, NumOperands: 3, NumResults: 1},
		{Kind: KindSlice, NumOperands: 4, NumResults: 1},
		{Kind: KindMinConst, NumOperands: 1, NumResults: 1},
		{Kind: KindTPUConv2D, NumOperands: 3, NumResults: 1},
		{Kind: KindTPUConv3D, NumOperands: 3, NumResults: 1},
		{Kind: KindTPUSlice, NumOperands: 5, NumResults: 1},
		{Kind: KindTPUMinConst, NumOperands: 1, NumResults: 1},
	} {
		RegisterKind(info)
	}
}

// RegisterKind adds or overrides a kind. Adding a kind never affects existing ones.
func RegisterKind(info KindInfo) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[info.Kind] = info
}

// LookupKind returns the registered information for kind.
func LookupKind(kind Kind) (info KindInfo, found bool) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	info, found = kinds[kind]
	return
}

// Dialect returns the dialect prefix of the kind ("top", "tpu", ...).
func (k Kind) Dialect() string {
	dialect, _, _ := strings.Cut(string(k), ".")
	return dialect
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}
