package ir

import "github.com/pkg/errors"

var (
	// ErrMalformedNode is wrapped by every error reporting a node whose operands, results or
	// attributes are inconsistent with its kind.
	ErrMalformedNode = errors.New("malformed node")

	// ErrUnknownKind is returned when a node is created with an unregistered kind.
	ErrUnknownKind = errors.New("unknown node kind")

	// ErrNotLive is returned when referencing a node or value that was erased or pruned.
	ErrNotLive = errors.New("node or value is not live")

	// ErrNotWeight is returned when a weight buffer is requested for a value that is not
	// defined by a top.Weight node.
	ErrNotWeight = errors.New("value is not a weight constant")
)

// malformedf panics with an error wrapping ErrMalformedNode.
// Used by attribute getters; public entry points convert it back to an error.
func malformedf(format string, args ...any) {
	panic(errors.Wrapf(ErrMalformedNode, format, args...))
}
