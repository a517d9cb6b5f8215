package lowering

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/timkaye11/tpulower/ir"
	"github.com/timkaye11/tpulower/quant"
)

// ErrorCode categorizes lowering failures.
type ErrorCode string

const (
	// ErrCodeMissingCalibration indicates statistics are absent for a value an int8 lowering needs.
	ErrCodeMissingCalibration ErrorCode = "MISSING_CALIBRATION"

	// ErrCodeInvalidCalibration indicates statistics yielding a non-positive scale.
	ErrCodeInvalidCalibration ErrorCode = "INVALID_CALIBRATION"

	// ErrCodeMalformedNode indicates operands or attributes inconsistent with the node's kind.
	ErrCodeMalformedNode ErrorCode = "MALFORMED_NODE"

	// ErrCodeUnsupportedKind indicates a top-dialect compute node without a registered lowering.
	ErrCodeUnsupportedKind ErrorCode = "UNSUPPORTED_KIND"

	// ErrCodeInternal is used for any other failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error is returned by Run and LowerNode. It identifies the offending node.
//
// Fallbacks to float32 and unresolved bias overflows are not errors: they are recorded in the
// Report.
type Error struct {
	Code    ErrorCode
	Node    string
	Kind    ir.Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: lowering %s %q", e.Code, e.Kind, e.Node)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsMissingCalibration returns true if the error is a lowering error caused by missing calibration.
func IsMissingCalibration(err error) bool {
	return hasCode(err, ErrCodeMissingCalibration)
}

// IsMalformedNode returns true if the error is a lowering error caused by a malformed node.
func IsMalformedNode(err error) bool {
	return hasCode(err, ErrCodeMalformedNode)
}

// IsUnsupportedKind returns true if the error is a lowering error for a kind without lowering.
func IsUnsupportedKind(err error) bool {
	return hasCode(err, ErrCodeUnsupportedKind)
}

func hasCode(err error, code ErrorCode) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}

// newError wraps err into an *Error for node n, classifying it by its cause.
func newError(n *ir.Node, err error) *Error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	code := ErrCodeInternal
	switch {
	case errors.Is(err, quant.ErrMissingCalibration):
		code = ErrCodeMissingCalibration
	case errors.Is(err, quant.ErrInvalidCalibration):
		code = ErrCodeInvalidCalibration
	case errors.Is(err, ir.ErrMalformedNode), errors.Is(err, ir.ErrNotWeight):
		code = ErrCodeMalformedNode
	}
	return &Error{Code: code, Node: n.Name, Kind: n.Kind, Err: err}
}
