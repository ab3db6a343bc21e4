package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/snowdamiz/lmlang-sub002/internal/ir"
)

// RuntimeError is a trap: a runtime condition that aborts the invocation
// and comes back on the Outcome instead of a value.
//
// Traps include:
//   - Checked arithmetic failures (overflow, division by zero)
//   - Array accesses outside the bounds
//   - Call depth past the recursion limit
//   - Structural gaps the validator cannot see statically (missing
//     inputs, kind mismatches at runtime)
//
// RuntimeError includes structured fields for diagnostics and recovery.
type RuntimeError struct {
	// Code identifies the trap category.
	Code TrapCode

	// Message is a human-readable description.
	Message string

	// Function identifies the frame the trap fired in.
	Function ir.FuncID

	// Node identifies the originating node, when one exists. Traps
	// raised before any node runs (bad arguments, unknown function)
	// leave it zero.
	Node ir.NodeID

	// Details contains additional context keyed by field name.
	Details map[string]string
}

// TrapCode categorizes traps.
type TrapCode string

const (
	// TrapIntegerOverflow indicates a checked arithmetic result outside
	// the operand width, including MinValue negation and MinValue/-1.
	TrapIntegerOverflow TrapCode = "INTEGER_OVERFLOW"

	// TrapDivideByZero indicates integer or float division or remainder
	// with a zero divisor.
	TrapDivideByZero TrapCode = "DIVIDE_BY_ZERO"

	// TrapOutOfBounds indicates an array access outside the bounds.
	TrapOutOfBounds TrapCode = "OUT_OF_BOUNDS"

	// TrapRecursionLimit indicates a call would exceed the depth limit.
	TrapRecursionLimit TrapCode = "RECURSION_LIMIT"

	// TrapTypeMismatch indicates an operand or argument of the wrong kind.
	TrapTypeMismatch TrapCode = "TYPE_MISMATCH"

	// TrapMissingValue indicates an input port with no usable value:
	// no producer, or a producer that was suppressed and never ran.
	TrapMissingValue TrapCode = "MISSING_VALUE"

	// TrapFunctionNotFound indicates an invocation of an unknown function.
	TrapFunctionNotFound TrapCode = "FUNCTION_NOT_FOUND"

	// TrapNoReturn indicates the walk finished without executing a
	// Return node.
	TrapNoReturn TrapCode = "NO_RETURN_NODE"

	// TrapInternal indicates an engine defect: a recovered panic or a
	// state the validator should have made unreachable.
	TrapInternal TrapCode = "INTERNAL"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	var loc []string
	if e.Function.IsValid() {
		loc = append(loc, fmt.Sprintf("fn=%d", e.Function))
	}
	if e.Node.IsValid() {
		loc = append(loc, fmt.Sprintf("node=%d", e.Node))
	}
	if len(loc) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(loc, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsTrap extracts a *RuntimeError from an error chain.
// Uses errors.As to handle wrapped errors.
func AsTrap(err error) (*RuntimeError, bool) {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsTrap returns true if the error chain contains a RuntimeError with
// the given code.
func IsTrap(err error, code TrapCode) bool {
	re, ok := AsTrap(err)
	return ok && re.Code == code
}

// trapf creates a RuntimeError with a formatted message.
func trapf(code TrapCode, fn ir.FuncID, node ir.NodeID, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Function: fn,
		Node:     node,
	}
}

// newRecursionError creates the trap for a call that would exceed the
// depth limit. Depth and limit ride along in Details for the formatter.
func newRecursionError(fn ir.FuncID, node ir.NodeID, depth, limit int) *RuntimeError {
	return &RuntimeError{
		Code:     TrapRecursionLimit,
		Message:  fmt.Sprintf("call depth %d exceeds limit %d", depth, limit),
		Function: fn,
		Node:     node,
		Details: map[string]string{
			"depth": fmt.Sprintf("%d", depth),
			"limit": fmt.Sprintf("%d", limit),
		},
	}
}

// newBoundsError creates the trap for an array access outside the
// bounds. The index arrives pre-rendered so u64 patterns survive intact.
func newBoundsError(fn ir.FuncID, node ir.NodeID, index string, size int) *RuntimeError {
	return &RuntimeError{
		Code:     TrapOutOfBounds,
		Message:  fmt.Sprintf("index %s outside array of length %d", index, size),
		Function: fn,
		Node:     node,
		Details: map[string]string{
			"index": index,
			"size":  fmt.Sprintf("%d", size),
		},
	}
}

// newMissingValueError creates the trap for an input port with no
// usable value.
func newMissingValueError(fn ir.FuncID, node ir.NodeID, port ir.Port, message string) *RuntimeError {
	return &RuntimeError{
		Code:     TrapMissingValue,
		Message:  message,
		Function: fn,
		Node:     node,
		Details: map[string]string{
			"port": fmt.Sprintf("%d", port),
		},
	}
}

// InvalidProgramError is returned by New when the program fails
// validation. The engine never evaluates an invalid program; the full
// defect list is carried for reporting.
type InvalidProgramError struct {
	Errors []ir.ValidationError
}

// Error implements the error interface.
func (e *InvalidProgramError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "invalid program"
	case 1:
		return fmt.Sprintf("invalid program: %s", e.Errors[0].Error())
	default:
		return fmt.Sprintf("invalid program: %s (and %d more)", e.Errors[0].Error(), len(e.Errors)-1)
	}
}

// IsInvalidProgram returns true if the error is a validation rejection.
// Uses errors.As to handle wrapped errors.
func IsInvalidProgram(err error) bool {
	var ie *InvalidProgramError
	return errors.As(err, &ie)
}
