package compiler

import (
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Document error codes (E00x for I/O and CUE evaluation, E1xx for
// document shape). Graph-level codes E2xx live in the ir package.
const (
	ErrCodeCUE           = "E001" // CUE evaluation failed
	ErrCodeRead          = "E002" // document file unreadable
	ErrCodeFormatVersion = "E101" // format_version missing or malformed
	ErrCodeFormatRange   = "E102" // format_version outside the supported range
	ErrCodeModule        = "E103" // module block missing or malformed
	ErrCodeType          = "E104" // type declaration or reference defect
	ErrCodeConst         = "E105" // const declaration or reference defect
	ErrCodeValue         = "E106" // literal value malformed or out of range
	ErrCodeFunction      = "E107" // function signature defect
	ErrCodeNode          = "E108" // node declaration defect
	ErrCodeEdge          = "E109" // value or flow edge defect
	ErrCodeCallee        = "E110" // call references an unknown function
	ErrCodeCapture       = "E111" // capture declaration defect
	ErrCodeDuplicateFunc = "E112" // function name declared twice
)

// CompileError is one document-level defect with its source position.
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s %s: %s", e.Code, e.Field, e.Message)
}

func errf(code, field string, pos token.Pos, format string, args ...any) *CompileError {
	return &CompileError{
		Code:    code,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
	}
}

// formatCUEError folds a CUE evaluation error into a CompileError,
// keeping the first reported position. CUE errors may fan out into
// several underlying errors; the first one carries the root cause.
func formatCUEError(field string, err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return errf(ErrCodeCUE, field, token.NoPos, "%v", err)
	}
	first := errs[0]
	pos := token.NoPos
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		pos = positions[0]
	}
	return errf(ErrCodeCUE, field, pos, "%s", first.Error())
}
