package vegas

import (
	"errors"
	"fmt"
)

//////
// Const, vars, types.
//////

// Error codes reported by the integrator.
const (
	// CodeConfiguration marks invalid limits, options, or an integrand whose
	// output shape changes between calls.
	CodeConfiguration = "CONFIGURATION_ERROR"

	// CodeIntegrand marks a failing integrand or density call. It aborts the
	// run.
	CodeIntegrand = "INTEGRAND_ERROR"

	// CodeNumericInstability marks an iteration whose estimate or variance is
	// not finite. The iteration is excluded from the combined result.
	CodeNumericInstability = "NUMERIC_INSTABILITY"

	// CodeConvergence marks a chi-squared per degree of freedom above
	// Config.MaxChi2PerDOF. It is a warning and never stops a run.
	CodeConvergence = "CONVERGENCE_WARNING"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrConfiguration      = &Error{Code: CodeConfiguration, Message: "invalid configuration"}
	ErrIntegrand          = &Error{Code: CodeIntegrand, Message: "integrand failed"}
	ErrNumericInstability = &Error{Code: CodeNumericInstability, Message: "numeric instability"}
	ErrConvergence        = &Error{Code: CodeConvergence, Message: "iterations are not consistent"}
)

// Error is the structured error returned by the integrator.
type Error struct {
	Code    string
	Message string
	Cause   error
}

//////
// Methods.
//////

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Code == e.Code
}

//////
// Factory.
//////

func newError(code string, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func configError(format string, args ...any) *Error {
	return newError(CodeConfiguration, nil, format, args...)
}

func integrandError(cause error, format string, args ...any) *Error {
	return newError(CodeIntegrand, cause, format, args...)
}

// Code returns the error code of err, or "UNKNOWN" when err is not an *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return "UNKNOWN"
}
