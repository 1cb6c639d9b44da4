// Package domainerr implements the structured error type carried across
// the command path, grounded on the predecessor's core/domain.DomainError
// (internal/core/domain/errors.go): the same Code/Message/Details/Cause
// shape with errors.Is/errors.As support via Unwrap, but with the
// predecessor's numeric TM-XXXX-NNNN catalog replaced by this spec's own
// closed set of RESP error prefixes (§7) as Code values — those prefixes
// are themselves the wire-visible error taxonomy the spec defines, so a
// second, unrelated code scheme on top would just be indirection with no
// payoff.
package domainerr

import "fmt"

// Code is one of the RESP error prefixes §6/§7 define.
type Code string

const (
	CodeErr         Code = "ERR"
	CodeWrongType   Code = "WRONGTYPE"
	CodeMoved       Code = "MOVED"
	CodeAsk         Code = "ASK"
	CodeCrossSlot   Code = "CROSSSLOT"
	CodeClusterDown Code = "CLUSTERDOWN"
	CodeOOM         Code = "OOM"
)

// DomainError is a structured error carrying the RESP prefix it renders as,
// a human message, optional extra detail, and an optional wrapped cause.
type DomainError struct {
	Code    Code
	Message string
	Details string
	Cause   error
}

// New creates a DomainError with no details or cause.
func New(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap supports errors.Unwrap/errors.Is/errors.As against Cause.
func (e *DomainError) Unwrap() error { return e.Cause }

// Is reports two DomainErrors equal when their Code matches, letting
// callers write errors.Is(err, domainerr.ErrWrongType) regardless of
// Details/Cause.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy carrying additional free-text detail.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Details: details, Cause: e.Cause}
}

// WithCause returns a copy wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{Code: e.Code, Message: e.Message, Details: e.Details, Cause: cause}
}

// RESPLine renders the text that follows the leading '-' of a RESP error
// reply: "<CODE> <message>[: details]".
func (e *DomainError) RESPLine() string {
	if e.Details != "" {
		return fmt.Sprintf("%s %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s %s", e.Code, e.Message)
}

// The closed set of errors the storage engine's command table returns, per
// §4.2's edge-case policies and §7's Type/Resource error kinds.
var (
	ErrWrongType  = New(CodeWrongType, "Operation against a key holding the wrong kind of value")
	ErrOutOfRange = New(CodeErr, "index out of range")
	ErrOOM        = New(CodeOOM, "command not allowed when used memory > 'maxmemory'")
)
