package orcall

import (
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeInternal   ErrorType = "internal"
)

// CallError is the error returned by every marshalling and dispatch step.
type CallError struct {
	Type      ErrorType      `json:"type"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Procedure string         `json:"procedure,omitempty"`
	Path      string         `json:"path,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Cause     error          `json:"-"`
}

func (e *CallError) Error() string {
	switch {
	case e.Procedure != "" && e.Path != "":
		return fmt.Sprintf("[%s:%s] %s parameter '%s': %s", e.Type, e.Code, e.Procedure, e.Path, e.Message)
	case e.Procedure != "":
		return fmt.Sprintf("[%s:%s] procedure %s: %s", e.Type, e.Code, e.Procedure, e.Message)
	case e.Path != "":
		return fmt.Sprintf("[%s:%s] parameter '%s': %s", e.Type, e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// Is matches any CallError carrying the same code, so the exported sentinels
// work with errors.Is.
func (e *CallError) Is(target error) bool {
	t, ok := target.(*CallError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail adds a single detail
func (e *CallError) WithDetail(key string, value any) *CallError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause adds a cause
func (e *CallError) WithCause(cause error) *CallError {
	e.Cause = cause
	return e
}

// WithPath sets the dotted parameter path the error refers to
func (e *CallError) WithPath(path string) *CallError {
	e.Path = path
	return e
}

// WithProcedure sets the remote procedure name
func (e *CallError) WithProcedure(name string) *CallError {
	e.Procedure = name
	return e
}

const (
	ErrCodeMalformedSignature    = "MALFORMED_SIGNATURE"
	ErrCodeUnsupportedValueType  = "UNSUPPORTED_VALUE_TYPE"
	ErrCodeTypeMismatch          = "TYPE_MISMATCH"
	ErrCodeApplicationNotFound   = "APPLICATION_NOT_FOUND"
	ErrCodeProcedureNotFound     = "PROCEDURE_NOT_FOUND"
	ErrCodeTransportFailed       = "TRANSPORT_FAILED"
	ErrCodeCatalogueUnavailable  = "CATALOGUE_UNAVAILABLE"
	ErrCodeInvalidArgument       = "INVALID_ARGUMENT"
	ErrCodeNotConnected          = "NOT_CONNECTED"
	ErrCodeFieldNotDeclared      = "FIELD_NOT_DECLARED"
	ErrCodeArgumentSchemaInvalid = "ARGUMENT_SCHEMA_INVALID"
)

// Sentinels for errors.Is.
var (
	ErrMalformedSignature    = &CallError{Code: ErrCodeMalformedSignature}
	ErrUnsupportedValueType  = &CallError{Code: ErrCodeUnsupportedValueType}
	ErrTypeMismatch          = &CallError{Code: ErrCodeTypeMismatch}
	ErrApplicationNotFound   = &CallError{Code: ErrCodeApplicationNotFound}
	ErrProcedureNotFound     = &CallError{Code: ErrCodeProcedureNotFound}
	ErrNotConnected          = &CallError{Code: ErrCodeNotConnected}
	ErrFieldNotDeclared      = &CallError{Code: ErrCodeFieldNotDeclared}
	ErrArgumentSchemaInvalid = &CallError{Code: ErrCodeArgumentSchemaInvalid}
)

// ProcedureNotFoundMessage is the text reported when the connected
// application has no procedure with the requested name.
const ProcedureNotFoundMessage = "The specified procedure name was not found in the initiated application."

// NewCallError creates a new CallError
func NewCallError(errorType ErrorType, code, message string) *CallError {
	return &CallError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewMalformedSignatureError reports a signature clause that cannot be parsed.
func NewMalformedSignatureError(clause, reason string) *CallError {
	return &CallError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeMalformedSignature,
		Message: reason,
		Details: map[string]any{"clause": clause},
	}
}

// NewUnsupportedValueTypeError reports a value or declared type with no mapping.
func NewUnsupportedValueTypeError(path, reason string) *CallError {
	return &CallError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeUnsupportedValueType,
		Message: reason,
		Path:    path,
	}
}

// NewTypeMismatchError reports a value whose shape does not match its declared tag.
func NewTypeMismatchError(path string, declared TypeTag, observed Kind) *CallError {
	return &CallError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeTypeMismatch,
		Message: fmt.Sprintf("declared %s but got %s", declared, observed),
		Path:    path,
		Details: map[string]any{"declared": string(declared), "observed": observed.String()},
	}
}

// NewApplicationNotFoundError reports an image the session cannot reach.
func NewApplicationNotFoundError(image string) *CallError {
	return &CallError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeApplicationNotFound,
		Message: fmt.Sprintf("application %q is not registered, or is suspended or disabled", image),
		Details: map[string]any{"image": image},
	}
}

// NewProcedureNotFoundError reports a procedure absent from the connected application.
func NewProcedureNotFoundError(name string) *CallError {
	return &CallError{
		Type:      ErrorTypeNotFound,
		Code:      ErrCodeProcedureNotFound,
		Message:   ProcedureNotFoundMessage,
		Procedure: name,
	}
}

// NewTransportError wraps a failure raised by the session.
func NewTransportError(procedure string, cause error) *CallError {
	return &CallError{
		Type:      ErrorTypeTransport,
		Code:      ErrCodeTransportFailed,
		Message:   "remote call failed",
		Procedure: procedure,
		Cause:     cause,
	}
}

// NewCatalogueUnavailableError wraps a failure to fetch application metadata.
func NewCatalogueUnavailableError(cause error) *CallError {
	return &CallError{
		Type:    ErrorTypeTransport,
		Code:    ErrCodeCatalogueUnavailable,
		Message: "application catalogue could not be retrieved",
		Cause:   cause,
	}
}

// NewNotConnectedError reports use of a session before Connect.
func NewNotConnectedError() *CallError {
	return &CallError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeNotConnected,
		Message: "session is not connected",
	}
}

// NewFieldNotDeclaredError reports access to a path missing from a field port.
func NewFieldNotDeclaredError(path string) *CallError {
	return &CallError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeFieldNotDeclared,
		Message: "no such attribute",
		Path:    path,
	}
}

// NewInvalidArgumentError reports a caller mistake not covered by the codec kinds.
func NewInvalidArgumentError(message string) *CallError {
	return &CallError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidArgument,
		Message: message,
	}
}
