// Package apperrors defines the typed error values exchanged across the
// workflow-engine boundary. Engine callers branch on the machine code via
// CodeOf; transport layers map codes to status codes with their own tables.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error code.
type Code string

// Workflow and validation codes. These are part of the service contract;
// renaming one is a breaking change for every transport mapping table.
const (
	CodeEntityNotFound      Code = "ENTITY_NOT_FOUND"
	CodeEntityUpdateFailed  Code = "ENTITY_UPDATE_FAILED"
	CodeWorkflowNotFound    Code = "WORKFLOW_NOT_FOUND"
	CodeWorkflowInactive    Code = "WORKFLOW_INACTIVE"
	CodeConfigInvalid       Code = "CONFIG_INVALID"
	CodeNoCurrentStage      Code = "NO_CURRENT_STAGE"
	CodeStageNotFound       Code = "STAGE_NOT_FOUND"
	CodeApproveNotAllowed   Code = "APPROVE_NOT_ALLOWED"
	CodeRejectNotAllowed    Code = "REJECT_NOT_ALLOWED"
	CodeRoleNotAllowed      Code = "ROLE_NOT_ALLOWED"
	CodeValidationFailed    Code = "VALIDATION_FAILED"
	CodeAlreadyProcessed    Code = "ALREADY_PROCESSED"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInternal            Code = "INTERNAL"
)

// Error carries a machine code alongside a human-readable message and an
// optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource. Cross-tenant mismatches use the same
// code so callers cannot distinguish "exists elsewhere" from "does not exist".
func NotFound(resource, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a failed field validation.
func InvalidInput(field, message string) *Error {
	return &Error{Code: CodeValidationFailed, Message: fmt.Sprintf("%s: %s", field, message)}
}

// CodeOf extracts the machine code from err, or CodeInternal when err does
// not carry one. CodeOf(nil) returns "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
