// Package errors provides structured error types for umlpipe.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the engine supervisor, bridge and CLI
//   - Machine-readable error codes for programmatic handling
//   - Fixed, user-friendly messages for the HTTP surface
//   - Error wrapping with context preservation
//
// # Error Codes
//
// Codes group into three propagation classes:
//   - Request-local: DECODE_ERROR, INVALID_INPUT. They never affect other
//     in-flight renders.
//   - Systemic: PROCESS_CLOSED, PROCESS_STOPPED, RENDER_TIMEOUT. The engine
//     queue is drained and the supervisor returns to a clean state.
//   - Startup: ENGINE_BINARY_MISSING, PORT_UNAVAILABLE, ALL_PORTS_UNAVAILABLE.
//     Reported once to the caller that initiated the start.
//
// # Usage
//
//	err := errors.New(errors.ErrCodePortUnavailable, "port %d is in use", port)
//	if errors.Is(err, errors.ErrCodePortUnavailable) {
//	    // Handle bind failure
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeProcessClosed, waitErr, "engine exited")
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"
	ErrCodeDecode        Code = "DECODE_ERROR"

	// Engine errors
	ErrCodeEngineBinaryMissing Code = "ENGINE_BINARY_MISSING"
	ErrCodeProcessClosed       Code = "PROCESS_CLOSED"
	ErrCodeProcessStopped      Code = "PROCESS_STOPPED"
	ErrCodeRenderTimeout       Code = "RENDER_TIMEOUT"

	// Bridge errors
	ErrCodePortUnavailable     Code = "PORT_UNAVAILABLE"
	ErrCodeAllPortsUnavailable Code = "ALL_PORTS_UNAVAILABLE"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// publicMessages are the only texts the HTTP surface ever shows. Messages
// built with New/Wrap may contain file paths, so they stay in the logs.
var publicMessages = map[Code]string{
	ErrCodeInvalidInput:        "invalid diagram source",
	ErrCodeDecode:              "malformed diagram payload",
	ErrCodeEngineBinaryMissing: "rendering engine is not installed",
	ErrCodeProcessClosed:       "rendering engine exited unexpectedly",
	ErrCodeProcessStopped:      "rendering engine was stopped",
	ErrCodeRenderTimeout:       "rendering timed out",
}

// PublicMessage returns a fixed, path-free message suitable for clients.
func PublicMessage(err error) string {
	if msg, ok := publicMessages[GetCode(err)]; ok {
		return msg
	}
	return "internal error"
}
