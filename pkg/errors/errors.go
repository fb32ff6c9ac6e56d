// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling with rich context for Erpilot.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Erpilot errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeUnauthorized indicates the caller's role does not permit the action.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeToolFailure indicates a capability execution failed.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeRetrievalDegraded indicates one retrieval branch failed and the
	// pipeline continued on partial results.
	CodeRetrievalDegraded ErrorCode = "RETRIEVAL_DEGRADED"

	// CodeRerankUnavailable indicates the reranking model could not be used.
	CodeRerankUnavailable ErrorCode = "RERANK_UNAVAILABLE"

	// CodeGenerationTransient indicates a retryable generation backend failure.
	CodeGenerationTransient ErrorCode = "GENERATION_TRANSIENT"

	// CodeGenerationFatal indicates generation failed after exhausting retries.
	CodeGenerationFatal ErrorCode = "GENERATION_FATAL"

	// CodeCacheUnavailable indicates the response cache could not be reached.
	CodeCacheUnavailable ErrorCode = "CACHE_UNAVAILABLE"

	// CodeContextLost indicates context was lost (e.g. canceled mid-retry).
	CodeContextLost ErrorCode = "CONTEXT_LOST"
)

// PilotError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type PilotError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *PilotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *PilotError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *PilotError) MarshalJSON() ([]byte, error) {
	type Alias PilotError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new PilotError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *PilotError {
	return &PilotError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *PilotError) WithContext(key string, value interface{}) *PilotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *PilotError) WithRecoverable(recoverable bool) *PilotError {
	e.Recoverable = recoverable
	return e
}

// AsPilotError attempts to convert an error to a PilotError.
// Returns the error as PilotError if it is one, or wraps it otherwise.
func AsPilotError(err error) *PilotError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*PilotError); ok {
		return pe
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err is a PilotError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	pe, ok := err.(*PilotError)
	return ok && pe.Code == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *PilotError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to gRPC/HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 403
	case CodeInvalidInput:
		return 400
	case CodeTimeout:
		return 408
	case CodeGenerationFatal, CodeToolFailure:
		return 502
	case CodeCacheUnavailable:
		return 503
	default:
		return 500
	}
}
