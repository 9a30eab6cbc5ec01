// Package errors provides structured error handling for recondor operations.
// It defines error codes, typed errors for the scan lifecycle, module
// execution and persistence layers, and utilities for inspecting them.
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodePermission    ErrorCode = "PERMISSION"

	// Scan lifecycle errors.
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeScanNotFound      ErrorCode = "SCAN_NOT_FOUND"
	CodeScanAlreadyActive ErrorCode = "SCAN_ALREADY_ACTIVE"
	CodeScanFailed        ErrorCode = "SCAN_FAILED"
	CodeTargetInvalid     ErrorCode = "TARGET_INVALID"

	// Module errors.
	CodeModuleUnknown ErrorCode = "MODULE_UNKNOWN"
	CodeModuleFailed  ErrorCode = "MODULE_FAILED"
	CodeModuleConfig  ErrorCode = "MODULE_CONFIG"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeConflict           ErrorCode = "CONFLICT"

	// Service errors.
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
)

// TransitionError reports an attempted scan state transition that is not
// present in the transition table. The attempted states and the full set of
// transitions allowed from the current state are carried so callers can
// render a precise diagnostic. The state machine guarantees it has not been
// modified when this error is returned.
type TransitionError struct {
	ScanID  string
	From    string
	To      string
	Allowed []string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	allowed := "none"
	if len(e.Allowed) > 0 {
		allowed = strings.Join(e.Allowed, ", ")
	}
	return fmt.Sprintf("[%s] invalid scan state transition from %s to %s (allowed: %s)",
		CodeInvalidTransition, e.From, e.To, allowed)
}

// NewTransitionError creates an error for an illegal state transition.
func NewTransitionError(scanID, from, to string, allowed []string) *TransitionError {
	return &TransitionError{ScanID: scanID, From: from, To: to, Allowed: allowed}
}

// ScanError represents an error that occurred during scan orchestration.
type ScanError struct {
	Code    ErrorCode
	Message string
	ScanID  string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// ModuleError represents a failure inside one reconnaissance module.
type ModuleError struct {
	Code   ErrorCode
	Module string
	ScanID string
	Msg    string
	Cause  error
}

// Error implements the error interface.
func (e *ModuleError) Error() string {
	if e.Module != "" {
		return fmt.Sprintf("[%s] %s (module: %s)", e.Code, e.Msg, e.Module)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
}

// Unwrap returns the underlying error.
func (e *ModuleError) Unwrap() error {
	return e.Cause
}

// NewModuleError creates a new module error.
func NewModuleError(code ErrorCode, module, msg string) *ModuleError {
	return &ModuleError{Code: code, Module: module, Msg: msg}
}

// WrapModuleError wraps an existing error as a module error.
func WrapModuleError(code ErrorCode, module, msg string, err error) *ModuleError {
	return &ModuleError{Code: code, Module: module, Msg: msg, Cause: err}
}

// ErrUnknownModule creates an error for operations on unregistered modules.
func ErrUnknownModule(module string) *ModuleError {
	return NewModuleError(CodeModuleUnknown, module, "module is not registered")
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Query     string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// WithQuery adds the SQL query that caused the error.
func (e *DatabaseError) WithQuery(query string) *DatabaseError {
	e.Query = query
	return e
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{Code: code, Message: message, Field: field, Value: value}
}

// Utility functions for common error operations.

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *TransitionError:
		return CodeInvalidTransition
	case *ScanError:
		return e.Code
	case *ModuleError:
		return e.Code
	case *DatabaseError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeServiceUnavailable, CodeDatabaseTimeout, CodeRateLimited:
		return true
	default:
		return false
	}
}

// IsFatal determines if an error indicates a condition that should stop the scan.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodePermission, CodeConfiguration, CodeTargetInvalid:
		return true
	default:
		return false
	}
}
