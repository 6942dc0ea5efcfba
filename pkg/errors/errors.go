package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error types that can be used throughout the application
var (
	// Standard error sentinel values
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalError      = errors.New("internal error")
	ErrTimeout            = errors.New("operation timed out")
	ErrUnavailable        = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrCanceled           = errors.New("operation canceled")

	// Domain-specific error sentinel values
	ErrConnectionLost      = errors.New("switch connection lost")
	ErrConnectionFailed    = errors.New("switch connection failed permanently")
	ErrCallNotFound        = errors.New("call session not found")
	ErrCallAlreadyExists   = errors.New("call session already exists")
	ErrPersistenceFailed   = errors.New("persistence operation failed")
	ErrProviderUnavailable = errors.New("transcription provider unavailable")
	ErrInvalidNotification = errors.New("invalid recording notification")
	ErrQueueClosed         = errors.New("processing queue closed")
	ErrAttemptsExhausted   = errors.New("job attempts exhausted")
)

// Error represents a structured error with source location and additional context
type Error struct {
	// original is the underlying error
	original error

	// message is the error message
	message string

	// fields contains contextual information
	fields map[string]interface{}

	// file and line record where the error was created
	file string
	line int

	// Code is an optional error code for categorization
	Code string
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: err,
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
	}
}

// WithField adds a single field to the error context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	result := e.clone(1)
	result.fields[key] = value
	return result
}

// WithFields adds multiple fields to the error context
func (e *Error) WithFields(fields map[string]interface{}) *Error {
	if e == nil {
		return nil
	}

	result := e.clone(len(fields))
	for k, v := range fields {
		result.fields[k] = v
	}
	return result
}

// WithCode adds an error code to the error
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}

	result := e.clone(0)
	result.Code = code
	return result
}

// clone copies the error so context additions never mutate the original
func (e *Error) clone(extraFields int) *Error {
	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+extraFields),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}
	for k, v := range e.fields {
		result.fields[k] = v
	}
	return result
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}

	if e.message == "" {
		return e.original.Error()
	}

	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}

	parts := strings.Split(e.file, "/")
	filename := parts[len(parts)-1]

	return fmt.Sprintf("%s:%d", filename, e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// GetCode returns the error's code
func (e *Error) GetCode() string {
	if e == nil {
		return ""
	}
	return e.Code
}

// Is reports whether any error in err's tree matches target.
// Implements the errors.Is interface.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}

	if errors.Is(e.original, target) {
		return true
	}

	return e == target
}

// NewCallNotFound creates a new ErrCallNotFound error with the call id attached
func NewCallNotFound(callID string, fields ...map[string]interface{}) *Error {
	fieldMap := firstFieldMap(fields)
	fieldMap["call_id"] = callID

	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrCallNotFound,
		message:  fmt.Sprintf("call session not found: %s", callID),
		fields:   fieldMap,
		file:     file,
		line:     line,
		Code:     "CALL_NOT_FOUND",
	}
}

// NewInvalidNotification creates a new ErrInvalidNotification error with additional context
func NewInvalidNotification(details string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrInvalidNotification,
		message:  fmt.Sprintf("invalid recording notification: %s", details),
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     "INVALID_NOTIFICATION",
	}
}

// NewInvalidInput creates a new ErrInvalidInput error with additional context
func NewInvalidInput(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrInvalidInput,
		message:  message,
		fields:   firstFieldMap(fields),
		file:     file,
		line:     line,
		Code:     "INVALID_INPUT",
	}
}

// IsErrorType checks if an error is of a specific error type
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetCode()
	}
	return ""
}

// GetErrorFields extracts fields from an error if it's a structured error
func GetErrorFields(err error) map[string]interface{} {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.GetFields()
	}
	return nil
}

func firstFieldMap(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 && fields[0] != nil {
		return fields[0]
	}
	return make(map[string]interface{})
}
