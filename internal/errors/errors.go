package errors

import "fmt"

// ErrorCode represents a capsid error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrProtocol       ErrorCode = "PROTOCOL_ERROR"  // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrDuplicateID    ErrorCode = "DUPLICATE_ID"    // 409
	ErrDecode         ErrorCode = "DECODE_ERROR"    // 422
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// CapsidError represents a structured error with code, status, and details.
type CapsidError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CapsidError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CapsidError {
	return &CapsidError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewProtocol creates a 400 error for a malformed worker request.
func NewProtocol(msg string) *CapsidError {
	return &CapsidError{
		Code:    ErrProtocol,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing capsule or path.
func NewNotFound(identifier string) *CapsidError {
	return &CapsidError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewDuplicateID creates a 409 error for an explicit create of an existing id.
func NewDuplicateID(id string) *CapsidError {
	return &CapsidError{
		Code:    ErrDuplicateID,
		Status:  409,
		Message: fmt.Sprintf("capsule id already exists: %s (use upsert to update in place)", id),
		Details: map[string]any{"id": id},
	}
}

// NewDecode creates a 422 error for file content unreadable under any attempted encoding.
func NewDecode(path string, reason string) *CapsidError {
	return &CapsidError{
		Code:    ErrDecode,
		Status:  422,
		Message: fmt.Sprintf("cannot decode %s: %s", path, reason),
		Details: map[string]any{"path": path},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CapsidError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CapsidError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a CapsidError with the given code.
func Is(err error, code ErrorCode) bool {
	if cErr, ok := err.(*CapsidError); ok {
		return cErr.Code == code
	}
	return false
}
