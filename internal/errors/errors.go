package errors

import "fmt"

// ErrorCode represents a Memobox error code.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"          // 400
	ErrNotFound         ErrorCode = "NOT_FOUND"                // 404
	ErrCapsuleSealed    ErrorCode = "CAPSULE_SEALED"           // 409
	ErrAttachmentLimit  ErrorCode = "ATTACHMENT_LIMIT_REACHED" // 409
	ErrFileTooLarge     ErrorCode = "FILE_TOO_LARGE"           // 413
	ErrEncodedTooLarge  ErrorCode = "ENCODED_TOO_LARGE"        // 413
	ErrBatchTooLarge    ErrorCode = "BATCH_TOO_LARGE"          // 413
	ErrUnsupportedType  ErrorCode = "UNSUPPORTED_TYPE"         // 415
	ErrDecodeFailed     ErrorCode = "DECODE_FAILED"            // 422
	ErrCancelled        ErrorCode = "CANCELLED"                // 499
	ErrInternal         ErrorCode = "INTERNAL"                 // 500
	ErrTransportFailed  ErrorCode = "TRANSPORT_FAILED"         // 502
	ErrAgentUnreachable ErrorCode = "AGENT_UNREACHABLE"        // 502
)

// Error represents a structured error with code, status, and details.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *Error {
	return &Error{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a capsule cannot be found.
func NewNotFound(id string) *Error {
	return &Error{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("capsule not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewCapsuleSealed creates a 409 error for mutations on a sealed capsule.
func NewCapsuleSealed(id string) *Error {
	return &Error{
		Code:    ErrCapsuleSealed,
		Status:  409,
		Message: fmt.Sprintf("capsule is sealed: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewAttachmentLimit creates a 409 error when the pending list is full.
func NewAttachmentLimit(max int) *Error {
	return &Error{
		Code:    ErrAttachmentLimit,
		Status:  409,
		Message: fmt.Sprintf("at most %d attachments per message", max),
		Details: map[string]any{"max_attachments": max},
	}
}

// NewFileTooLarge creates a 413 error when a source file exceeds the byte ceiling.
func NewFileTooLarge(name string, max, actual int64) *Error {
	return &Error{
		Code:    ErrFileTooLarge,
		Status:  413,
		Message: fmt.Sprintf("image %q too large: %d bytes (max %d)", name, actual, max),
		Details: map[string]any{"name": name, "max_bytes": max, "actual_bytes": actual},
	}
}

// NewEncodedTooLarge creates a 413 error when a single encoded image exceeds the cap.
func NewEncodedTooLarge(name string, max, actual int) *Error {
	return &Error{
		Code:    ErrEncodedTooLarge,
		Status:  413,
		Message: fmt.Sprintf("encoded image %q too large: %d bytes (max %d); crop or pick a smaller one", name, actual, max),
		Details: map[string]any{"name": name, "max_bytes": max, "actual_bytes": actual},
	}
}

// NewBatchTooLarge creates a 413 error when pending attachments exceed the aggregate cap.
func NewBatchTooLarge(max, actual int) *Error {
	return &Error{
		Code:    ErrBatchTooLarge,
		Status:  413,
		Message: fmt.Sprintf("attachments too large in total: %d bytes (max %d); remove some images", actual, max),
		Details: map[string]any{"max_bytes": max, "actual_bytes": actual},
	}
}

// NewUnsupportedType creates a 415 error for non-image media types.
func NewUnsupportedType(name, mediaType string) *Error {
	return &Error{
		Code:    ErrUnsupportedType,
		Status:  415,
		Message: fmt.Sprintf("%q is not an image (%s)", name, mediaType),
		Details: map[string]any{"name": name, "media_type": mediaType},
	}
}

// NewDecodeFailed creates a 422 error when an image cannot be decoded.
func NewDecodeFailed(name string, err error) *Error {
	msg := fmt.Sprintf("could not decode image %q", name)
	if err != nil {
		msg = fmt.Sprintf("could not decode image %q: %v", name, err)
	}
	return &Error{
		Code:    ErrDecodeFailed,
		Status:  422,
		Message: msg,
		Details: map[string]any{"name": name},
	}
}

// NewCancelled creates a 499 error for a user-aborted agent call.
func NewCancelled() *Error {
	return &Error{
		Code:    ErrCancelled,
		Status:  499,
		Message: "request cancelled",
	}
}

// NewTransportFailed creates a 502 error carrying the agent's error text.
func NewTransportFailed(msg string) *Error {
	return &Error{
		Code:    ErrTransportFailed,
		Status:  502,
		Message: msg,
	}
}

// NewAgentUnreachable creates a 502 error for a probe that found no live agent.
func NewAgentUnreachable(url string) *Error {
	return &Error{
		Code:    ErrAgentUnreachable,
		Status:  502,
		Message: fmt.Sprintf("agent unreachable at %s", url),
		Details: map[string]any{"url": url},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *Error {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is an Error with the given code.
func Is(err error, code ErrorCode) bool {
	if e, ok := err.(*Error); ok {
		return e.Code == code
	}
	return false
}
