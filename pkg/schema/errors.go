package schema

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable failure code carried in the
// "error_code" field of an error reply.
type ErrorCode string

const (
	ErrCodeUnknown                 ErrorCode = "UNKNOWN_ERROR"
	ErrCodeInvalidCommand          ErrorCode = "INVALID_COMMAND"
	ErrCodeInvalidParams           ErrorCode = "INVALID_PARAMS"
	ErrCodeAuthFailed              ErrorCode = "AUTH_FAILED"
	ErrCodeRateLimited             ErrorCode = "RATE_LIMITED"
	ErrCodeUnsafeInput             ErrorCode = "UNSAFE_INPUT"
	ErrCodeSessionNotFound         ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionNotOwned         ErrorCode = "SESSION_NOT_OWNED"
	ErrCodeSessionClosed           ErrorCode = "SESSION_CLOSED"
	ErrCodeResourceExhausted       ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeElementNotFound         ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeElementNotVisible       ErrorCode = "ELEMENT_NOT_VISIBLE"
	ErrCodeElementNotInteractable  ErrorCode = "ELEMENT_NOT_INTERACTABLE"
	ErrCodeTimeout                 ErrorCode = "TIMEOUT"
	ErrCodeWaitTimeout             ErrorCode = "WAIT_TIMEOUT"
	ErrCodeNavigationFailed        ErrorCode = "NAVIGATION_FAILED"
	ErrCodeInvalidURL              ErrorCode = "INVALID_URL"
	ErrCodeExtractionFailed        ErrorCode = "EXTRACTION_FAILED"
)

// Error type strings carried in the "error_type" field. Coarser than the
// code; stable for client-side grouping.
const (
	ErrTypeProtocol    = "protocol_error"
	ErrTypeValidation  = "validation_error"
	ErrTypeAuth        = "auth_error"
	ErrTypeRateLimit   = "rate_limit_error"
	ErrTypeSecurity    = "security_error"
	ErrTypeSession     = "session_error"
	ErrTypeResource    = "resource_error"
	ErrTypeElement     = "element_error"
	ErrTypeInteraction = "interaction_error"
	ErrTypeNavigation  = "navigation_error"
	ErrTypeExtraction  = "extraction_error"
	ErrTypeTimeout     = "timeout"
	ErrTypeWait        = "wait_error"
	ErrTypeInternal    = "internal_error"
)

// CommandError is a failure that maps directly onto the wire error
// block. Executors and the dispatch pipeline return it (or something
// wrapping it) for every surfaced failure.
type CommandError struct {
	Code    ErrorCode
	Type    string
	Message string
	Details map[string]any
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail attaches one key to the error's details map and returns
// the error for chaining.
func (e *CommandError) WithDetail(key string, value any) *CommandError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// NewCommandError builds a CommandError with a formatted message.
func NewCommandError(code ErrorCode, errType, format string, args ...any) *CommandError {
	return &CommandError{
		Code:    code,
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// AsCommandError unwraps err to a *CommandError if one is in its chain.
func AsCommandError(err error) (*CommandError, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// WireError converts any error into the CommandError surfaced to the
// client. Typed errors pass through; context deadline expiry becomes a
// timeout; everything else is reported as an opaque internal failure so
// implementation detail never leaks onto the wire.
func WireError(err error) *CommandError {
	if ce, ok := AsCommandError(err); ok {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewCommandError(ErrCodeTimeout, ErrTypeTimeout, "command deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return NewCommandError(ErrCodeTimeout, ErrTypeTimeout, "command cancelled")
	}
	return NewCommandError(ErrCodeUnknown, ErrTypeInternal, "internal error")
}

// NewErrorResponse assembles the wire error reply for a failed command.
func NewErrorResponse(id, sessionID string, timestamp float64, execMS int64, cerr *CommandError) *ErrorResponse {
	return &ErrorResponse{
		ID:              id,
		Success:         false,
		Timestamp:       timestamp,
		ExecutionTimeMS: execMS,
		SessionID:       sessionID,
		Error:           cerr.Message,
		ErrorCode:       string(cerr.Code),
		ErrorType:       cerr.Type,
		Details:         cerr.Details,
	}
}

// ErrorResponse is the only failure reply shape on the wire.
type ErrorResponse struct {
	ID              string         `json:"id"`
	Success         bool           `json:"success"`
	Timestamp       float64        `json:"timestamp"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	SessionID       string         `json:"session_id,omitempty"`
	Error           string         `json:"error"`
	ErrorCode       string         `json:"error_code"`
	ErrorType       string         `json:"error_type"`
	Details         map[string]any `json:"details,omitempty"`
}
