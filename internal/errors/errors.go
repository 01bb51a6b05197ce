package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes.
type ErrorCode string

const (
	// Practice loop failures
	ErrSentenceFetch       ErrorCode = "SENTENCE_FETCH_FAILURE"
	ErrPermission          ErrorCode = "PERMISSION_FAILURE"
	ErrSubmissionTransport ErrorCode = "SUBMISSION_TRANSPORT_FAILURE"
	ErrApplicationScoring  ErrorCode = "APPLICATION_SCORING_ERROR"

	// General errors
	ErrValidation    ErrorCode = "VALIDATION_ERROR"
	ErrInvalidAction ErrorCode = "INVALID_ACTION"
	ErrInternal      ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and metadata.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrInternal
}

// HTTPStatus returns the HTTP status code for the error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrInvalidAction:
		return http.StatusConflict
	case ErrPermission:
		return http.StatusForbidden
	case ErrSentenceFetch, ErrSubmissionTransport:
		return http.StatusBadGateway
	case ErrApplicationScoring:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the user can try the same action again
// without choosing a new sentence.
func (e *AppError) Retryable() bool {
	return e.Code != ErrInternal
}

// Common error constructors
func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

func InvalidAction(message string) *AppError {
	return New(ErrInvalidAction, message)
}

func SentenceFetch(err error) *AppError {
	return Wrap(ErrSentenceFetch, "no sentence available", err)
}

func Permission(message string, err error) *AppError {
	return Wrap(ErrPermission, message, err)
}

func SubmissionTransport(err error) *AppError {
	return Wrap(ErrSubmissionTransport, "could not reach the scoring service", err)
}

// ApplicationScoring carries the scoring service's own message verbatim.
func ApplicationScoring(message string) *AppError {
	return New(ErrApplicationScoring, message)
}
