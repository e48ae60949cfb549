package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/request-engine/internal/domain"
)

// Error codes surfaced to API collaborators.
const (
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeBusy               = "BUSY"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyBilled      = "ALREADY_BILLED"
	CodeNoEligibleRequests = "NO_ELIGIBLE_REQUESTS"
	CodePeriodClosed       = "PERIOD_CLOSED"
	CodeValidation         = "VALIDATION_FAILED"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimited        = "RATE_LIMITED"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	// Retriable marks errors a caller may retry unchanged after a short wait.
	Retriable bool
	Details   map[string]any
	Err       error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewUnauthorized(message string) error {
	return NewDomainError(CodeUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(CodeForbidden, message, http.StatusForbidden, nil)
}

func NewRateLimited() error {
	return &DomainError{
		Code:       CodeRateLimited,
		Message:    "too many commands, slow down",
		HTTPStatus: http.StatusTooManyRequests,
		Retriable:  true,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts engine errors to their API shape.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}

	var transitionErr *domain.TransitionError
	if errors.As(err, &transitionErr) {
		return &DomainError{
			Code:       CodeInvalidTransition,
			Message:    transitionErr.Reason,
			HTTPStatus: http.StatusConflict,
			Details: map[string]any{
				"request_id": transitionErr.RequestID,
				"trigger":    transitionErr.Trigger,
				"status":     transitionErr.Status,
			},
			Err: err,
		}
	}

	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		return &DomainError{Code: CodeInvalidTransition, Message: err.Error(), HTTPStatus: http.StatusConflict, Err: err}
	case errors.Is(err, domain.ErrBusy):
		return &DomainError{Code: CodeBusy, Message: "request is busy, retry shortly", HTTPStatus: http.StatusServiceUnavailable, Retriable: true, Err: err}
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		return &DomainError{Code: CodeNotFound, Message: err.Error(), HTTPStatus: http.StatusNotFound, Err: err}
	case errors.Is(err, domain.ErrAlreadyBilled):
		return &DomainError{Code: CodeAlreadyBilled, Message: err.Error(), HTTPStatus: http.StatusConflict, Err: err}
	case errors.Is(err, domain.ErrNoEligibleRequests):
		return &DomainError{Code: CodeNoEligibleRequests, Message: err.Error(), HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	case errors.Is(err, domain.ErrPeriodClosed):
		return &DomainError{Code: CodePeriodClosed, Message: err.Error(), HTTPStatus: http.StatusConflict, Err: err}
	case errors.Is(err, domain.ErrValidation):
		return &DomainError{Code: CodeValidation, Message: err.Error(), HTTPStatus: http.StatusBadRequest, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &DomainError{Code: CodeTimeout, Message: "request timed out", HTTPStatus: http.StatusGatewayTimeout, Retriable: true, Err: err}
	}

	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return nil
}

func MapError(err error) error {
	if de := ToDomainError(err); de != nil {
		return de
	}
	return nil
}
