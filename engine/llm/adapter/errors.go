package llmadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/compozy/policychat/engine/core"
)

// Error codes for provider failures
const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeRateLimit         = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalServer    = "INTERNAL_SERVER_ERROR"
	ErrCodeBadGateway        = "BAD_GATEWAY"
	ErrCodeServiceUnavail    = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout    = "GATEWAY_TIMEOUT"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeConnectionReset   = "CONNECTION_RESET"
	ErrCodeConnectionRefused = "CONNECTION_REFUSED"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
	ErrCodeInvalidModel      = "INVALID_MODEL"
	ErrCodeContentPolicy     = "CONTENT_POLICY"
	ErrCodeContextLength     = "CONTEXT_LENGTH_EXCEEDED"
	ErrCodeUnknown           = "UNKNOWN"
)

// Error is a structured provider failure.
type Error struct {
	Code       string
	StatusCode int
	Message    string
	Provider   string
	Err        error
}

// NewError builds an Error whose code derives from an HTTP status.
func NewError(statusCode int, message, provider string, err error) *Error {
	return &Error{
		Code:       codeForStatus(statusCode),
		StatusCode: statusCode,
		Message:    message,
		Provider:   provider,
		Err:        err,
	}
}

// NewErrorWithCode builds an Error with an explicit code.
func NewErrorWithCode(code, message, provider string, err error) *Error {
	return &Error{Code: code, Message: message, Provider: provider, Err: err}
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s provider error %s (%d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s provider error %s: %s", e.Provider, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a caller-side retry could succeed.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeServiceUnavail, ErrCodeBadGateway, ErrCodeGatewayTimeout,
		ErrCodeInternalServer, ErrCodeTimeout, ErrCodeConnectionReset, ErrCodeConnectionRefused:
		return true
	default:
		return false
	}
}

// Sentinel maps the failure onto the application error taxonomy.
// Malformed requests are the caller's fault; everything else means the service could not answer.
func (e *Error) Sentinel() error {
	switch e.Code {
	case ErrCodeBadRequest, ErrCodeContentPolicy, ErrCodeContextLength:
		return core.ErrInvalidInput
	default:
		return core.ErrServiceUnavailable
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrCodeBadRequest
	case http.StatusUnauthorized:
		return ErrCodeUnauthorized
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusTooManyRequests:
		return ErrCodeRateLimit
	case http.StatusInternalServerError:
		return ErrCodeInternalServer
	case http.StatusBadGateway:
		return ErrCodeBadGateway
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavail
	case http.StatusGatewayTimeout:
		return ErrCodeGatewayTimeout
	default:
		return ErrCodeUnknown
	}
}

// Classify wraps a raw provider error with its taxonomy sentinel.
// Errors that already carry a sentinel pass through unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	if kind := core.KindOf(err); kind != core.KindInternal {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s request canceled: %w", core.ErrServiceUnavailable, provider, err)
	}
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		llmErr = NewErrorParser(provider).ParseError(err)
	}
	if llmErr == nil {
		llmErr = NewErrorWithCode(ErrCodeUnknown, err.Error(), provider, err)
	}
	return fmt.Errorf("%w: %w", llmErr.Sentinel(), llmErr)
}
