package waha

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/fibreflow/ticket-notify/internal/domain/shared"
)

// ErrorCode classifies a gateway failure.
type ErrorCode string

const (
	CodeAuthentication  ErrorCode = "AUTHENTICATION_ERROR"
	CodeSessionNotReady ErrorCode = "SESSION_NOT_READY"
	CodeInvalidPhone    ErrorCode = "INVALID_PHONE"
	CodeMessageFailed   ErrorCode = "MESSAGE_FAILED"
	CodeNetwork         ErrorCode = "NETWORK_ERROR"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeServer          ErrorCode = "SERVER_ERROR"
	CodeTemplate        ErrorCode = "TEMPLATE_ERROR"
	CodeValidation      ErrorCode = "VALIDATION_ERROR"
	CodeUnknown         ErrorCode = "UNKNOWN_ERROR"
)

// String returns the string representation.
func (c ErrorCode) String() string {
	return string(c)
}

// Error is a classified gateway failure. It never carries the API key.
type Error struct {
	Code        ErrorCode
	Message     string
	StatusCode  int
	URL         string
	Phone       string
	Recoverable bool
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("waha: %s: %s (status %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("waha: %s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying transport error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps gateway codes onto the shared error kinds.
func (e *Error) Is(target error) bool {
	switch target {
	case shared.ErrExternalService:
		return true
	case shared.ErrUnauthorized:
		return e.Code == CodeAuthentication
	case shared.ErrTimeout:
		return e.Code == CodeTimeout
	case shared.ErrServiceUnavailable:
		return e.Recoverable
	case shared.ErrValidation:
		return e.Code == CodeValidation || e.Code == CodeInvalidPhone || e.Code == CodeTemplate
	}
	return false
}

// IsRecoverable reports whether err is a gateway failure worth retrying.
func IsRecoverable(err error) bool {
	var we *Error
	return errors.As(err, &we) && we.Recoverable
}

// CodeOf returns the gateway code of err, or CodeUnknown.
func CodeOf(err error) ErrorCode {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return CodeUnknown
}

// NewTemplateError builds the error for a template that cannot be rendered.
// Template errors never reach the gateway.
func NewTemplateError(message string, err error) *Error {
	return &Error{Code: CodeTemplate, Message: message, Err: err}
}

// NewValidationError builds the error for a request rejected before sending.
func NewValidationError(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

// codeForStatus maps an HTTP status to a gateway code.
func codeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusBadRequest:
		return CodeValidation
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return CodeAuthentication
	case status == http.StatusServiceUnavailable:
		return CodeSessionNotReady
	case status >= 500:
		return CodeServer
	case status >= 400:
		return CodeMessageFailed
	default:
		return CodeUnknown
	}
}

// sessionNotReady reports whether an error message says the session cannot
// send yet. The gateway answers a send on a STARTING or SCAN_QR session with
// a 4xx whose body names the session status.
func sessionNotReady(msg string) bool {
	m := strings.ToLower(msg)
	if !strings.Contains(m, "session") {
		return false
	}
	for _, s := range []string{"not ready", "not as expected", "not working"} {
		if strings.Contains(m, s) {
			return true
		}
	}
	return false
}

// httpError classifies a non-2xx response. Every 5xx and every session not
// ready answer is recoverable; other 4xx are not.
func httpError(status int, body []byte, url, phone string) *Error {
	msg := parseErrorMessage(body)

	code := codeForStatus(status)
	if code != CodeAuthentication && sessionNotReady(msg) {
		code = CodeSessionNotReady
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d error", status)
	}

	return &Error{
		Code:        code,
		Message:     msg,
		StatusCode:  status,
		URL:         url,
		Phone:       phone,
		Recoverable: status >= 500 || code == CodeSessionNotReady,
	}
}

// transportError classifies a failure to get any response.
func transportError(err error, url, phone string) *Error {
	code := CodeNetwork
	msg := "network error"

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		code = CodeTimeout
		msg = "request timed out"
	}

	return &Error{
		Code:        code,
		Message:     msg,
		URL:         url,
		Phone:       phone,
		Recoverable: !errors.Is(err, context.Canceled),
		Err:         err,
	}
}
