package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrNetwork        = errors.New("network error")
	ErrHTTP           = errors.New("unexpected http status")
	ErrDecode         = errors.New("malformed response")
	ErrValidation     = errors.New("validation error")
)

type AppError struct {
	Err     error  // kind sentinel
	Message string // human-readable error message
	Field   string // optional: field causing the error
	Status  int    // upstream HTTP status, set for ErrHTTP
	Cause   error  // underlying error, if any
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func Authentication(cause error) *AppError {
	return &AppError{
		Err:     ErrAuthentication,
		Message: "token grant failed",
		Cause:   cause,
	}
}

func Network(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrNetwork,
		Message: fmt.Sprintf("%s: transport failure", op),
		Cause:   cause,
	}
}

func HTTPStatus(op string, status int) *AppError {
	return &AppError{
		Err:     ErrHTTP,
		Message: fmt.Sprintf("%s: API error: %d", op, status),
		Status:  status,
	}
}

func Decode(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrDecode,
		Message: fmt.Sprintf("%s: decoding response", op),
		Cause:   cause,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// StatusOf returns the upstream HTTP status carried anywhere in err's chain.
func StatusOf(err error) (int, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && errors.Is(appErr.Err, ErrHTTP) {
		return appErr.Status, true
	}
	return 0, false
}
