package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeValidation  = "validation_failed"
	ErrCodeNotJoined   = "not_joined"
	ErrCodeBadRequest  = "bad_request"
	ErrCodeRateLimited = "rate_limited"
)

var (
	ErrNotJoined  = errors.New("not joined to room")
	ErrBadRequest = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ValidationError builds the error surfaced to a sender whose publish was
// rejected. It is reported to the caller only, never broadcast.
func ValidationError(msg string) *CoreError {
	return coreError(ErrCodeValidation, msg)
}

// IsValidation reports whether err is a publish validation failure.
func IsValidation(err error) bool {
	var ce *CoreError
	return errors.As(err, &ce) && ce.Code == ErrCodeValidation
}
