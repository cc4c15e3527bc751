package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput             ErrorCode = "INVALID_INPUT"
	ErrorNotFound                 ErrorCode = "NOT_FOUND"
	ErrorInvalidState             ErrorCode = "INVALID_STATE"
	ErrorUnintelligibleAudio      ErrorCode = "UNINTELLIGIBLE_AUDIO"
	ErrorTranscriptionUnavailable ErrorCode = "TRANSCRIPTION_UNAVAILABLE"
	ErrorGeneration               ErrorCode = "GENERATION_ERROR"
	ErrorRateLimited              ErrorCode = "RATE_LIMITED"
	ErrorInternal                 ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
