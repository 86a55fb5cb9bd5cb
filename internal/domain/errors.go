package domain

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeTranscription Code = "TranscriptionError"
	CodeCaptioning    Code = "CaptioningError"
	CodeSummarization Code = "SummarizationError"
	CodeMapping       Code = "MappingError"
	CodeSequence      Code = "SequenceError"
	CodeJobNotFound   Code = "JobNotFoundError"
	CodeInvalidState  Code = "InvalidStateError"
	CodeInvalidInput  Code = "InvalidInputError"
	CodeCancelled     Code = "CancelledError"
	CodeInternal      Code = "InternalError"
)

// Error is a classified pipeline error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error formats the code, message and cause.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error by code so sentinel-style checks work.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || t == nil || e == nil {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// NewError builds a classified error.
func NewError(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

// Errorf builds a classified error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks; they match any *Error with the same code.
var (
	ErrTranscription = &Error{Code: CodeTranscription}
	ErrCaptioning    = &Error{Code: CodeCaptioning}
	ErrSummarization = &Error{Code: CodeSummarization}
	ErrMapping       = &Error{Code: CodeMapping}
	ErrSequence      = &Error{Code: CodeSequence}
	ErrJobNotFound   = &Error{Code: CodeJobNotFound}
	ErrInvalidState  = &Error{Code: CodeInvalidState}
	ErrInvalidInput  = &Error{Code: CodeInvalidInput}
	ErrCancelled     = &Error{Code: CodeCancelled}
)

// CodeOf returns the code of the outermost classified error, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Classify wraps err with code unless it is already classified.
func Classify(code Code, msg string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && e != nil {
		return err
	}
	return NewError(code, msg, err)
}

// JobError is the failure record stored on a failed job.
type JobError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// JobErrorFrom converts any error into a storable failure record.
func JobErrorFrom(err error) *JobError {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) || e == nil {
		return &JobError{Code: CodeInternal, Message: err.Error()}
	}
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	return &JobError{Code: e.Code, Message: msg}
}

// Err turns the stored record back into a classified error.
func (e *JobError) Err() error {
	if e == nil {
		return nil
	}
	return &Error{Code: e.Code, Message: e.Message}
}
