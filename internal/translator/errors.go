// Package translator resolves segment translations from the glossary, the
// translation memory and machine translation providers.
package translator

import (
	"errors"
	"fmt"
)

// TranslationErrorCode 翻译错误代码
type TranslationErrorCode string

const (
	// ErrResolveTransient marks failures worth one retry (rate limits,
	// server errors, network problems).
	ErrResolveTransient TranslationErrorCode = "RESOLUTION_TRANSIENT_ERROR"
	// ErrResolvePermanent marks failures no retry can fix, such as an
	// unsupported language pair or rejected credentials.
	ErrResolvePermanent TranslationErrorCode = "RESOLUTION_PERMANENT_ERROR"
)

// TranslationError 翻译错误
type TranslationError struct {
	Code     TranslationErrorCode `json:"code"`
	Provider string               `json:"provider,omitempty"`
	Message  string               `json:"message"`
	Details  string               `json:"details,omitempty"`
	Cause    error                `json:"-"`
}

func (e *TranslationError) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TranslationError) Unwrap() error {
	return e.Cause
}

// NewTransientError creates a retryable provider error.
func NewTransientError(provider, message string, cause error) *TranslationError {
	return &TranslationError{Code: ErrResolveTransient, Provider: provider, Message: message, Cause: cause}
}

// NewPermanentError creates a non-retryable provider error.
func NewPermanentError(provider, message, details string, cause error) *TranslationError {
	return &TranslationError{Code: ErrResolvePermanent, Provider: provider, Message: message, Details: details, Cause: cause}
}

// IsPermanent reports whether err is a ResolutionPermanentError.
func IsPermanent(err error) bool {
	var te *TranslationError
	return errors.As(err, &te) && te.Code == ErrResolvePermanent
}

// IsTransient reports whether err should be retried. Errors that carry no
// classification are treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsPermanent(err)
}
