// Package errors defines the tagged-variant error taxonomy shared by every
// AG3NT subsystem. A single concrete type, AppError, carries a closed set of
// error kinds so callers branch on Code rather than on concrete types.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode is a closed enumeration of the runtime's error kinds.
type ErrorCode string

const (
	CodeNotReady         ErrorCode = "NOT_READY"
	CodeStaleState       ErrorCode = "STALE_STATE"
	CodeSecurityBlocked  ErrorCode = "SECURITY_BLOCKED"
	CodeQuota            ErrorCode = "QUOTA"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeStorage          ErrorCode = "STORAGE"
	CodeValidation       ErrorCode = "VALIDATION"
	CodeCancelled        ErrorCode = "CANCELLED"
)

// AppError is the concrete error type carried by every kind above.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	// Reason and MatchedRule are populated by SecurityBlockedError producers
	// (exec approval, path protection, file security) so callers can render
	// the specific rule that tripped without parsing Message.
	Reason      string
	MatchedRule string
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewNotReadyError(message string) *AppError {
	return &AppError{Code: CodeNotReady, Message: message}
}

func NewStaleStateError(message string) *AppError {
	return &AppError{Code: CodeStaleState, Message: message}
}

// NewSecurityBlockedError carries the human-readable reason and the specific
// rule/pattern that matched, per §7's "Carries reason and matched_rule".
func NewSecurityBlockedError(reason, matchedRule string) *AppError {
	return &AppError{
		Code:        CodeSecurityBlocked,
		Message:     reason,
		Reason:      reason,
		MatchedRule: matchedRule,
	}
}

func NewQuotaError(message string) *AppError {
	return &AppError{Code: CodeQuota, Message: message}
}

func NewTimeoutError(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message}
}

func NewStorageError(message string, cause error) *AppError {
	return &AppError{Code: CodeStorage, Message: message, Err: cause}
}

func NewValidationError(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewCancelledError(message string) *AppError {
	return &AppError{Code: CodeCancelled, Message: message}
}

func codeIs(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func IsNotReady(err error) bool        { return codeIs(err, CodeNotReady) }
func IsStaleState(err error) bool      { return codeIs(err, CodeStaleState) }
func IsSecurityBlocked(err error) bool { return codeIs(err, CodeSecurityBlocked) }
func IsQuota(err error) bool           { return codeIs(err, CodeQuota) }
func IsTimeout(err error) bool         { return codeIs(err, CodeTimeout) }
func IsStorage(err error) bool         { return codeIs(err, CodeStorage) }
func IsValidation(err error) bool      { return codeIs(err, CodeValidation) }
func IsCancelled(err error) bool       { return codeIs(err, CodeCancelled) }
