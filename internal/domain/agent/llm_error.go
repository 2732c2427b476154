package agent

import (
	"errors"
	"fmt"
)

// LLMErrorKind classifies a decision engine failure so callers can
// decide whether to retry the whole decision or fail fast.
type LLMErrorKind string

const (
	LLMErrRateLimit     LLMErrorKind = "RATE_LIMIT"
	LLMErrAuth          LLMErrorKind = "AUTH"
	LLMErrTimeout       LLMErrorKind = "TIMEOUT"
	LLMErrContentFilter LLMErrorKind = "CONTENT_FILTER"
	LLMErrOverload      LLMErrorKind = "OVERLOAD"
	LLMErrValidation    LLMErrorKind = "VALIDATION"
)

// LLMError is the distinguished error taxonomy at the decision engine
// boundary
type LLMError struct {
	Kind    LLMErrorKind
	Message string
	Cause   error
}

// Error implements the error interface
func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause
func (e *LLMError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether re-issuing the same decision may succeed.
// Auth, validation and content-filter failures must surface to a human
// or escalation path instead.
func (e *LLMError) Retryable() bool {
	switch e.Kind {
	case LLMErrRateLimit, LLMErrTimeout, LLMErrOverload:
		return true
	default:
		return false
	}
}

// NewLLMError creates a taxonomy error wrapping an optional cause
func NewLLMError(kind LLMErrorKind, message string, cause error) *LLMError {
	return &LLMError{Kind: kind, Message: message, Cause: cause}
}

// IsRetryableLLMError reports whether err is a retryable LLMError
func IsRetryableLLMError(err error) bool {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Retryable()
	}
	return false
}
