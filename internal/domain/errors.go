package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Error codes
const (
	// ErrCodeConfiguration marks invalid chunking or retrieval parameters.
	// Fatal to the single call, never to the process.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeProvider marks an external embedding/generation call that
	// failed after exhausting retries.
	ErrCodeProvider = "EMBEDDING_PROVIDER_ERROR"

	// ErrCodeParse marks malformed structured output from the pattern
	// extraction capability. The offending item is dropped, the batch
	// continues.
	ErrCodeParse = "PARSE_ERROR"

	// ErrCodePersistence marks a storage read/write failure. The operation
	// is considered not committed.
	ErrCodePersistence = "PERSISTENCE_ERROR"

	// ErrCodeVersionReplace marks a failed regulation version replace. The
	// store is rolled back to the pre-replace state.
	ErrCodeVersionReplace = "VERSION_REPLACE_ERROR"

	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
)

// NewConfigurationError creates a configuration error.
func NewConfigurationError(message string) *DomainError {
	return NewDomainError(ErrCodeConfiguration, message)
}

// NewProviderError wraps a failed external embedding/generation call.
func NewProviderError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeProvider, message, err)
}

// NewParseError wraps unvalidatable extractor output.
func NewParseError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeParse, message, err)
}

// NewPersistenceError wraps a storage failure.
func NewPersistenceError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodePersistence, message, err)
}

// NewVersionReplaceError wraps a failed regulation replace.
func NewVersionReplaceError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeVersionReplace, message, err)
}

// Common errors
var (
	ErrChunkNotFound = NewDomainError(ErrCodeNotFound, "knowledge chunk not found")
)
