package model

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError represents a context-construction failure the caller can fix
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	}
}

// StructuralAssemblyError signals broken open/close discipline while rendering XML.
// It always indicates a code defect, never bad input.
type StructuralAssemblyError struct {
	Tag      string
	Expected string
	Message  string
}

func (e *StructuralAssemblyError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("xml assembly defect at <%s>: %s (expected </%s>)", e.Tag, e.Message, e.Expected)
	}
	return fmt.Sprintf("xml assembly defect at <%s>: %s", e.Tag, e.Message)
}

// NewStructuralAssemblyError creates a new structural assembly error
func NewStructuralAssemblyError(tag, expected, message string) *StructuralAssemblyError {
	return &StructuralAssemblyError{
		Tag:      tag,
		Expected: expected,
		Message:  message,
	}
}

// SigningError represents certificate, key or crypto-provider failures
type SigningError struct {
	Code        string
	Certificate string
	Message     string
	Cause       error
}

func (e *SigningError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Certificate != "" {
		fmt.Fprintf(&b, " (certificate=%s)", e.Certificate)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *SigningError) Unwrap() error {
	return e.Cause
}

// NewSigningError creates a new signing error
func NewSigningError(code, certificate, message string, cause error) *SigningError {
	return &SigningError{
		Code:        code,
		Certificate: certificate,
		Message:     message,
		Cause:       cause,
	}
}

// TransmissionNetworkError is returned once the retry budget is exhausted
type TransmissionNetworkError struct {
	Endpoint string
	Attempts int
	Cause    error
}

func (e *TransmissionNetworkError) Error() string {
	return fmt.Sprintf("transmission to %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Cause)
}

func (e *TransmissionNetworkError) Unwrap() error {
	return e.Cause
}

// NewTransmissionNetworkError creates a new transmission network error
func NewTransmissionNetworkError(endpoint string, attempts int, cause error) *TransmissionNetworkError {
	return &TransmissionNetworkError{
		Endpoint: endpoint,
		Attempts: attempts,
		Cause:    cause,
	}
}

// AuthorityRejection is an error-classified authority response
type AuthorityRejection struct {
	Code       string
	HTTPStatus int
	Messages   []string
}

func (e *AuthorityRejection) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("authority rejected document [%s]", e.Code)
	}
	return fmt.Sprintf("authority rejected document [%s]: %s", e.Code, strings.Join(e.Messages, "; "))
}

// NewAuthorityRejection creates a new authority rejection
func NewAuthorityRejection(code string, httpStatus int, messages []string) *AuthorityRejection {
	return &AuthorityRejection{
		Code:       code,
		HTTPStatus: httpStatus,
		Messages:   messages,
	}
}

// InvalidTransitionError guards against double-processing of a document
type InvalidTransitionError struct {
	DocumentID string
	From       State
	To         State
	Current    State
}

func (e *InvalidTransitionError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("document %s: transition %s -> %s is not permitted", e.DocumentID, e.From, e.To)
	}
	return fmt.Sprintf("document %s: cannot move %s -> %s, current state is %s", e.DocumentID, e.From, e.To, e.Current)
}

// NewInvalidTransitionError creates a new invalid transition error
func NewInvalidTransitionError(documentID string, from, to, current State) *InvalidTransitionError {
	return &InvalidTransitionError{
		DocumentID: documentID,
		From:       from,
		To:         to,
		Current:    current,
	}
}

// Sentinel errors for storage facts
var (
	ErrNotFound          = errors.New("document not found")
	ErrDuplicateIdentity = errors.New("document identity already exists")
	ErrStateMismatch     = errors.New("document state changed concurrently")
)

// MessagesOf returns the displayable sub-messages carried by err.
// Errors without authority messages yield their own message.
func MessagesOf(err error) []string {
	if err == nil {
		return nil
	}
	var rejection *AuthorityRejection
	if errors.As(err, &rejection) && len(rejection.Messages) > 0 {
		out := make([]string, len(rejection.Messages))
		copy(out, rejection.Messages)
		return out
	}
	return []string{err.Error()}
}
