package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeBudget          ErrorType = "budget"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypePolicyViolation ErrorType = "policy_violation"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinels are templates for errors.Is checks. Never call WithDetail on them;
// build a fresh error with the matching constructor instead.
var (
	ErrSessionNotFound    = NewDomainError(ErrorTypeNotFound, "session not found", nil)
	ErrPermissionNotFound = NewDomainError(ErrorTypeNotFound, "permission request not found", nil)
	ErrUnknownAgent       = NewDomainError(ErrorTypeNotFound, "unknown agent type", nil)

	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrInvalidBatch = NewDomainError(ErrorTypeValidation, "invalid task batch", nil)

	ErrAuthenticationRequired = NewDomainError(ErrorTypeUnauthorized, "authentication required", nil)
	ErrInvalidToken           = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)

	ErrForbidden = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	ErrBudgetExceeded = NewDomainError(ErrorTypeBudget, "budget exceeded", nil)

	ErrAlreadyDecided = NewDomainError(ErrorTypeConflict, "permission request already decided", nil)

	ErrInternal      = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)

	ErrPolicyDenied = NewDomainError(ErrorTypePolicyViolation, "denied by policy", nil)
)

// NewForbiddenError reports an insufficient role. capability may be empty when
// a bare role assertion failed.
func NewForbiddenError(currentRole, requiredRole, capability string) *DomainError {
	msg := fmt.Sprintf("role %q does not satisfy required role %q", currentRole, requiredRole)
	if capability != "" {
		msg = fmt.Sprintf("role %q cannot use %q (requires %q)", currentRole, capability, requiredRole)
	}
	err := NewDomainError(ErrorTypeForbidden, msg, nil).
		WithDetail("current_role", currentRole).
		WithDetail("required_role", requiredRole)
	if capability != "" {
		err.WithDetail("capability", capability)
	}
	return err
}

// NewPolicyDeniedError carries the human readable reason and the rule that fired.
func NewPolicyDeniedError(reason, rule string) *DomainError {
	return NewDomainError(ErrorTypePolicyViolation, reason, nil).
		WithDetail("reason", reason).
		WithDetail("rule", rule)
}

// NewUnknownAgentError names the unregistered subagent type.
func NewUnknownAgentError(agentType string) *DomainError {
	return NewDomainError(ErrorTypeNotFound, fmt.Sprintf("unknown agent type: %s", agentType), nil).
		WithDetail("subagent_type", agentType)
}

// NewBudgetExceededError uses the violated constraint description as its message.
func NewBudgetExceededError(violation string) *DomainError {
	return NewDomainError(ErrorTypeBudget, violation, nil).
		WithDetail("violation", violation)
}

// NewValidationError builds a validation error with a message.
func NewValidationError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, err)
}

// Error type checking helper functions

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return GetErrorType(err) == ErrorTypeUnauthorized
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return GetErrorType(err) == ErrorTypeForbidden
}

// IsBudgetError checks if an error is a budget error
func IsBudgetError(err error) bool {
	return GetErrorType(err) == ErrorTypeBudget
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// IsPolicyViolationError checks if an error is a policy violation error
func IsPolicyViolationError(err error) bool {
	return GetErrorType(err) == ErrorTypePolicyViolation
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the bare message of a domain error, or err.Error() otherwise.
func GetErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
