package shared

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryDuplicate      ErrorCategory = "duplicate"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryEnrichment     ErrorCategory = "enrichment"
	ErrorCategoryProcessing     ErrorCategory = "processing"
	ErrorCategoryDatabase       ErrorCategory = "database"
)

// ServiceError represents a standardized error with additional context
type ServiceError struct {
	Category  ErrorCategory `json:"category"`
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Operation string        `json:"operation"`
	Cause     error         `json:"-"` // Original error, not serialized
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error
func NewServiceError(category ErrorCategory, code, message, operation string, cause error) *ServiceError {
	return &ServiceError{
		Category:  category,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Operation: operation,
		Cause:     cause,
	}
}

// LogError logs the error with structured fields
func (e *ServiceError) LogError() {
	logrus.WithFields(logrus.Fields{
		"error_category":   e.Category,
		"error_code":       e.Code,
		"error_message":    e.Message,
		"operation":        e.Operation,
		"timestamp":        e.Timestamp,
		"underlying_error": e.Cause,
	}).Error("Service error occurred")
}

// WrapError wraps an existing error with service error context
func WrapError(err error, category ErrorCategory, code, operation string) *ServiceError {
	if err == nil {
		return nil
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		// Copy before retagging the operation; the found error may be a
		// shared value owned by another call path.
		retagged := *serviceErr
		retagged.Operation = operation
		return &retagged
	}

	return NewServiceError(category, code, err.Error(), operation, err)
}

// IsCategory reports whether err is a ServiceError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Category == category
	}
	return false
}

// IsValidationError reports whether err is a user-correctable validation failure
func IsValidationError(err error) bool {
	return IsCategory(err, ErrorCategoryValidation)
}

// IsDuplicateError reports whether err signals an already-recorded URL
func IsDuplicateError(err error) bool {
	return IsCategory(err, ErrorCategoryDuplicate)
}

// IsAuthenticationError reports whether err is a missing/invalid session failure
func IsAuthenticationError(err error) bool {
	return IsCategory(err, ErrorCategoryAuthentication)
}
