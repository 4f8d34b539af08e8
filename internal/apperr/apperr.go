// Package apperr defines the error classes shared by every entry point.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxIDLength bounds item and group identifiers.
const MaxIDLength = 200

// ValidationError reports a missing or malformed request field. Operations
// return it before attempting any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// NotFoundError reports that a requested record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// RequireID validates a required identifier field and returns it trimmed.
func RequireID(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", Invalid(field, "is required")
	}
	if len(v) > MaxIDLength {
		return "", Invalid(field, fmt.Sprintf("exceeds %d characters", MaxIDLength))
	}
	for _, r := range v {
		if unicode.IsControl(r) {
			return "", Invalid(field, "contains control characters")
		}
	}
	return v, nil
}
