package common

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// Validator collects field errors so a caller can report all of them at once
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

// Field validates a field and collects errors
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// Error returns the collected failures as one ErrInvalidInput, or nil
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	return NewAppError("INVALID_ARGUMENT", v.ErrorMessage(), ErrInvalidInput)
}

// ErrorMessage returns a combined error message as string
func (v *Validator) ErrorMessage() string {
	if !v.HasErrors() {
		return ""
	}

	messages := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// ValidationRule represents a single validation rule
type ValidationRule func(fieldName string, value interface{}) *ValidationError

// Required rejects nil pointers and blank strings
func Required(fieldName string, value interface{}) *ValidationError {
	missing := &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	switch v := value.(type) {
	case nil:
		return missing
	case string:
		if strings.TrimSpace(v) == "" {
			return missing
		}
	case *string:
		if v == nil || strings.TrimSpace(*v) == "" {
			return missing
		}
	case *float64:
		if v == nil {
			return missing
		}
	case *time.Time:
		if v == nil || v.IsZero() {
			return missing
		}
	}
	return nil
}

// NonNegative rejects negative, NaN and infinite amounts; nil passes
func NonNegative(fieldName string, value interface{}) *ValidationError {
	v, ok := value.(*float64)
	if !ok || v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return &ValidationError{Field: fieldName, Value: *v, Message: "must be a finite number"}
	}
	if *v < 0 {
		return &ValidationError{Field: fieldName, Value: *v, Message: "must be a non-negative magnitude; use type=refund for credits"}
	}
	return nil
}

// CurrencyCode accepts ISO 4217 codes (three uppercase letters); empty passes
func CurrencyCode(fieldName string, value interface{}) *ValidationError {
	str, ok := value.(string)
	if !ok {
		return &ValidationError{Field: fieldName, Value: value, Message: "must be a string"}
	}
	if str == "" {
		return nil
	}
	if !currencyRegex.MatchString(str) {
		return &ValidationError{
			Field:   fieldName,
			Value:   value,
			Message: "must be 3 uppercase letters (ISO 4217)",
		}
	}
	return nil
}
