// Drivepulse - Fleet Telematics API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package validation checks request parameters with go-playground/validator v10.
//
// A single validator instance is shared by all handlers. Field names in errors
// come from the `param` or `query` struct tag, so a failing
//
//	type SearchParams struct {
//	    Username string `query:"username" validate:"required,max=256,nocontrol"`
//	}
//
// reports the field as "username".
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single failed rule.
type FieldError struct {
	field   string
	tag     string
	param   string
	message string
}

// Field returns the parameter name that failed validation.
func (e *FieldError) Field() string {
	return e.field
}

// Tag returns the validation tag that failed.
func (e *FieldError) Tag() string {
	return e.tag
}

// Param returns the tag parameter, e.g. "256" for "max=256".
func (e *FieldError) Param() string {
	return e.param
}

// Error returns a human-readable error message.
func (e *FieldError) Error() string {
	return e.message
}

// RequestValidationError collects the failed rules of one request.
type RequestValidationError struct {
	errors []FieldError
}

// Errors returns the failed rules in struct field order.
func (ve *RequestValidationError) Errors() []FieldError {
	return ve.errors
}

// HasField reports whether field failed any rule.
func (ve *RequestValidationError) HasField(field string) bool {
	for i := range ve.errors {
		if ve.errors[i].field == field {
			return true
		}
	}
	return false
}

// Error implements the error interface.
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}

	messages := make([]string, len(ve.errors))
	for i := range ve.errors {
		messages[i] = ve.errors[i].Error()
	}
	return strings.Join(messages, "; ")
}

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(paramName)

		// Identifiers and search terms end up in log lines and map keys.
		if err := validate.RegisterValidation("nocontrol", noControl); err != nil {
			panic(fmt.Sprintf("register nocontrol validator: %v", err))
		}
	})

	return validate
}

// paramName names a field after its param or query tag.
func paramName(fld reflect.StructField) string {
	for _, key := range []string{"param", "query"} {
		if name := strings.SplitN(fld.Tag.Get(key), ",", 2)[0]; name != "" && name != "-" {
			return name
		}
	}
	return fld.Name
}

func noControl(fl validator.FieldLevel) bool {
	return !strings.ContainsFunc(fl.Field().String(), unicode.IsControl)
}

// ValidateStruct validates s with the shared validator. It returns nil when
// every rule passes.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{
			errors: []FieldError{{field: "unknown", tag: "unknown", message: err.Error()}},
		}
	}

	fieldErrors := make([]FieldError, len(validationErrs))
	for i, fe := range validationErrs {
		fieldErrors[i] = FieldError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			param:   fe.Param(),
			message: translateError(fe),
		}
	}
	return &RequestValidationError{errors: fieldErrors}
}

var errorMessageTemplates = map[string]string{
	"required":  "%s is required",
	"nocontrol": "%s must not contain control characters",
}

var errorMessageWithParam = map[string]string{
	"max": "%s must be at most %s characters",
	"min": "%s must be at least %s characters",
	"len": "%s must be exactly %s characters",
}

func translateError(fe validator.FieldError) string {
	if template, ok := errorMessageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(template, fe.Field())
	}
	if template, ok := errorMessageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(template, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
