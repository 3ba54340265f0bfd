// Package validator runs ozzo-validation rules and converts their errors
package validator

import (
	"sort"

	"github.com/KOMKZ/go-yogan-pipebus/errcode"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrValidationFailed is returned for any rule violation; the "fields" data
// maps each offending field to its message
var ErrValidationFailed = errcode.Register(errcode.New(10, 1010, "common", "error.common.validation_failed", "validation failed"))

// Validatable is implemented by config structs
type Validatable interface {
	Validate() error
}

// Validate runs v.Validate and converts ozzo errors into a LayeredError
func Validate(v Validatable) error {
	err := v.Validate()
	if err == nil {
		return nil
	}

	if validationErrs, ok := err.(validation.Errors); ok {
		return ConvertValidationError(validationErrs)
	}
	return err
}

// ConvertValidationError flattens field errors into ErrValidationFailed
func ConvertValidationError(validationErrs validation.Errors) error {
	fields := make(map[string]string, len(validationErrs))
	names := make([]string, 0, len(validationErrs))
	for field, fieldErr := range validationErrs {
		if fieldErr != nil {
			fields[field] = fieldErr.Error()
			names = append(names, field)
		}
	}
	sort.Strings(names)

	msg := "validation failed"
	if len(names) > 0 {
		msg += ": " + names[0] + ": " + fields[names[0]]
	}
	return ErrValidationFailed.WithMsgf("%s", msg).WithData("fields", fields).Wrap(validationErrs)
}
