package service

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

const maxFormatIDLen = 200

var formatIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-.+,:/]+$`)

// ValidFormatID reports whether id is an acceptable engine format selector.
func ValidFormatID(id string) bool {
	return id != "" && len(id) <= maxFormatIDLen && formatIDPattern.MatchString(id)
}

// NewValidator returns a validator with the service's custom tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("formatid", func(fl validator.FieldLevel) bool {
		return ValidFormatID(fl.Field().String())
	})
	return v
}
