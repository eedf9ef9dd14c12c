package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// A positive Go duration string such as "30s" or "5m".
	if err := v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	}); err != nil {
		panic(err)
	}

	return v
}

// Validate checks every field and reports all failures at once.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return nil
}

// formatValidationError turns validator output into one line per field.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	errs := make([]error, 0, len(verrs))

	for _, e := range verrs {
		errs = append(errs, fmt.Errorf("%s: invalid value %v (%s)", e.Namespace(), e.Value(), describeTag(e)))
	}

	return errors.Join(errs...)
}

func describeTag(e validator.FieldError) string {
	switch e.Tag() {
	case "duration":
		return "must be a positive duration like \"30s\""
	case "oneof":
		return "must be one of: " + e.Param()
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "url":
		return "must be an absolute URL"
	case "required":
		return "is required"
	default:
		return "failed " + e.Tag()
	}
}
