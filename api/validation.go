package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/warp/waqf-engine/money"
)

var (
	// ErrValidationFailed wraps every request validation failure.
	ErrValidationFailed = errors.New("validation failed")
	// ErrBodyParseFailed is returned when the body is not valid JSON for the request.
	ErrBodyParseFailed = errors.New("failed to parse request body")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

func initValidator() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	// report json field names
	vld.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	if err := vld.RegisterValidation("positive_money", func(fl validator.FieldLevel) bool {
		m, ok := fl.Field().Interface().(money.Money)
		return ok && m.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("register positive_money: %w", err)
	}
	if err := vld.RegisterValidation("nonnegative_money", func(fl validator.FieldLevel) bool {
		m, ok := fl.Field().Interface().(money.Money)
		return ok && !m.IsNegative()
	}); err != nil {
		return nil, fmt.Errorf("register nonnegative_money: %w", err)
	}
	return vld, nil
}

func getValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidator()
	})
	return validate, errValidate
}

// validateStruct checks validate tags and returns the first failure.
func validateStruct(payload any) error {
	vld, err := getValidator()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := vld.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return formatFieldError(fieldErrs[0])
		}
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return nil
}

func formatFieldError(fe validator.FieldError) error {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%w: '%s' is required", ErrValidationFailed, field)
	case "oneof":
		return fmt.Errorf("%w: '%s' must be one of [%s]", ErrValidationFailed, field, fe.Param())
	case "datetime":
		return fmt.Errorf("%w: '%s' must be a date like %s", ErrValidationFailed, field, fe.Param())
	case "positive_money":
		return fmt.Errorf("%w: '%s' must be a positive amount", ErrValidationFailed, field)
	case "nonnegative_money":
		return fmt.Errorf("%w: '%s' must not be negative", ErrValidationFailed, field)
	case "gte", "min":
		return fmt.Errorf("%w: '%s' must be at least %s", ErrValidationFailed, field, fe.Param())
	case "max", "lte":
		return fmt.Errorf("%w: '%s' must be at most %s", ErrValidationFailed, field, fe.Param())
	}
	return fmt.Errorf("%w: '%s' failed %s", ErrValidationFailed, field, fe.Tag())
}
