package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/civic-reports/internal/apperror"
	"github.com/sakif/civic-reports/internal/model"
)

// Validator wraps go-playground/validator with the report enum tags and turns
// its errors into apperror.ValidationFailed carrying the JSON field name.
//
// Struct tags used across the service inputs:
//
//	report_status    one of pending, in-progress, resolved
//	report_priority  one of low, medium, high
//	report_category  one of model.Categories
type Validator struct {
	v *validator.Validate
}

// NewValidator builds a Validator with the custom tags registered. It is safe
// for concurrent use and meant to be shared.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report errors by JSON name so the "field" in a 400 matches the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "report_status", func(fl validator.FieldLevel) bool {
		return model.Status(fl.Field().String()).Valid()
	})
	mustRegister(v, "report_priority", func(fl validator.FieldLevel) bool {
		return model.Priority(fl.Field().String()).Valid()
	})
	mustRegister(v, "report_category", func(fl validator.FieldLevel) bool {
		return model.ValidCategory(fl.Field().String())
	})

	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("service: registering %s validator: %v", tag, err))
	}
}

// Struct validates s and returns the first failing field as a validation error.
func (val *Validator) Struct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperror.ValidationFailed(fe.Field(), fieldMessage(fe))
	}
	return apperror.Internal("validating input", err)
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("%s must be %s %s characters", field, bound, fe.Param())
		case reflect.Slice:
			return fmt.Sprintf("%s must contain %s %s items", field, bound, fe.Param())
		default:
			return fmt.Sprintf("%s must be %s %s", field, bound, fe.Param())
		}
	case "report_status":
		return "status must be one of pending, in-progress, resolved"
	case "report_priority":
		return "priority must be one of low, medium, high"
	case "report_category":
		return fmt.Sprintf("category must be one of: %s", strings.Join(model.Categories, ", "))
	}
	return fmt.Sprintf("%s is invalid", field)
}
