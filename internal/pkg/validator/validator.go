package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Coin-earning activity kind validation
	validate.RegisterValidation("activity_kind", func(fl validator.FieldLevel) bool {
		kind := fl.Field().String()
		validKinds := []string{
			"test_completion", "class_attendance", "video_completion",
			"daily_login", "perfect_score", "streak_bonus",
		}
		for _, k := range validKinds {
			if kind == k {
				return true
			}
		}
		return false
	})
}

// Struct validates a struct and returns field -> message details,
// or nil when the struct is valid.
func Struct(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	details := make(map[string]string)
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		details["_"] = err.Error()
		return details
	}

	for _, fe := range validationErrors {
		details[fe.Field()] = message(fe)
	}
	return details
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "uuid":
		return "must be a valid UUID"
	case "activity_kind":
		return "unknown activity kind"
	default:
		return "invalid value"
	}
}
