// Package validate wraps go-playground/validator with json field names and
// the domain enums registered as tags.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ambassador/referrals/internal/apperr"
	"github.com/ambassador/referrals/internal/model"
)

// Validate is the shared validator instance; it is safe for concurrent use.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("leadstatus", func(fl validator.FieldLevel) bool {
		return model.LeadStatus(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return model.Role(fl.Field().String()).Valid()
	})
	return v
}

// Struct validates s and returns an apperr Validation error listing every
// failing field, or nil.
func Struct(s any) error {
	err := Validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.New(apperr.Validation, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return apperr.New(apperr.Validation, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be %s or more", fe.Field(), fe.Param())
	case "leadstatus":
		return fmt.Sprintf("%s is not a known lead status", fe.Field())
	case "role":
		return fmt.Sprintf("%s must be one of Parent, Staff, Alumni, Other", fe.Field())
	case "numeric":
		return fmt.Sprintf("%s must contain digits only", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}
