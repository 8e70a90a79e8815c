package application

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/rideline/ridectl/internal/common/domain"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest runs struct tag validation and converts failures into a
// single domain validation error.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return domain.NewValidationError(strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be %s characters", field, fe.Param())
	case "numeric":
		return field + " must contain only digits"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
