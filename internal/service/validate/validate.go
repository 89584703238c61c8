package validate

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/authgateway/internal/apperrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report fields by 'json' tag name instead of struct field name
	// Look at documentation of 'RegisterTagNameFunc' for more details
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		// skip if tag key says it should be ignored
		if name == "-" {
			return ""
		}
		return name
	})
}

// Struct validates value by its 'validate' tags
// Returned error matches apperrors.ErrInvalidInput and lists failed fields in stable order
func Struct(value any) error {
	err := validate.Struct(value)
	if err == nil {
		return nil
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}

	fields := Fields(errs)
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, fields[name]))
	}

	return fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, strings.Join(parts, "; "))
}

// Fields turns validation errors into user-friendly messages keyed by field name
func Fields(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))

	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "this field is required"
		case "min":
			message = fmt.Sprintf("value is too short (minimum %s)", fieldError.Param())
		case "alphanum":
			message = "only letters and digits are allowed"
		case "email":
			message = "invalid email address"
		default:
			message = "invalid value"
		}

		fields[fieldError.Field()] = message
	}

	return fields
}
