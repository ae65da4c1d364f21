// internal/common/validation/validator.go
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "companion-workers/internal/common/errors"
	"companion-workers/internal/models"

	"github.com/go-playground/validator/v10"
)

// MaxLetterBytes caps a motivation letter.
const MaxLetterBytes = 8 * 1024

var validate *validator.Validate

func init() {
	validate = validator.New()

	_ = validate.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
		return models.Stage(fl.Field().String()).IsValid()
	})
	_ = validate.RegisterValidation("metric", func(fl validator.FieldLevel) bool {
		return models.Metric(fl.Field().String()).IsValid()
	})
	_ = validate.RegisterValidation("letter", validateLetter)
}

// validateLetter accepts non-blank UTF-8 text up to MaxLetterBytes.
func validateLetter(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if strings.TrimSpace(s) == "" || len(s) > MaxLetterBytes {
		return false
	}
	return utf8.ValidString(s)
}

// Struct validates v's `validate` tags and returns a VALIDATION_FAILED error listing every violation.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.NewValidationFailedError(err.Error())
	}

	parts := make([]string, 0, len(verrs))
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
		fields = append(fields, fe.Field())
	}
	return apperrors.NewValidationFailedError(strings.Join(parts, "; ")).
		WithMetadata("fields", fields)
}

// Var validates a single value against tag.
func Var(field interface{}, tag string) error {
	if err := validate.Var(field, tag); err != nil {
		return apperrors.NewValidationFailedError(err.Error())
	}
	return nil
}
