package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"weatherdesk/internal/types"
)

// Validator wraps go-playground/validator for request bodies. Field names in
// errors use the json tag so clients see their own field names.
type Validator struct {
	v      *validator.Validate
	logger *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v, logger: logger}
}

// ValidateStruct returns nil or an AppError describing the first failing
// field: validation_missing_required_field for absent required fields and
// validation_invalid_value otherwise.
func (v *Validator) ValidateStruct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to validate request", err)
	}

	fe := verrs[0]
	details := map[string]any{"field": fe.Field(), "rule": fe.Tag()}
	if fe.Tag() == "required" {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			fe.Field()+" is required", nil, details)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidValue,
		fe.Field()+" is invalid", nil, details)
}
