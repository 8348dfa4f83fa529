package core

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"weatherbingo/internal/types"
)

// Validator wraps go-playground/validator with the API's custom tags.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the "race_duration" tag
// (0 < hours <= MaxTargetDurationHours).
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("race_duration", func(fl validator.FieldLevel) bool {
		h := fl.Field().Float()
		return h > 0 && h <= MaxTargetDurationHours
	})
	return &Validator{validate: v, logger: logger}
}

// MaxTargetDurationHours caps the target race duration accepted by the API.
const MaxTargetDurationHours = 48.0

// Struct validates s. Failures become an AppError with the given code and a
// "fields" detail listing each failing field and its rule.
func (v *Validator) Struct(s any, code types.ErrorCode, message string) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Warn("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	return types.NewAppErrorWithDetails(code, message, err, map[string]any{"fields": fields})
}

// UUID parses a path identifier, returning a validation_invalid_id error for
// anything that is not a UUID. The canonical lowercase form is returned.
func (v *Validator) UUID(name, raw string) (string, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidID,
			"invalid "+name,
			err,
			map[string]any{name: raw},
		)
	}
	return id.String(), nil
}
