package middleware

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "arcacli/internal/errors"
)

// RequestValidator validates request payloads against struct tags.
// Custom tags cover the entitlement domain: action and scope names,
// activation code shape, bundle identifiers.
type RequestValidator struct {
	validator *validator.Validate
	logger    *slog.Logger
}

// NewRequestValidator creates the validator with the domain rules
// registered.
func NewRequestValidator(logger *slog.Logger) *RequestValidator {
	v := validator.New()

	v.RegisterValidation("action", isValidAction)
	v.RegisterValidation("scope", isValidScope)
	v.RegisterValidation("activation_code", isActivationCodeShaped)
	v.RegisterValidation("bundle", isBundleName)

	// Error messages name the JSON field, not the Go field.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &RequestValidator{
		validator: v,
		logger:    logger.With(slog.String("component", "request_validator")),
	}
}

// ValidateStruct validates a decoded request and folds the violations
// into a single ErrValidationFailure.
func (m *RequestValidator) ValidateStruct(v any) error {
	err := m.validator.Struct(v)
	if err == nil {
		return nil
	}

	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", apperrors.ErrValidationFailure, err)
	}

	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, formatFieldError(fe))
	}
	return fmt.Errorf("%w: %s", apperrors.ErrValidationFailure, strings.Join(messages, "; "))
}

func formatFieldError(err validator.FieldError) string {
	field := err.Field()
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "action":
		return fmt.Sprintf("%s must be a dotted action name such as save.modify", field)
	case "scope":
		return fmt.Sprintf("%s contains characters outside the scope alphabet", field)
	case "activation_code":
		return fmt.Sprintf("%s must look like ARCA-XXXX-XXXX-XXXX", field)
	case "bundle":
		return fmt.Sprintf("%s is not a known bundle", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, err.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// isValidAction accepts lowercase dotted identifiers like "save.modify".
func isValidAction(fl validator.FieldLevel) bool {
	action := fl.Field().String()
	if action == "" || len(action) > 64 {
		return false
	}
	for _, ch := range action {
		if !(ch >= 'a' && ch <= 'z') && !(ch >= '0' && ch <= '9') && ch != '.' && ch != '_' {
			return false
		}
	}
	return !strings.HasPrefix(action, ".") && !strings.HasSuffix(action, ".")
}

// isValidScope accepts project identifiers: letters, digits, underscore,
// hyphen.
func isValidScope(fl validator.FieldLevel) bool {
	scope := fl.Field().String()
	if len(scope) > 128 {
		return false
	}
	for _, ch := range scope {
		if !(ch >= 'a' && ch <= 'z') && !(ch >= 'A' && ch <= 'Z') &&
			!(ch >= '0' && ch <= '9') && ch != '_' && ch != '-' {
			return false
		}
	}
	return true
}

// isActivationCodeShaped checks the coarse shape only. The codec does
// the checksum verification; this just rejects garbage before it gets
// there.
func isActivationCodeShaped(fl validator.FieldLevel) bool {
	code := strings.ToUpper(strings.TrimSpace(fl.Field().String()))
	if !strings.HasPrefix(code, "ARCA-") {
		return false
	}
	body := strings.ReplaceAll(strings.TrimPrefix(code, "ARCA-"), "-", "")
	if len(body) != 12 {
		return false
	}
	for _, ch := range body {
		if !(ch >= '0' && ch <= '9') && !(ch >= 'A' && ch <= 'Z') {
			return false
		}
	}
	return true
}

// isBundleName accepts the known bundle identifiers.
func isBundleName(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "pro", "optimizer", "milestones", "exportpro":
		return true
	}
	return false
}
