package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance.
var validate = validator.New()

// ConfigError describes a single invalid field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid field found in one pass.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails validates the configuration and reports every
// failing field, including checks that span multiple sections.
func ValidateWithDetails(cfg *Config) error {
	var details ValidationErrors

	if err := validate.Struct(cfg); err != nil {
		fieldErrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		for _, fe := range fieldErrors {
			details = append(details, ConfigError{
				Field:   fe.Namespace(),
				Message: formatValidationError(fe),
				Value:   fe.Value(),
			})
		}
	}

	details = append(details, validateStorage(cfg)...)
	details = append(details, validateCleanup(cfg)...)

	if len(details) > 0 {
		return details
	}
	return nil
}

// validateStorage checks that the selected backend has the settings it needs.
func validateStorage(cfg *Config) ValidationErrors {
	var details ValidationErrors
	switch cfg.Storage.Type {
	case "badger":
		if cfg.Storage.Badger.Path == "" {
			details = append(details, ConfigError{
				Field:   "Config.Storage.Badger.Path",
				Message: "required when storage type is badger",
				Value:   "",
			})
		}
	case "redis":
		if cfg.Storage.Redis.Address == "" {
			details = append(details, ConfigError{
				Field:   "Config.Storage.Redis.Address",
				Message: "required when storage type is redis",
				Value:   "",
			})
		}
	}
	return details
}

// validateCleanup rejects cleanup schedules that would never fire or
// would delete runs immediately.
func validateCleanup(cfg *Config) ValidationErrors {
	if !cfg.Engine.Cleanup.Enabled {
		return nil
	}

	var details ValidationErrors
	if cfg.Engine.Cleanup.Interval <= 0 {
		details = append(details, ConfigError{
			Field:   "Config.Engine.Cleanup.Interval",
			Message: "must be positive when cleanup is enabled",
			Value:   cfg.Engine.Cleanup.Interval,
		})
	}
	if cfg.Engine.Cleanup.Retention <= 0 {
		details = append(details, ConfigError{
			Field:   "Config.Engine.Cleanup.Retention",
			Message: "must be positive when cleanup is enabled",
			Value:   cfg.Engine.Cleanup.Retention,
		})
	}
	return details
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
