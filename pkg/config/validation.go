package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	seen := make(map[string]bool)
	for i, name := range cfg.Storage.Backends {
		if seen[name] {
			return fmt.Errorf("storage.backends[%d]: duplicate backend %q", i, name)
		}
		seen[name] = true
	}

	if cfg.Storage.Backend != "" && !slices.Contains(cfg.Storage.Backends, cfg.Storage.Backend) {
		return fmt.Errorf("storage.backend: %q is not one of the enabled backends %v", cfg.Storage.Backend, cfg.Storage.Backends)
	}
	if cfg.Storage.Backend == "" && len(cfg.Storage.Settings) > 0 {
		return fmt.Errorf("storage.settings: given without storage.backend")
	}

	if !cfg.Adapters.Client.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == cfg.Adapters.Client.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by the client adapter", cfg.Server.Metrics.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
