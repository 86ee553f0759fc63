package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if _, err := cfg.Server.MaxBodyBytes(); err != nil {
		return fmt.Errorf("server.max_body_size: %w", err)
	}
	if envVarPattern.MatchString(cfg.Storage.Path) {
		name := envVarPattern.FindStringSubmatch(cfg.Storage.Path)[1]
		return fmt.Errorf("storage.path references unset environment variable %s", name)
	}
	return nil
}

// formatValidationError reports the first failing field with its tag.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
