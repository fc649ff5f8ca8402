package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	if len(c.Orgs) == 0 {
		errors = append(errors, ValidationError{
			Field:   "orgs",
			Message: "at least one org profile must be defined",
		})
	}
	for name, org := range c.Orgs {
		if err := c.validateOrg(name, &org); err != nil {
			errors = append(errors, err...)
		}
	}

	if err := c.validateBudget(); err != nil {
		errors = append(errors, err...)
	}

	if err := c.validateVerify(); err != nil {
		errors = append(errors, err...)
	}

	if err := c.validateLogging(); err != nil {
		errors = append(errors, err...)
	}

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateOrg(name string, org *OrgProfile) ValidationErrors {
	var errors ValidationErrors
	prefix := fmt.Sprintf("orgs.%s", name)

	if org.InstanceURL == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".instance_url",
			Message: "instance_url is required",
		})
	}

	if org.APIVersion == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".api_version",
			Message: "api_version is required",
		})
	}

	if org.ClientSecretEnv == "" && org.PasswordEnv == "" {
		errors = append(errors, ValidationError{
			Field:   prefix,
			Message: "either client_secret_env or password_env must name the env var holding the org's access token",
		})
	}

	return errors
}

func (c *Config) validateBudget() ValidationErrors {
	var errors ValidationErrors

	if c.Budget.Threshold < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.threshold",
			Message: "threshold cannot be negative",
		})
	}

	if c.Budget.Interval < 0 {
		errors = append(errors, ValidationError{
			Field:   "budget.interval_seconds",
			Message: "interval_seconds cannot be negative",
		})
	}

	return errors
}

func (c *Config) validateVerify() ValidationErrors {
	var errors ValidationErrors

	validMethods := map[string]bool{"count": true, "hash": true, "skip": true, "": true}
	if !validMethods[c.Verify.Method] {
		errors = append(errors, ValidationError{
			Field:   "verify.method",
			Message: "method must be 'count', 'hash', or 'skip'",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'console'",
		})
	}

	return errors
}
