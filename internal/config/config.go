// Package config provides configuration structures and loading for crmseed.
package config

import "fmt"

// Config represents the complete application configuration: named org
// profiles plus default seed-plan and ambient settings.
type Config struct {
	Orgs      map[string]OrgProfile `yaml:"orgs" mapstructure:"orgs"`
	Defaults  DefaultsConfig        `yaml:"defaults" mapstructure:"defaults"`
	Budget    BudgetConfig          `yaml:"budget" mapstructure:"budget"`
	Verify    VerifyConfig          `yaml:"verify" mapstructure:"verify"`
	Logging   LoggingConfig         `yaml:"logging" mapstructure:"logging"`
}

// OrgProfile names an org alias to a connection target: instance URL, API
// version, and the env-var names holding its credentials (never the
// credential values themselves, which only ever live in the environment).
type OrgProfile struct {
	InstanceURL     string `yaml:"instance_url" mapstructure:"instance_url"`
	APIVersion      string `yaml:"api_version" mapstructure:"api_version"`
	ClientIDEnv     string `yaml:"client_id_env" mapstructure:"client_id_env"`
	ClientSecretEnv string `yaml:"client_secret_env" mapstructure:"client_secret_env"`
	UsernameEnv     string `yaml:"username_env" mapstructure:"username_env"`
	PasswordEnv     string `yaml:"password_env" mapstructure:"password_env"`
}

// DefaultsConfig holds SeedPlan fields an operator can set once per root
// object instead of repeating on every invocation.
type DefaultsConfig struct {
	Children      map[string][]string `yaml:"children" mapstructure:"children"`
	Grandchildren map[string][]string `yaml:"grandchildren" mapstructure:"grandchildren"`
	IncludeTasks  bool                `yaml:"include_tasks" mapstructure:"include_tasks"`
	IncludeEvents bool                `yaml:"include_events" mapstructure:"include_events"`
	IncludeFiles  bool                `yaml:"include_files" mapstructure:"include_files"`
}

// BudgetConfig holds the remaining-API-call thresholds the budget monitor
// pauses on (internal/budget).
type BudgetConfig struct {
	Threshold int `yaml:"threshold" mapstructure:"threshold"`
	Interval  int `yaml:"interval_seconds" mapstructure:"interval_seconds"`
}

// VerifyConfig selects the post-run verification method.
type VerifyConfig struct {
	Method string `yaml:"method" mapstructure:"method"` // "count", "hash", or "skip"
	Skip   bool   `yaml:"skip" mapstructure:"skip"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or console
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Orgs: map[string]OrgProfile{},
		Budget: BudgetConfig{
			Threshold: 1000,
			Interval:  30,
		},
		Verify: VerifyConfig{
			Method: "count",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

// GetOrg retrieves a named org profile.
func (c *Config) GetOrg(alias string) (*OrgProfile, error) {
	org, exists := c.Orgs[alias]
	if !exists {
		return nil, fmt.Errorf("org profile %q not found in configuration", alias)
	}
	return &org, nil
}

// ListOrgs returns all org aliases defined in the configuration.
func (c *Config) ListOrgs() []string {
	orgs := make([]string, 0, len(c.Orgs))
	for name := range c.Orgs {
		orgs = append(orgs, name)
	}
	return orgs
}

// ApplyOverrides applies CLI flag overrides to the global configuration.
// Only non-zero/non-empty values are applied.
func (c *Config) ApplyOverrides(logLevel, logFormat string, skipVerify bool) {
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
	if skipVerify {
		c.Verify.Skip = true
	}
}

// ChildrenFor returns the configured default children for a root object.
func (c *Config) ChildrenFor(rootObject string) []string {
	return c.Defaults.Children[rootObject]
}

// GrandchildrenFor returns the configured default grandchildren for a root object.
func (c *Config) GrandchildrenFor(rootObject string) []string {
	return c.Defaults.Grandchildren[rootObject]
}
