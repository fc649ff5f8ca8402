package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile    string
	logLevel   string
	logFormat  string
	skipVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "crmseed",
	Short: "CRM-to-CRM record seeding tool",
	Long: `crmseed copies a root object and its related records from one CRM
org into another, resolving references between objects as it goes.

Features:
  - Automatic parent/child/grandchild discovery via org schema describes
  - Reference classification (system, self, in-scope, data-dependency)
  - Bulk insert and upsert with identity tracking across the run
  - Polymorphic activity (Task/Event) remapping
  - File attachment transfer
  - Post-run count or hash verification`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "crmseed.yaml",
		"Path to configuration file")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, console)")
	rootCmd.PersistentFlags().BoolVar(&skipVerify, "skip-verify", false,
		"Skip post-run verification")
}

// GetConfigFile returns the config file path.
func GetConfigFile() string {
	return cfgFile
}

// CLIOverrides contains flag values that override config file settings.
type CLIOverrides struct {
	LogLevel   string
	LogFormat  string
	SkipVerify bool
}

// GetCLIOverrides returns the CLI flag override values.
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:   logLevel,
		LogFormat:  logFormat,
		SkipVerify: skipVerify,
	}
}
