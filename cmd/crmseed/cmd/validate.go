package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seedbuddy/crmseed/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and org connectivity",
	Long: `Validate checks the configuration file for required fields and
confirms both the source and target orgs named by every profile describe
successfully.

Example:
  crmseed validate --config crmseed.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("❌ configuration invalid:\n%v\n", err)
		return fmt.Errorf("validation failed")
	}

	fmt.Printf("\n=== Configuration Validation ===\n")
	fmt.Printf("Config file: %s\n", configFile)
	fmt.Printf("Orgs found: %d\n\n", len(cfg.Orgs))

	ctx := context.Background()
	hasErrors := false
	for alias := range cfg.Orgs {
		fmt.Printf("--- Org: %s ---\n", alias)
		c, err := buildConnection(cfg, alias)
		if err != nil {
			fmt.Printf("❌ connection setup failed: %v\n\n", err)
			hasErrors = true
			continue
		}
		if _, err := c.DescribeGlobal(ctx); err != nil {
			fmt.Printf("❌ describeGlobal failed: %v\n\n", err)
			hasErrors = true
			continue
		}
		fmt.Printf("✅ connected\n\n")
	}

	if hasErrors {
		return fmt.Errorf("validation failed for one or more orgs")
	}

	fmt.Println("=== Validation Complete ===")
	fmt.Println("✅ all orgs validated successfully")
	return nil
}
