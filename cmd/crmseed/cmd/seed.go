package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/seedbuddy/crmseed/internal/budget"
	"github.com/seedbuddy/crmseed/internal/config"
	"github.com/seedbuddy/crmseed/internal/logio"
	"github.com/seedbuddy/crmseed/internal/pipeline"
	"github.com/seedbuddy/crmseed/internal/runlock"
	"github.com/seedbuddy/crmseed/internal/shutdown"
	"github.com/seedbuddy/crmseed/internal/verify"
)

var (
	seedSourceOrg     string
	seedTargetOrg     string
	seedObject        string
	seedChildren      []string
	seedGrandchildren []string
	seedIncludeTasks  bool
	seedIncludeEvents bool
	seedIncludeFiles  bool
	seedCount         int
	seedWhere         string
	seedUpsertField   string
	seedDryRun        bool
	seedForce         bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed records from a source org into a target org",
	Long: `Seed copies a root object and its related records from a source
org to a target org, resolving references between objects as it goes.

The seed process follows these steps:
  1. Query and write the root object (resolving self and data-dependency references)
  2. Write declared children, parented off the root's written records
  3. Write declared grandchildren, parented off each child's written records
  4. Remap and write Tasks, if requested
  5. Remap and write Events, if requested
  6. Transfer file attachments, if requested

If --source-org, --target-org, and --object are all given, the run is
non-interactive. The interactive prompt loop that otherwise fills in the
rest is not implemented here — pass all three flags.

Example:
  crmseed seed -s prod -t sandbox -o Account -c Contact,Opportunity -n 100`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedSourceOrg, "source-org", "s", "", "Source org alias (required)")
	seedCmd.Flags().StringVarP(&seedTargetOrg, "target-org", "t", "", "Target org alias (required)")
	seedCmd.Flags().StringVarP(&seedObject, "object", "o", "", "Root object API name (required)")
	seedCmd.Flags().StringSliceVarP(&seedChildren, "children", "c", nil, "Child objects to seed, comma-separated")
	seedCmd.Flags().StringSliceVarP(&seedGrandchildren, "grandchildren", "g", nil, "Grandchild objects to seed, comma-separated")
	seedCmd.Flags().BoolVar(&seedIncludeTasks, "include-tasks", false, "Remap and seed Task activities")
	seedCmd.Flags().BoolVar(&seedIncludeEvents, "include-events", false, "Remap and seed Event activities")
	seedCmd.Flags().BoolVar(&seedIncludeFiles, "include-files", false, "Transfer linked file attachments")
	seedCmd.Flags().IntVarP(&seedCount, "count", "n", 10, "Maximum root records to seed (non-positive seeds all matching)")
	seedCmd.Flags().StringVarP(&seedWhere, "where", "w", "", "SOQL WHERE clause filtering the root query")
	seedCmd.Flags().StringVarP(&seedUpsertField, "upsert-field", "u", "", "External ID field to upsert on (default: plain insert)")
	seedCmd.Flags().BoolVarP(&seedDryRun, "dry-run", "d", false, "Report what would be written without writing")
	seedCmd.Flags().BoolVar(&seedForce, "force", false, "Run even if the run lock cannot be acquired (use with caution)")

	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedSourceOrg == "" || seedTargetOrg == "" || seedObject == "" {
		return errors.New("seed requires --source-org, --target-org, and --object; the interactive prompt loop is not implemented — pass all three flags")
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	overrides := GetCLIOverrides()
	cfg.ApplyOverrides(overrides.LogLevel, overrides.LogFormat, overrides.SkipVerify)

	log, err := logio.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Log(fmt.Sprintf("seeding %s from %s to %s", seedObject, seedSourceOrg, seedTargetOrg))

	source, err := buildConnection(cfg, seedSourceOrg)
	if err != nil {
		return fmt.Errorf("source org: %w", err)
	}
	target, err := buildConnection(cfg, seedTargetOrg)
	if err != nil {
		return fmt.Errorf("target org: %w", err)
	}

	if !seedForce {
		lock := runlock.New(os.TempDir(), runlock.GenerateName(seedSourceOrg, seedTargetOrg))
		if err := lock.AcquireOrFail(); err != nil {
			if errors.Is(err, runlock.ErrLockTimeout) {
				return fmt.Errorf("a seed run between %s and %s is already in progress (use --force to override): %w", seedSourceOrg, seedTargetOrg, err)
			}
			return fmt.Errorf("failed to acquire run lock: %w", err)
		}
		defer lock.Release()
	} else {
		log.Warn("skipping run lock acquisition (--force flag used)")
	}

	budgetMonitor := budget.New(target, cfg.Budget.Threshold, secondsToDuration(cfg.Budget.Interval), log)

	cancelled := false
	ctx, cancel := shutdown.WithCancelOnSignal(context.Background(), func(os.Signal) {
		log.Warn("received shutdown signal - finishing current stage before stopping")
		cancelled = true
	})
	defer cancel()

	if children := cfg.ChildrenFor(seedObject); len(seedChildren) == 0 {
		seedChildren = children
	}
	if grandchildren := cfg.GrandchildrenFor(seedObject); len(seedGrandchildren) == 0 {
		seedGrandchildren = grandchildren
	}
	if !cmd.Flags().Changed("include-tasks") && cfg.Defaults.IncludeTasks {
		seedIncludeTasks = true
	}
	if !cmd.Flags().Changed("include-events") && cfg.Defaults.IncludeEvents {
		seedIncludeEvents = true
	}
	if !cmd.Flags().Changed("include-files") && cfg.Defaults.IncludeFiles {
		seedIncludeFiles = true
	}

	count := seedCount
	if count <= 0 {
		count = pipeline.AllRecords
	}

	plan := &pipeline.SeedPlan{
		RootObject:    seedObject,
		Where:         seedWhere,
		Count:         count,
		Children:      seedChildren,
		Grandchildren: seedGrandchildren,
		IncludeTasks:  seedIncludeTasks,
		IncludeEvents: seedIncludeEvents,
		IncludeFiles:  seedIncludeFiles,
		UpsertField:   seedUpsertField,
		DryRun:        seedDryRun,
		ShouldAbort:   func() bool { return cancelled },
	}

	p := pipeline.New(source, target, log)
	p.Budget = budgetMonitor

	results, err := p.Run(ctx, plan)
	if err != nil {
		return fmt.Errorf("seed run failed: %w", err)
	}

	log.Summary(results)
	fmt.Printf("\nfinal state: %s\n", p.State())

	if !cfg.Verify.Skip && !seedDryRun && p.State() == pipeline.StateDone {
		v := verify.New(source, target, p.Registry, verify.Method(cfg.Verify.Method), log)
		stats, err := v.Verify(ctx, nil)
		if err != nil {
			log.Warn(fmt.Sprintf("verification failed: %v", err))
		} else {
			fmt.Printf("verification: %d objects verified, %d passed, %d failed\n",
				stats.ObjectsVerified, stats.ObjectsPassed, stats.ObjectsFailed)
		}
	}

	return nil
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
