package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seedbuddy/crmseed/internal/config"
	"github.com/seedbuddy/crmseed/internal/diagram"
	"github.com/seedbuddy/crmseed/internal/estimate"
	"github.com/seedbuddy/crmseed/internal/schema"
)

var (
	planSourceOrg     string
	planObject        string
	planChildren      []string
	planGrandchildren []string
	planIncludeTasks  bool
	planIncludeEvents bool
	planIncludeFiles  bool
	planWhere         string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the discovered tier graph and row estimate for a seed run",
	Long: `Plan describes the children and grandchildren a root object would
seed, renders them as an ASCII tree, and reports an approximate record count
and write-batch estimate against the source org — without writing anything.

Example:
  crmseed plan -s prod -o Account -c Contact,Opportunity`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planSourceOrg, "source-org", "s", "", "Source org alias (required)")
	planCmd.Flags().StringVarP(&planObject, "object", "o", "", "Root object API name (required)")
	planCmd.Flags().StringSliceVarP(&planChildren, "children", "c", nil, "Child objects, comma-separated")
	planCmd.Flags().StringSliceVarP(&planGrandchildren, "grandchildren", "g", nil, "Grandchild objects, comma-separated")
	planCmd.Flags().BoolVar(&planIncludeTasks, "include-tasks", false, "Include Task activities in the plan")
	planCmd.Flags().BoolVar(&planIncludeEvents, "include-events", false, "Include Event activities in the plan")
	planCmd.Flags().BoolVar(&planIncludeFiles, "include-files", false, "Include file attachments in the plan")
	planCmd.Flags().StringVarP(&planWhere, "where", "w", "", "SOQL WHERE clause filtering the root query")

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	if planSourceOrg == "" || planObject == "" {
		return fmt.Errorf("plan requires --source-org and --object")
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	source, err := buildConnection(cfg, planSourceOrg)
	if err != nil {
		return fmt.Errorf("source org: %w", err)
	}

	if len(planChildren) == 0 {
		planChildren = cfg.ChildrenFor(planObject)
	}
	if len(planGrandchildren) == 0 {
		planGrandchildren = cfg.GrandchildrenFor(planObject)
	}

	ctx := context.Background()
	inspector := schema.NewInspector(source)

	allChildRels, err := inspector.DiscoverChildren(ctx, planObject)
	if err != nil {
		return fmt.Errorf("failed to discover children: %w", err)
	}
	validChildren := filterKnown(planChildren, allChildRels)

	allGrandchildRels, err := inspector.DiscoverGrandchildren(ctx, validChildren, planObject)
	if err != nil {
		return fmt.Errorf("failed to discover grandchildren: %w", err)
	}
	childToGrandchildren := make(map[string][]string)
	for _, rel := range allGrandchildRels {
		for _, gc := range planGrandchildren {
			if gc == rel.ChildObject {
				childToGrandchildren[rel.ParentObject] = append(childToGrandchildren[rel.ParentObject], gc)
			}
		}
	}

	root := diagram.BuildFromTiers(planObject, validChildren, childToGrandchildren,
		planIncludeTasks, planIncludeEvents, planIncludeFiles)
	fmt.Println(diagram.Render(root))

	est, err := estimate.Estimate(ctx, source, planObject, planWhere, validChildren)
	if err != nil {
		return fmt.Errorf("failed to estimate: %w", err)
	}
	fmt.Println(estimate.Summary(est))

	return nil
}

func filterKnown(requested []string, rels []schema.ChildRelationshipDescriptor) []string {
	known := make(map[string]bool, len(rels))
	for _, r := range rels {
		known[r.ChildObject] = true
	}
	var out []string
	for _, r := range requested {
		if known[r] {
			out = append(out, r)
		}
	}
	return out
}
