// Package estimate computes dry-run row and batch estimates for a seed
// plan before any data is written, via SOQL COUNT() aggregate queries per
// discovered tier.
package estimate

import (
	"context"
	"fmt"

	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/write"
)

// TierEstimate is the estimated record count for one object tier.
type TierEstimate struct {
	Object string
	Count  int
}

// Result is the full dry-run estimate for a seed plan.
type Result struct {
	RootObject       string
	RootWhere        string
	RootCount        int
	ChildCounts      []TierEstimate
	EstimatedBatches int
}

// Estimate counts the root object (filtered by where) and each child tier
// (unfiltered — the actual seed run discovers the exact parent-scoped
// subset), then projects the number of BatchSize-sized write batches the
// root tier alone would require.
func Estimate(ctx context.Context, c conn.Connection, rootObject, where string, childObjects []string) (*Result, error) {
	res := &Result{RootObject: rootObject, RootWhere: where}

	rootCount, err := countObject(ctx, c, rootObject, where)
	if err != nil {
		return nil, fmt.Errorf("estimate: root count failed for %s: %w", rootObject, err)
	}
	res.RootCount = rootCount

	for _, child := range childObjects {
		count, err := countObject(ctx, c, child, "")
		if err != nil {
			return nil, fmt.Errorf("estimate: count failed for %s: %w", child, err)
		}
		res.ChildCounts = append(res.ChildCounts, TierEstimate{Object: child, Count: count})
	}

	if rootCount > 0 {
		res.EstimatedBatches = (rootCount + write.BatchSize - 1) / write.BatchSize
	}

	return res, nil
}

func countObject(ctx context.Context, c conn.Connection, object, where string) (int, error) {
	soqlQuery := "SELECT COUNT() FROM " + object
	if where != "" {
		soqlQuery += " WHERE " + where
	}
	result, err := c.Query(ctx, soqlQuery)
	if err != nil {
		return 0, err
	}
	return result.TotalSize, nil
}

// Summary renders a plain-text dry-run plan.
func Summary(r *Result) string {
	out := fmt.Sprintf("Root object: %s\n  matching records: %d\n  estimated write batches: %d\n\n",
		r.RootObject, r.RootCount, r.EstimatedBatches)
	if len(r.ChildCounts) > 0 {
		out += "Child tiers:\n"
		for _, c := range r.ChildCounts {
			out += fmt.Sprintf("  %s (~%d records)\n", c.Object, c.Count)
		}
	}
	return out
}
