package pipeline

import (
	"context"
	"fmt"

	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/prepare"
	"github.com/seedbuddy/crmseed/internal/soql"
	"github.com/seedbuddy/crmseed/internal/write"
)

// stage4or5Activity runs the activity stage for one activity object
// ("Task" or "Event"): queries by the polymorphic WhatId and WhoId fields
// against every source id registered so far, remaps both via whole-Registry
// lookup (never dropping a record for an unresolved polymorphic reference),
// and inserts.
func (p *Pipeline) stage4or5Activity(ctx context.Context, plan *SeedPlan, activityObject string) error {
	sourceDesc, err := p.sourceInspector.DescribeObject(ctx, activityObject)
	if err != nil {
		return fmt.Errorf("pipeline: describe source %s: %w", activityObject, err)
	}
	targetDesc, err := p.targetInspector.DescribeObject(ctx, activityObject)
	if err != nil {
		return fmt.Errorf("pipeline: describe target %s: %w", activityObject, err)
	}

	fields := prepare.InsertableFields(sourceDesc, targetDesc, prepare.ActivitySystemFields)
	projection := soql.BuildProjection(fields, "WhatId", "WhoId")

	allSourceIDs := p.Registry.AllSourceIDsAcrossRegistry()
	if len(allSourceIDs) == 0 {
		return nil
	}

	// Deduplicate by record id, preserving first-seen query-return order.
	seen := make(map[string]bool)
	var ordered []conn.Record

	whatRecords, err := soql.QueryAllChunked(ctx, p.Source, allSourceIDs, func(chunk []string) string {
		return soql.BuildQuery(projection, activityObject, "WhatId IN "+soql.InClause(chunk), soql.AllRecords)
	})
	if err != nil {
		return fmt.Errorf("pipeline: query %s by WhatId: %w", activityObject, err)
	}
	whoRecords, err := soql.QueryAllChunked(ctx, p.Source, allSourceIDs, func(chunk []string) string {
		return soql.BuildQuery(projection, activityObject, "WhoId IN "+soql.InClause(chunk), soql.AllRecords)
	})
	if err != nil {
		return fmt.Errorf("pipeline: query %s by WhoId: %w", activityObject, err)
	}
	for _, rec := range append(whatRecords, whoRecords...) {
		sid := fmt.Sprint(rec["Id"])
		if seen[sid] {
			continue
		}
		seen[sid] = true
		ordered = append(ordered, rec)
	}

	if len(ordered) == 0 {
		return nil
	}

	counters := p.Results.For(activityObject)
	counters.Queried += len(ordered)

	var prepared []conn.Record
	var sourceIDs []string
	for _, rec := range ordered {
		sid := fmt.Sprint(rec["Id"])
		out := make(conn.Record, len(fields)+2)
		for _, f := range fields {
			if v, ok := rec[f]; ok {
				out[f] = v
			}
		}
		out["WhatId"] = remapPolymorphic(p, rec["WhatId"])
		out["WhoId"] = remapPolymorphic(p, rec["WhoId"])
		prepared = append(prepared, out)
		sourceIDs = append(sourceIDs, sid)
	}

	writeOut, err := write.BatchInsert(ctx, p.Target, p.Log, activityObject, prepared, sourceIDs, p.Registry, p.Results, plan.DryRun)
	if err != nil {
		return err
	}
	counters.Inserted += writeOut.Inserted
	counters.Failed += writeOut.Failed
	return nil
}

func remapPolymorphic(p *Pipeline, v any) any {
	if v == nil {
		return nil
	}
	targetID, _, found := p.Registry.Lookup(fmt.Sprint(v))
	if !found {
		return nil
	}
	return targetID
}
