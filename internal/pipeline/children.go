package pipeline

import (
	"context"
	"fmt"

	"github.com/seedbuddy/crmseed/internal/classify"
	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/prepare"
	"github.com/seedbuddy/crmseed/internal/schema"
	"github.com/seedbuddy/crmseed/internal/soql"
	"github.com/seedbuddy/crmseed/internal/write"
)

// stage2Children writes the declared child tiers: for each child, in
// operator-supplied order, query parented off the root's registered source
// ids, classify, prepare, and write.
func (p *Pipeline) stage2Children(ctx context.Context, plan *SeedPlan) (map[string][]string, error) {
	rootSourceIDs := p.Registry.AllSourceIDs(plan.RootObject)
	if len(rootSourceIDs) == 0 {
		return nil, nil
	}

	relByChild, err := p.childRelationships(ctx, plan.RootObject, plan.Children)
	if err != nil {
		return nil, err
	}

	written := make(map[string][]string, len(plan.Children))
	for _, child := range plan.Children {
		if plan.abort() {
			return written, nil
		}
		rel, ok := relByChild[child]
		if !ok {
			p.Log.Warn(fmt.Sprintf("skipping child %s: no valid relationship discovered from %s", child, plan.RootObject))
			continue
		}
		ids, err := p.seedTier(ctx, plan, child, rel.ForeignKey, rootSourceIDs)
		if err != nil {
			return written, err
		}
		written[child] = ids
	}
	return written, nil
}

// stage3Grandchildren uses the same mechanics as stage2Children, parented
// off each declared child's registered source ids. A child with no Registry
// entries is skipped with an informational line.
func (p *Pipeline) stage3Grandchildren(ctx context.Context, plan *SeedPlan, childWrittenIDs map[string][]string) error {
	if len(plan.Grandchildren) == 0 {
		return nil
	}

	allChildRels, err := p.sourceInspector.DiscoverGrandchildren(ctx, plan.Children, plan.RootObject)
	if err != nil {
		return fmt.Errorf("pipeline: discover grandchildren: %w", err)
	}
	relByGrandchild := make(map[string]schema.ChildRelationshipDescriptor, len(allChildRels))
	for _, r := range allChildRels {
		relByGrandchild[r.ChildObject] = r
	}

	for _, gc := range plan.Grandchildren {
		if plan.abort() {
			return nil
		}
		rel, ok := relByGrandchild[gc]
		if !ok {
			p.Log.Warn(fmt.Sprintf("skipping grandchild %s: no valid relationship discovered", gc))
			continue
		}
		parentChildSourceIDs := p.Registry.AllSourceIDs(rel.ParentObject)
		if len(parentChildSourceIDs) == 0 {
			p.Log.Log(fmt.Sprintf("skipping grandchild %s: parent %s has no Registry entries", gc, rel.ParentObject))
			continue
		}
		if _, err := p.seedTier(ctx, plan, gc, rel.ForeignKey, parentChildSourceIDs); err != nil {
			return err
		}
	}
	return nil
}

// seedTier is the shared Stage 2/3 mechanics: describe, compute insertable
// fields, non-root classify, chunked query by parentLookupField, prepare,
// and insert or upsert.
func (p *Pipeline) seedTier(ctx context.Context, plan *SeedPlan, object, parentLookupField string, parentSourceIDs []string) ([]string, error) {
	sourceDesc, err := p.sourceInspector.DescribeObject(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("pipeline: describe source %s: %w", object, err)
	}
	targetDesc, err := p.targetInspector.DescribeObject(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("pipeline: describe target %s: %w", object, err)
	}

	fields := prepare.InsertableFields(sourceDesc, targetDesc, nil)
	projection := soql.BuildProjection(fields, parentLookupField)

	records, err := soql.QueryAllChunked(ctx, p.Source, parentSourceIDs, func(chunk []string) string {
		where := parentLookupField + " IN " + soql.InClause(chunk)
		return soql.BuildQuery(projection, object, where, soql.AllRecords)
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: query %s: %w", object, err)
	}

	counters := p.Results.For(object)
	counters.Queried += len(records)
	if len(records) == 0 {
		return nil, nil
	}

	decisions := classify.ClassifyObject(sourceDesc, "", p.Registry)
	preparer := &prepare.Preparer{
		ObjectName: object,
		Fields:     fields,
		Decisions:  decisions,
		Nullable:   nullableMap(sourceDesc),
		Registry:   p.Registry,
		Results:    p.Results,
	}

	var prepared []conn.Record
	var sourceIDs []string
	for _, rec := range records {
		sid := fmt.Sprint(rec["Id"])
		outcome := preparer.Prepare(rec)
		if outcome.Skipped {
			continue
		}
		prepared = append(prepared, outcome.Record)
		sourceIDs = append(sourceIDs, sid)
	}

	if plan.UpsertField != "" {
		out, err := write.BatchUpsert(ctx, p.Target, p.Log, object, prepared, sourceIDs, plan.UpsertField, p.Registry, p.Results, plan.DryRun)
		if err != nil {
			return nil, err
		}
		counters.Inserted += out.Inserted
		counters.Updated += out.Updated
		counters.Failed += out.Failed
	} else {
		out, err := write.BatchInsert(ctx, p.Target, p.Log, object, prepared, sourceIDs, p.Registry, p.Results, plan.DryRun)
		if err != nil {
			return nil, err
		}
		counters.Inserted += out.Inserted
		counters.Failed += out.Failed
	}

	return sourceIDs, nil
}

// childRelationships discovers valid children of rootObject and returns the
// subset matching requested, keyed by child object name.
func (p *Pipeline) childRelationships(ctx context.Context, rootObject string, requested []string) (map[string]schema.ChildRelationshipDescriptor, error) {
	all, err := p.sourceInspector.DiscoverChildren(ctx, rootObject)
	if err != nil {
		return nil, fmt.Errorf("pipeline: discover children: %w", err)
	}
	want := make(map[string]bool, len(requested))
	for _, r := range requested {
		want[r] = true
	}
	out := make(map[string]schema.ChildRelationshipDescriptor)
	for _, r := range all {
		if want[r.ChildObject] {
			out[r.ChildObject] = r
		}
	}
	return out, nil
}
