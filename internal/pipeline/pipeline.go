// Package pipeline drives the six-stage seed run: core object, children,
// grandchildren, activities, and files, writing source-to-target in
// dependency order and recording results in a result.SeedResults. The
// dependency order is a known shape (root, then children, then
// grandchildren, then activities, then files), so the stage sequence is
// fixed rather than computed from the discovered graph.
package pipeline

import (
	"context"
	"fmt"

	"github.com/seedbuddy/crmseed/internal/budget"
	"github.com/seedbuddy/crmseed/internal/classify"
	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/logio"
	"github.com/seedbuddy/crmseed/internal/prepare"
	"github.com/seedbuddy/crmseed/internal/registry"
	"github.com/seedbuddy/crmseed/internal/result"
	"github.com/seedbuddy/crmseed/internal/schema"
	"github.com/seedbuddy/crmseed/internal/soql"
	"github.com/seedbuddy/crmseed/internal/write"
)

// AllRecords requests every matching record with no LIMIT clause
// (--count All).
const AllRecords = soql.AllRecords

// SeedPlan is the operator's declared run, already parsed. Flag handling
// and the interactive prompt loop are the CLI's concern, not the
// pipeline's.
type SeedPlan struct {
	RootObject    string
	Where         string
	Count         int // AllRecords for no limit
	Children      []string
	Grandchildren []string
	IncludeTasks  bool
	IncludeEvents bool
	IncludeFiles  bool
	UpsertField   string // empty means plain insert for every tier
	DryRun        bool

	// ShouldAbort is consulted at stage boundaries only. A nil
	// probe is treated as "never abort".
	ShouldAbort func() bool
}

func (p *SeedPlan) abort() bool {
	return p.ShouldAbort != nil && p.ShouldAbort()
}

// State is the driver's state machine position.
type State string

const (
	StateIdle        State = "idle"
	StateStage1      State = "stage1"
	StateStage2      State = "stage2"
	StateStage3      State = "stage3"
	StateStage4      State = "stage4"
	StateStage5      State = "stage5"
	StateStage6      State = "stage6"
	StateDone        State = "done"
	StatePartialDone State = "partial_done"
	StateEarlyDone   State = "early_done"
)

// Pipeline drives one seed run between a source and target connection.
type Pipeline struct {
	Source   conn.Connection
	Target   conn.Connection
	Log      logio.Logger
	Registry *registry.Registry
	Results  *result.SeedResults

	// Budget, if set, is consulted at every stage boundary alongside
	// ShouldAbort, pausing the run rather than aborting it.
	Budget *budget.Monitor

	sourceInspector *schema.Inspector
	targetInspector *schema.Inspector

	state State
}

// New creates a Pipeline with a fresh Registry and SeedResults.
func New(source, target conn.Connection, log logio.Logger) *Pipeline {
	if log == nil {
		log = logio.NewDefault()
	}
	return &Pipeline{
		Source:          source,
		Target:          target,
		Log:             log,
		Registry:        registry.New(),
		Results:         result.New(),
		sourceInspector: schema.NewInspector(source),
		targetInspector: schema.NewInspector(target),
		state:           StateIdle,
	}
}

// State returns the driver's current state machine position.
func (p *Pipeline) State() State {
	return p.state
}

// waitForBudget pauses at a stage boundary if a Budget monitor is attached
// and the target's remaining API call budget has dropped below threshold.
func (p *Pipeline) waitForBudget(ctx context.Context) error {
	if p.Budget == nil {
		return nil
	}
	return p.Budget.WaitForBudget(ctx)
}

// Run executes the full six-stage pipeline for plan, returning the
// accumulated SeedResults regardless of whether the run reached Done,
// PartialDone (cancelled), or EarlyDone (Stage 1 produced nothing).
func (p *Pipeline) Run(ctx context.Context, plan *SeedPlan) (*result.SeedResults, error) {
	p.state = StateStage1
	coreWrote, err := p.stage1Core(ctx, plan)
	if err != nil {
		return p.Results, err
	}

	if plan.abort() {
		p.state = StatePartialDone
		return p.Results, nil
	}
	if !coreWrote {
		p.state = StateEarlyDone
		return p.Results, nil
	}
	if err := p.waitForBudget(ctx); err != nil {
		return p.Results, err
	}

	p.state = StateStage2
	childIDs, err := p.stage2Children(ctx, plan)
	if err != nil {
		return p.Results, err
	}
	if plan.abort() {
		p.state = StatePartialDone
		return p.Results, nil
	}
	if err := p.waitForBudget(ctx); err != nil {
		return p.Results, err
	}

	p.state = StateStage3
	if err := p.stage3Grandchildren(ctx, plan, childIDs); err != nil {
		return p.Results, err
	}
	if plan.abort() {
		p.state = StatePartialDone
		return p.Results, nil
	}
	if err := p.waitForBudget(ctx); err != nil {
		return p.Results, err
	}

	p.state = StateStage4
	if plan.IncludeTasks {
		if err := p.stage4or5Activity(ctx, plan, "Task"); err != nil {
			return p.Results, err
		}
	}
	if plan.abort() {
		p.state = StatePartialDone
		return p.Results, nil
	}
	if err := p.waitForBudget(ctx); err != nil {
		return p.Results, err
	}

	p.state = StateStage5
	if plan.IncludeEvents {
		if err := p.stage4or5Activity(ctx, plan, "Event"); err != nil {
			return p.Results, err
		}
	}
	if plan.abort() {
		p.state = StatePartialDone
		return p.Results, nil
	}
	if err := p.waitForBudget(ctx); err != nil {
		return p.Results, err
	}

	p.state = StateStage6
	if plan.IncludeFiles {
		if err := p.stage6Files(ctx, plan); err != nil {
			return p.Results, err
		}
	}

	p.state = StateDone
	return p.Results, nil
}

func nullableMap(desc *schema.ObjectDescriptor) map[string]bool {
	out := make(map[string]bool, len(desc.Fields))
	for name, f := range desc.Fields {
		out[name] = f.Nullable
	}
	return out
}

// stage1Core seeds the root object. It returns whether the core object
// produced any inserts or updates (false triggers EarlyDone).
func (p *Pipeline) stage1Core(ctx context.Context, plan *SeedPlan) (bool, error) {
	p.Log.StartSpinner(fmt.Sprintf("describing %s", plan.RootObject))
	sourceDesc, err := p.sourceInspector.DescribeObject(ctx, plan.RootObject)
	if err != nil {
		p.Log.StopSpinnerFail(plan.RootObject)
		return false, fmt.Errorf("pipeline: describe source %s: %w", plan.RootObject, err)
	}
	targetDesc, err := p.targetInspector.DescribeObject(ctx, plan.RootObject)
	if err != nil {
		p.Log.StopSpinnerFail(plan.RootObject)
		return false, fmt.Errorf("pipeline: describe target %s: %w", plan.RootObject, err)
	}
	p.Log.StopSpinner(plan.RootObject)

	fields := prepare.InsertableFields(sourceDesc, targetDesc, nil)
	projection := soql.BuildProjection(fields)
	query := soql.BuildQuery(projection, plan.RootObject, plan.Where, plan.Count)

	p.Log.StartSpinner(fmt.Sprintf("querying %s", plan.RootObject))
	records, err := soql.QueryAll(ctx, p.Source, query)
	if err != nil {
		p.Log.StopSpinnerFail(plan.RootObject)
		return false, fmt.Errorf("pipeline: query %s: %w", plan.RootObject, err)
	}
	p.Log.StopSpinner(fmt.Sprintf("%s (%d records)", plan.RootObject, len(records)))

	counters := p.Results.For(plan.RootObject)
	counters.Queried = len(records)
	if len(records) == 0 {
		return false, nil
	}

	decisions := classify.ClassifyObject(sourceDesc, plan.RootObject, p.Registry)

	if err := p.resolveDataDependencies(ctx, plan.RootObject, fields, decisions, records, plan.DryRun); err != nil {
		return false, err
	}

	records, err = p.prependOutOfBatchSelfRefs(ctx, plan.RootObject, fields, decisions, records)
	if err != nil {
		return false, err
	}

	preparer := &prepare.Preparer{
		ObjectName: plan.RootObject,
		Fields:     fields,
		Decisions:  decisions,
		Nullable:   nullableMap(sourceDesc),
		Registry:   p.Registry,
		Results:    p.Results,
	}

	var prepared []conn.Record
	var preparedSourceIDs []string
	for _, rec := range records {
		sid := fmt.Sprint(rec["Id"])
		outcome := preparer.Prepare(rec)
		if outcome.Skipped {
			continue
		}
		prepared = append(prepared, outcome.Record)
		preparedSourceIDs = append(preparedSourceIDs, sid)
	}

	wrote := false
	if plan.UpsertField != "" {
		out, err := write.BatchUpsert(ctx, p.Target, p.Log, plan.RootObject, prepared, preparedSourceIDs, plan.UpsertField, p.Registry, p.Results, plan.DryRun)
		if err != nil {
			return false, err
		}
		counters.Inserted += out.Inserted
		counters.Updated += out.Updated
		counters.Failed += out.Failed
		wrote = out.Inserted > 0 || out.Updated > 0
	} else {
		out, err := write.BatchInsert(ctx, p.Target, p.Log, plan.RootObject, prepared, preparedSourceIDs, p.Registry, p.Results, plan.DryRun)
		if err != nil {
			return false, err
		}
		counters.Inserted += out.Inserted
		counters.Failed += out.Failed
		wrote = out.Inserted > 0
	}

	if err := p.postInsertSelfRefUpdate(ctx, plan, decisions, records); err != nil {
		return false, err
	}

	return wrote, nil
}

// resolveDataDependencies shallow-seeds each DataDependency target
// referenced by the queried batch: fetch the exact referenced source
// records, strip every reference field (no recursion), insert, and register
// ids. A dependency that cannot be described or
// inserted has its field demoted to SystemReference so the core record
// strips rather than remaps it.
func (p *Pipeline) resolveDataDependencies(ctx context.Context, rootObject string, _ []string, decisions map[string]classify.Decision, records []conn.Record, dryRun bool) error {
	byTarget := make(map[string][]string) // target object -> fields referencing it
	for field, d := range decisions {
		if d.Bucket == classify.DataDependency {
			byTarget[d.Target] = append(byTarget[d.Target], field)
		}
	}

	for target, fields := range byTarget {
		ids := distinctReferencedIDs(records, fields)
		if len(ids) == 0 {
			continue
		}

		sourceDesc, err := p.sourceInspector.DescribeObject(ctx, target)
		if err != nil {
			p.demoteToSystem(decisions, fields)
			p.Log.StopSpinnerFail(target)
			continue
		}
		targetDesc, err := p.targetInspector.DescribeObject(ctx, target)
		if err != nil {
			p.demoteToSystem(decisions, fields)
			p.Log.StopSpinnerFail(target)
			continue
		}

		depFields := nonReferenceInsertableFields(sourceDesc, targetDesc)
		projection := soql.BuildProjection(depFields)
		depRecords, err := soql.QueryAllChunked(ctx, p.Source, ids, func(chunk []string) string {
			return soql.BuildQuery(projection, target, "Id IN "+soql.InClause(chunk), soql.AllRecords)
		})
		if err != nil {
			p.demoteToSystem(decisions, fields)
			continue
		}

		depSourceIDs := make([]string, len(depRecords))
		stripped := make([]conn.Record, len(depRecords))
		for i, rec := range depRecords {
			depSourceIDs[i] = fmt.Sprint(rec["Id"])
			out := make(conn.Record, len(depFields))
			for _, f := range depFields {
				if v, ok := rec[f]; ok {
					out[f] = v
				}
			}
			stripped[i] = out
		}

		counters := p.Results.For(target)
		counters.Queried += len(depRecords)
		out, err := write.BatchInsert(ctx, p.Target, p.Log, target, stripped, depSourceIDs, p.Registry, p.Results, dryRun)
		if err != nil {
			p.demoteToSystem(decisions, fields)
			continue
		}
		counters.Inserted += out.Inserted
		counters.Failed += out.Failed
	}

	return nil
}

func (p *Pipeline) demoteToSystem(decisions map[string]classify.Decision, fields []string) {
	for _, f := range fields {
		d := decisions[f]
		d.Bucket = classify.SystemReference
		decisions[f] = d
	}
}

func nonReferenceInsertableFields(source, target *schema.ObjectDescriptor) []string {
	targetWritable := target.WritableFields()
	var out []string
	for name, f := range source.Fields {
		if !f.Writable || f.Type == "reference" {
			continue
		}
		if prepare.SystemReadOnlyFields[name] {
			continue
		}
		if !targetWritable[name] {
			continue
		}
		out = append(out, name)
	}
	return out
}

func distinctReferencedIDs(records []conn.Record, fields []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range records {
		for _, f := range fields {
			v, ok := rec[f]
			if !ok || v == nil {
				continue
			}
			s := fmt.Sprint(v)
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// prependOutOfBatchSelfRefs collects self-reference targets referenced by
// the batch but not present in it, fetches those parent records, and
// prepends them so parents are written before children within the same
// insert. Only one level is resolved: a prepended parent's own
// self-reference is left for the post-insert update pass rather than
// recursively pulled in.
func (p *Pipeline) prependOutOfBatchSelfRefs(ctx context.Context, rootObject string, fields []string, decisions map[string]classify.Decision, records []conn.Record) ([]conn.Record, error) {
	var selfFields []string
	for field, d := range decisions {
		if d.Bucket == classify.SelfReference {
			selfFields = append(selfFields, field)
		}
	}
	if len(selfFields) == 0 {
		return records, nil
	}

	inBatch := make(map[string]bool, len(records))
	for _, rec := range records {
		inBatch[fmt.Sprint(rec["Id"])] = true
	}

	var missing []string
	seen := make(map[string]bool)
	for _, rec := range records {
		for _, f := range selfFields {
			v, ok := rec[f]
			if !ok || v == nil {
				continue
			}
			sid := fmt.Sprint(v)
			if inBatch[sid] || seen[sid] {
				continue
			}
			seen[sid] = true
			missing = append(missing, sid)
		}
	}
	if len(missing) == 0 {
		return records, nil
	}

	projection := soql.BuildProjection(fields)
	parents, err := soql.QueryAllChunked(ctx, p.Source, missing, func(chunk []string) string {
		return soql.BuildQuery(projection, rootObject, "Id IN "+soql.InClause(chunk), soql.AllRecords)
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetching out-of-batch self-ref parents: %w", err)
	}

	p.Results.For(rootObject).Queried += len(parents)
	return append(parents, records...), nil
}

// postInsertSelfRefUpdate builds and submits the self-reference update
// list: for every written source record with a resolved target id and at
// least one self-ref field now resolvable via the Registry, submit
// {Id: targetId, selfRefField: targetRefId, ...}.
func (p *Pipeline) postInsertSelfRefUpdate(ctx context.Context, plan *SeedPlan, decisions map[string]classify.Decision, records []conn.Record) error {
	var selfFields []string
	for field, d := range decisions {
		if d.Bucket == classify.SelfReference {
			selfFields = append(selfFields, field)
		}
	}
	if len(selfFields) == 0 {
		return nil
	}

	var updates []conn.Record
	var sourceIDs []string
	for _, rec := range records {
		sid := fmt.Sprint(rec["Id"])
		targetID, ok := p.Registry.Get(plan.RootObject, sid)
		if !ok {
			continue
		}
		update := conn.Record{"Id": targetID}
		hasAny := false
		for _, f := range selfFields {
			v, ok := rec[f]
			if !ok || v == nil {
				continue
			}
			refTargetID, _, found := p.Registry.Lookup(fmt.Sprint(v))
			if !found {
				continue
			}
			update[f] = refTargetID
			hasAny = true
		}
		if hasAny {
			updates = append(updates, update)
			sourceIDs = append(sourceIDs, sid)
		}
	}
	if len(updates) == 0 {
		return nil
	}

	counters := p.Results.For(plan.RootObject)
	updated, failed, err := write.BatchUpdate(ctx, p.Target, plan.RootObject, updates, sourceIDs, result.StageSelfRefUpdate, p.Results, plan.DryRun)
	if err != nil {
		return err
	}
	counters.Updated += updated
	counters.Failed += failed
	return nil
}
