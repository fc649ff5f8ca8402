// Package prepare turns one source record into a target-shaped record by
// projecting writable fields and rewriting reference fields per the
// classifier's buckets and the Identity Registry.
package prepare

import (
	"fmt"

	"github.com/seedbuddy/crmseed/internal/classify"
	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/registry"
	"github.com/seedbuddy/crmseed/internal/result"
	"github.com/seedbuddy/crmseed/internal/schema"
)

// SystemReadOnlyFields are stripped from every insertable field set
// regardless of object.
var SystemReadOnlyFields = map[string]bool{
	"Id": true, "IsDeleted": true, "CreatedDate": true, "CreatedById": true,
	"LastModifiedDate": true, "LastModifiedById": true, "SystemModstamp": true,
	"LastActivityDate": true, "LastViewedDate": true, "LastReferencedDate": true,
}

// ActivitySystemFields are the additional read-only fields stripped for
// Task/Event tiers.
var ActivitySystemFields = map[string]bool{
	"IsClosed": true, "IsArchived": true, "IsRecurrence": true, "IsHighPriority": true,
	"TaskSubtype": true, "EventSubtype": true, "IsGroupEvent": true, "GroupEventType": true,
	"IsChild": true, "IsAllDayEvent": true, "IsReminderSet": true, "RecurrenceActivityId": true,
}

// compoundTypes are semantic field types dropped entirely.
var compoundTypes = map[string]bool{"address": true, "location": true}

// InsertableFields computes the insertable field set for a tier:
// writable on source, minus system-readonly, minus the caller's exclusion
// set, minus compound-typed fields, intersected with the target's writable
// set.
func InsertableFields(source, target *schema.ObjectDescriptor, exclude map[string]bool) []string {
	targetWritable := target.WritableFields()

	var out []string
	for name, f := range source.Fields {
		if !f.Writable {
			continue
		}
		if SystemReadOnlyFields[name] {
			continue
		}
		if exclude[name] {
			continue
		}
		if compoundTypes[f.Type] {
			continue
		}
		if !targetWritable[name] {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Outcome is the result of preparing one record.
type Outcome struct {
	Record  conn.Record
	Skipped bool
}

// Preparer projects and remaps one source record into a target-shaped
// record.
type Preparer struct {
	ObjectName string
	Fields     []string
	Decisions  map[string]classify.Decision
	Nullable   map[string]bool
	Registry   *registry.Registry
	Results    *result.SeedResults
}

// Prepare projects and rewrites one source record. If a required
// in-scope/data-dependency reference cannot be resolved, the returned
// Outcome is Skipped and an error is recorded in Results with stage
// "remap" — the caller must not attempt to write it.
func (p *Preparer) Prepare(src conn.Record) Outcome {
	out := make(conn.Record, len(p.Fields))
	sourceID, _ := src["Id"].(string)

	for _, field := range p.Fields {
		value, present := src[field]
		if !present {
			continue // omit
		}

		decision, isRef := p.Decisions[field]
		if !isRef {
			out[field] = value
			continue
		}

		switch decision.Bucket {
		case classify.SystemReference:
			if value != nil {
				continue // omit
			}
			out[field] = nil
		case classify.SelfReference:
			continue // carried to the post-insert self-ref pass
		case classify.InScopeReference, classify.DataDependency:
			if value == nil {
				out[field] = nil
				continue
			}
			refSourceID := fmt.Sprint(value)
			targetID, _, found := p.Registry.Lookup(refSourceID)
			if found {
				out[field] = targetID
				continue
			}
			fieldDesc := p.fieldNullable(field)
			if fieldDesc {
				out[field] = nil
				continue
			}
			p.Results.AddError(p.ObjectName, sourceID, result.StageRemap,
				fmt.Sprintf("required reference field %q (source value %q) has no registry entry", field, refSourceID))
			p.Results.For(p.ObjectName).Skipped++
			return Outcome{Skipped: true}
		default:
			out[field] = value
		}
	}

	return Outcome{Record: out}
}

// fieldNullable reads the caller-supplied Nullable side table, so callers
// and tests need no full ObjectDescriptor. A nil table or a missing field
// counts as required (false), the conservative choice.
func (p *Preparer) fieldNullable(field string) bool {
	if p.Nullable == nil {
		return false
	}
	return p.Nullable[field]
}
