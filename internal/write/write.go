// Package write batches prepared records into fixed-size bulk writes
// (insert or upsert) via conn.Connection's bulk create/update/upsert
// calls, records new identity mappings, and reports per-record
// success/failure.
package write

import (
	"context"
	"fmt"
	"strings"

	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/logio"
	"github.com/seedbuddy/crmseed/internal/registry"
	"github.com/seedbuddy/crmseed/internal/result"
	"github.com/seedbuddy/crmseed/internal/soql"
)

// BatchSize is the fixed bulk write batch size: 200,
// matching the platform's bulk-write batch size limit.
const BatchSize = soql.ChunkSize

// InsertOutcome is the aggregate result of a BatchInsert call.
type InsertOutcome struct {
	Inserted int
	Failed   int
}

// BatchInsert writes records in batches of BatchSize via conn.Create. In
// dry-run mode it performs no network I/O and adds no registry entries,
// reporting inserted = len(records), failed = 0.
func BatchInsert(
	ctx context.Context,
	c conn.Connection,
	log logio.Logger,
	object string,
	records []conn.Record,
	sourceIDs []string,
	reg *registry.Registry,
	res *result.SeedResults,
	dryRun bool,
) (InsertOutcome, error) {
	if len(records) != len(sourceIDs) {
		return InsertOutcome{}, fmt.Errorf("write: records/sourceIDs length mismatch for %s (%d vs %d)", object, len(records), len(sourceIDs))
	}

	if dryRun {
		log.Log(fmt.Sprintf("[dry-run] would insert %d %s record(s)", len(records), object))
		return InsertOutcome{Inserted: len(records)}, nil
	}

	var out InsertOutcome
	for start := 0; start < len(records); start += BatchSize {
		end := start + BatchSize
		if end > len(records) {
			end = len(records)
		}
		batchRecords := records[start:end]
		batchIDs := sourceIDs[start:end]

		results, err := c.Create(ctx, object, batchRecords)
		if err != nil {
			return out, fmt.Errorf("write: create batch failed for %s: %w", object, err)
		}

		for j, wr := range results {
			if wr.Success && wr.ID != "" {
				reg.Set(object, batchIDs[j], wr.ID)
				out.Inserted++
			} else {
				out.Failed++
				res.AddError(object, batchIDs[j], result.StageInsert, formatWriteErrors(wr.Errors))
			}
		}
	}
	return out, nil
}

// UpsertOutcome is the aggregate result of a BatchUpsert call.
type UpsertOutcome struct {
	Inserted int
	Updated  int
	Failed   int
}

// BatchUpsert writes records in batches of BatchSize via conn.Upsert,
// distinguishing created from updated via the result's Created flag. Updated
// records may not return a target ID, so after each batch the source IDs
// still missing a registry entry are resolved by re-querying the target for
// Id + externalIDField restricted to the batch's distinct external-id
// values, matching rows back to source IDs.
func BatchUpsert(
	ctx context.Context,
	c conn.Connection,
	log logio.Logger,
	object string,
	records []conn.Record,
	sourceIDs []string,
	externalIDField string,
	reg *registry.Registry,
	res *result.SeedResults,
	dryRun bool,
) (UpsertOutcome, error) {
	if len(records) != len(sourceIDs) {
		return UpsertOutcome{}, fmt.Errorf("write: records/sourceIDs length mismatch for %s (%d vs %d)", object, len(records), len(sourceIDs))
	}

	if dryRun {
		log.Log(fmt.Sprintf("[dry-run] would upsert %d %s record(s) on %s", len(records), object, externalIDField))
		return UpsertOutcome{Inserted: len(records)}, nil
	}

	var out UpsertOutcome
	for start := 0; start < len(records); start += BatchSize {
		end := start + BatchSize
		if end > len(records) {
			end = len(records)
		}
		batchRecords := records[start:end]
		batchIDs := sourceIDs[start:end]

		results, err := c.Upsert(ctx, object, batchRecords, externalIDField)
		if err != nil {
			return out, fmt.Errorf("write: upsert batch failed for %s: %w", object, err)
		}

		var unresolved []int
		var extValues []string
		seenExt := make(map[string]bool)

		for j, wr := range results {
			if !wr.Success {
				out.Failed++
				res.AddError(object, batchIDs[j], result.StageUpsert, formatWriteErrors(wr.Errors))
				continue
			}
			if wr.Created {
				out.Inserted++
			} else {
				out.Updated++
			}
			if wr.ID != "" {
				reg.Set(object, batchIDs[j], wr.ID)
				continue
			}
			unresolved = append(unresolved, j)
			if ev, ok := batchRecords[j][externalIDField]; ok && ev != nil {
				s := fmt.Sprint(ev)
				if !seenExt[s] {
					seenExt[s] = true
					extValues = append(extValues, s)
				}
			}
		}

		if len(unresolved) > 0 && len(extValues) > 0 {
			if err := resolveViaExternalID(ctx, c, object, externalIDField, extValues, batchRecords, batchIDs, unresolved, reg); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// resolveViaExternalID re-queries the target for Id + externalIDField among
// the given distinct values, then matches rows back to source IDs by
// external-id value. Assumes the external ID is populated and unique in
// the target; a duplicate value fails the batch with a named error.
func resolveViaExternalID(
	ctx context.Context,
	c conn.Connection,
	object, externalIDField string,
	extValues []string,
	batchRecords []conn.Record,
	batchIDs []string,
	unresolvedIdx []int,
	reg *registry.Registry,
) error {
	projection := soql.BuildProjection([]string{externalIDField})
	records, err := soql.QueryAllChunked(ctx, c, extValues, func(chunk []string) string {
		where := externalIDField + " IN " + soql.InClause(chunk)
		return soql.BuildQuery(projection, object, where, soql.AllRecords)
	})
	if err != nil {
		return fmt.Errorf("write: upsert back-query failed for %s: %w", object, err)
	}

	byExtValue := make(map[string]string, len(records))
	for _, rec := range records {
		ev, ok := rec[externalIDField]
		if !ok || ev == nil {
			continue
		}
		key := fmt.Sprint(ev)
		id := fmt.Sprint(rec["Id"])
		if prior, dup := byExtValue[key]; dup && prior != id {
			return fmt.Errorf("write: external id %s=%q is not unique in target %s (%s and %s)", externalIDField, key, object, prior, id)
		}
		byExtValue[key] = id
	}

	for _, j := range unresolvedIdx {
		ev, ok := batchRecords[j][externalIDField]
		if !ok || ev == nil {
			continue
		}
		if targetID, found := byExtValue[fmt.Sprint(ev)]; found {
			reg.Set(object, batchIDs[j], targetID)
		}
	}
	return nil
}

// BatchUpdate writes update records (each must carry a target "Id") in
// batches of BatchSize via conn.Update, recording failures under the given
// stage name (the post-insert self-reference update and the file stage's
// document-id back-registration use this with different stage labels).
func BatchUpdate(
	ctx context.Context,
	c conn.Connection,
	object string,
	records []conn.Record,
	sourceIDs []string,
	stage string,
	res *result.SeedResults,
	dryRun bool,
) (updated, failed int, err error) {
	if len(records) != len(sourceIDs) {
		return 0, 0, fmt.Errorf("write: records/sourceIDs length mismatch for %s update (%d vs %d)", object, len(records), len(sourceIDs))
	}
	if dryRun {
		return len(records), 0, nil
	}

	for start := 0; start < len(records); start += BatchSize {
		end := start + BatchSize
		if end > len(records) {
			end = len(records)
		}
		batchRecords := records[start:end]
		batchIDs := sourceIDs[start:end]

		results, uerr := c.Update(ctx, object, batchRecords)
		if uerr != nil {
			return updated, failed, fmt.Errorf("write: update batch failed for %s: %w", object, uerr)
		}
		for j, wr := range results {
			if wr.Success {
				updated++
			} else {
				failed++
				res.AddError(object, batchIDs[j], stage, formatWriteErrors(wr.Errors))
			}
		}
	}
	return updated, failed, nil
}

func formatWriteErrors(errs []conn.WriteError) string {
	return FormatWriteErrors(errs)
}

// FormatWriteErrors joins a bulk result's per-record errors as
// "STATUS_CODE: message [field1, field2]", or "Unknown error" for an empty
// list. Exported so other writers of target bulk results (e.g. the file
// transfer stage's ContentVersion/ContentDocumentLink creates) format
// consistently.
func FormatWriteErrors(errs []conn.WriteError) string {
	var parts []string
	for _, e := range errs {
		if e.StatusCode == "" && e.Message == "" {
			continue
		}
		msg := fmt.Sprintf("%s: %s", e.StatusCode, e.Message)
		if len(e.Fields) > 0 {
			msg += " [" + strings.Join(e.Fields, ", ") + "]"
		}
		parts = append(parts, msg)
	}
	if len(parts) == 0 {
		return "Unknown error"
	}
	return strings.Join(parts, "; ")
}
