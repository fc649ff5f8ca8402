// Package verify performs optional post-run integrity checks comparing
// source and target records for every seeded object, by record count or by
// a stable field hash, driven by the Identity Registry's source/target ID
// pairs. It reports mismatches only; nothing is rolled back.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/logio"
	"github.com/seedbuddy/crmseed/internal/registry"
	"github.com/seedbuddy/crmseed/internal/soql"
)

// Method selects how object records are compared.
type Method string

const (
	// MethodCount compares only record counts (fast, default).
	MethodCount Method = "count"
	// MethodHash compares a deterministic hash of each record's fields.
	MethodHash Method = "hash"
	// MethodSkip performs no verification.
	MethodSkip Method = "skip"
)

// ObjectResult is the verification outcome for one object.
type ObjectResult struct {
	Object       string
	Method       Method
	SourceCount  int
	TargetCount  int
	Match        bool
	ErrorMessage string
}

// Stats summarizes a full verification run.
type Stats struct {
	ObjectsVerified int
	ObjectsPassed   int
	ObjectsFailed   int
	TotalRecords    int
	Method          Method
}

// Verifier compares seeded records between a source and target connection
// using the run's Identity Registry to know which source IDs map to which
// target IDs.
type Verifier struct {
	source conn.Connection
	target conn.Connection
	reg    *registry.Registry
	method Method
	log    logio.Logger
}

// New creates a Verifier. An empty method defaults to MethodCount.
func New(source, target conn.Connection, reg *registry.Registry, method Method, log logio.Logger) *Verifier {
	if method == "" {
		method = MethodCount
	}
	if log == nil {
		log = logio.NewDefault()
	}
	return &Verifier{source: source, target: target, reg: reg, method: method, log: log}
}

// Verify checks every object with registry entries, in the order they were
// first registered.
func (v *Verifier) Verify(ctx context.Context, fields map[string][]string) (*Stats, error) {
	stats := &Stats{Method: v.method}

	if v.method == MethodSkip {
		v.log.Log("verification skipped")
		return stats, nil
	}

	for _, object := range v.reg.Objects() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		sourceIDs := v.reg.AllSourceIDs(object)
		if len(sourceIDs) == 0 {
			continue
		}

		var targetIDs []string
		for _, sid := range sourceIDs {
			if tid, ok := v.reg.Get(object, sid); ok {
				targetIDs = append(targetIDs, tid)
			}
		}

		var result *ObjectResult
		var err error
		switch v.method {
		case MethodHash:
			result, err = v.verifyByHash(ctx, object, sourceIDs, targetIDs, fields[object])
		default:
			result, err = v.verifyByCount(ctx, object, sourceIDs, targetIDs)
		}
		if err != nil {
			return stats, fmt.Errorf("verify: %s: %w", object, err)
		}

		stats.ObjectsVerified++
		stats.TotalRecords += result.SourceCount
		if result.Match {
			stats.ObjectsPassed++
		} else {
			stats.ObjectsFailed++
			v.log.Warn(fmt.Sprintf("verification mismatch for %s: %s", object, result.ErrorMessage))
		}
	}

	return stats, nil
}

func (v *Verifier) verifyByCount(ctx context.Context, object string, sourceIDs, targetIDs []string) (*ObjectResult, error) {
	sourceCount, err := v.countByIDs(ctx, v.source, object, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("source count: %w", err)
	}
	targetCount, err := v.countByIDs(ctx, v.target, object, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("target count: %w", err)
	}

	r := &ObjectResult{
		Object:      object,
		Method:      MethodCount,
		SourceCount: sourceCount,
		TargetCount: targetCount,
		Match:       sourceCount == targetCount,
	}
	if !r.Match {
		r.ErrorMessage = fmt.Sprintf("count mismatch: source=%d, target=%d", sourceCount, targetCount)
	}
	return r, nil
}

func (v *Verifier) countByIDs(ctx context.Context, c conn.Connection, object string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	records, err := soql.QueryAllChunked(ctx, c, ids, func(chunk []string) string {
		where := "Id IN " + soql.InClause(chunk)
		return soql.BuildQuery("Id", object, where, soql.AllRecords)
	})
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (v *Verifier) verifyByHash(ctx context.Context, object string, sourceIDs, targetIDs, fields []string) (*ObjectResult, error) {
	projection := soql.BuildProjection(fields)

	sourceRecords, err := v.fetchByIDs(ctx, v.source, object, projection, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("source fetch: %w", err)
	}
	targetRecords, err := v.fetchByIDs(ctx, v.target, object, projection, targetIDs)
	if err != nil {
		return nil, fmt.Errorf("target fetch: %w", err)
	}

	// Order both sides by the registry's pair order, not by raw Id: source
	// and target IDs sort differently, and the comparison is about content.
	sourceHash := hashRecords(orderByIDs(sourceRecords, sourceIDs), fields, "Id")
	targetHash := hashRecords(orderByIDs(targetRecords, targetIDs), fields, "Id")

	r := &ObjectResult{
		Object:      object,
		Method:      MethodHash,
		SourceCount: len(sourceRecords),
		TargetCount: len(targetRecords),
		Match:       sourceHash == targetHash && len(sourceRecords) == len(targetRecords),
	}
	if !r.Match {
		if len(sourceRecords) != len(targetRecords) {
			r.ErrorMessage = fmt.Sprintf("count mismatch: source=%d, target=%d", len(sourceRecords), len(targetRecords))
		} else {
			r.ErrorMessage = fmt.Sprintf("hash mismatch: source=%s, target=%s", sourceHash[:16], targetHash[:16])
		}
	}
	return r, nil
}

func (v *Verifier) fetchByIDs(ctx context.Context, c conn.Connection, object, projection string, ids []string) ([]conn.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return soql.QueryAllChunked(ctx, c, ids, func(chunk []string) string {
		where := "Id IN " + soql.InClause(chunk)
		return soql.BuildQuery(projection, object, where, soql.AllRecords)
	})
}

// orderByIDs arranges records to follow the given ID order, dropping any
// record whose Id is absent from ids.
func orderByIDs(records []conn.Record, ids []string) []conn.Record {
	byID := make(map[string]conn.Record, len(records))
	for _, rec := range records {
		byID[fmt.Sprint(rec["Id"])] = rec
	}
	out := make([]conn.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// hashRecords hashes each record's given fields (excluding the ID itself, so
// the comparison is about content, not the necessarily-different IDs) in the
// order given, and returns the combined SHA256 hex digest.
func hashRecords(records []conn.Record, fields []string, idField string) string {
	h := sha256.New()
	for _, rec := range records {
		var parts []string
		for _, f := range fields {
			if f == idField {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s=%v", f, rec[f]))
		}
		h.Write([]byte(strings.Join(parts, "\x00")))
		h.Write([]byte("\n"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
