// Package soql composes and executes SOQL queries against a
// conn.Connection: projection and WHERE composition, literal escaping,
// pagination, and chunked IN-clause queries sized to stay under the
// platform's query-length limit.
package soql

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/seedbuddy/crmseed/internal/conn"
)

// ChunkSize bounds both the number of literals in a single IN-clause and
// the number of records in a single bulk write: 200, to stay under the
// platform's SOQL query-length and bulk-batch-size limits.
const ChunkSize = 200

// AllRecords is the sentinel LIMIT meaning "no limit clause".
const AllRecords = -1

// EscapeLiteral backslash-escapes single quotes in a SOQL string literal.
func EscapeLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// BuildProjection returns the deduplicated, comma-space-joined field list for
// a SELECT clause. "Id" is always included.
func BuildProjection(fields []string, extras ...string) string {
	seen := make(map[string]bool)
	var out []string
	add := func(f string) {
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		out = append(out, f)
	}
	add("Id")
	for _, f := range fields {
		add(f)
	}
	for _, f := range extras {
		add(f)
	}
	return strings.Join(out, ", ")
}

// BuildQuery composes "SELECT projection FROM object [WHERE where] [LIMIT n]".
// limit == AllRecords omits the LIMIT clause.
func BuildQuery(projection, object, where string, limit int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(projection)
	b.WriteString(" FROM ")
	b.WriteString(object)
	if strings.TrimSpace(where) != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if limit != AllRecords {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	return b.String()
}

// QueryAll executes soql and follows pagination cursors (via QueryMore) until
// the org reports done, returning every record across all pages.
func QueryAll(ctx context.Context, c conn.Connection, query string) ([]conn.Record, error) {
	result, err := c.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("soql: query failed: %w", err)
	}

	all := append([]conn.Record{}, result.Records...)
	for !result.Done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err = c.QueryMore(ctx, result.NextRecordsURL)
		if err != nil {
			return nil, fmt.Errorf("soql: queryMore failed: %w", err)
		}
		all = append(all, result.Records...)
	}
	return all, nil
}

// QueryAllChunked splits values into ChunkSize-sized chunks, builds one SOQL
// statement per chunk via buildSoqlForChunk (the caller composes the
// `IN ('v1','v2',...)` clause), executes each with QueryAll, and concatenates
// the results.
func QueryAllChunked(
	ctx context.Context,
	c conn.Connection,
	values []string,
	buildSoqlForChunk func(chunk []string) string,
) ([]conn.Record, error) {
	if len(values) == 0 {
		return nil, nil
	}

	var all []conn.Record
	for i := 0; i < len(values); i += ChunkSize {
		end := i + ChunkSize
		if end > len(values) {
			end = len(values)
		}
		chunk := values[i:end]

		query := buildSoqlForChunk(chunk)
		records, err := QueryAll(ctx, c, query)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// InClause renders a SOQL `IN ('v1','v2',...)` clause body (without the
// surrounding "field IN (...)") for a chunk of literal string values.
func InClause(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + EscapeLiteral(v) + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}
