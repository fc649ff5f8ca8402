package conn

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Fake is a fully in-memory Connection used by every core-package test in
// this repo:
// a purpose-built stub for the one external boundary the core depends on —
// except here the boundary is the Connection interface itself, not raw SQL,
// so the fake speaks that interface directly instead of wrapping a driver.
type Fake struct {
	objects   map[string]ObjectInfo
	describes map[string]*DescribeResult
	data      map[string][]Record
	pageSize  int
	cursors   map[string]*cursor
	cursorSeq int
	downloads map[string][]byte
	apiBudget *int
	idSeq     map[string]int

	// FailCreate/FailUpsert, if set for an object, force every write in the
	// next call to that object to fail with the given message.
	FailCreate map[string]string
	FailUpsert map[string]string
}

type cursor struct {
	records []Record
	offset  int
}

// NewFake creates an empty in-memory org.
func NewFake() *Fake {
	return &Fake{
		objects:    make(map[string]ObjectInfo),
		describes:  make(map[string]*DescribeResult),
		data:       make(map[string][]Record),
		pageSize:   2000,
		cursors:    make(map[string]*cursor),
		downloads:  make(map[string][]byte),
		idSeq:      make(map[string]int),
		FailCreate: make(map[string]string),
		FailUpsert: make(map[string]string),
	}
}

// SetPageSize controls how many records Query returns before requiring
// QueryMore, so tests can exercise pagination deterministically.
func (f *Fake) SetPageSize(n int) { f.pageSize = n }

// RegisterObject adds (or replaces) the describeGlobal entry for an object.
func (f *Fake) RegisterObject(info ObjectInfo) {
	f.objects[info.Name] = info
}

// SetDescribe registers the describe() response for an object.
func (f *Fake) SetDescribe(object string, d *DescribeResult) {
	f.describes[object] = d
}

// Seed appends pre-existing records to an object's store, as if they already
// existed in the org (source data, or pre-seeded target data for upsert
// idempotence tests).
func (f *Fake) Seed(object string, records ...Record) {
	f.data[object] = append(f.data[object], records...)
}

// SetDownload registers the bytes DownloadFile returns for a given URL.
func (f *Fake) SetDownload(url string, data []byte) {
	f.downloads[url] = data
}

// SetAPIBudget sets the value RemainingAPICalls reports. Until it is called,
// RemainingAPICalls reports the budget as unavailable.
func (f *Fake) SetAPIBudget(remaining int) {
	v := remaining
	f.apiBudget = &v
}

// Records returns the live record set for an object, for test assertions.
func (f *Fake) Records(object string) []Record {
	return f.data[object]
}

func (f *Fake) DescribeGlobal(ctx context.Context) ([]ObjectInfo, error) {
	out := make([]ObjectInfo, 0, len(f.objects))
	for _, o := range f.objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (f *Fake) Describe(ctx context.Context, objectName string) (*DescribeResult, error) {
	d, ok := f.describes[objectName]
	if !ok {
		return nil, fmt.Errorf("conn/fake: no describe registered for %q", objectName)
	}
	return d, nil
}

func (f *Fake) Query(ctx context.Context, soql string) (*QueryResult, error) {
	object, where, limit, err := parseSOQL(soql)
	if err != nil {
		return nil, err
	}

	var matched []Record
	for _, rec := range f.data[object] {
		if matchWhere(rec, where) {
			matched = append(matched, rec)
		}
	}
	if limit >= 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	return f.paginate(matched), nil
}

func (f *Fake) QueryMore(ctx context.Context, nextRecordsURL string) (*QueryResult, error) {
	c, ok := f.cursors[nextRecordsURL]
	if !ok {
		return nil, fmt.Errorf("conn/fake: unknown cursor %q", nextRecordsURL)
	}
	end := c.offset + f.pageSize
	if end > len(c.records) {
		end = len(c.records)
	}
	page := c.records[c.offset:end]
	done := end >= len(c.records)
	result := &QueryResult{Records: page, Done: done, TotalSize: len(c.records)}
	if !done {
		result.NextRecordsURL = nextRecordsURL
		c.offset = end
	} else {
		delete(f.cursors, nextRecordsURL)
	}
	return result, nil
}

func (f *Fake) paginate(matched []Record) *QueryResult {
	if len(matched) <= f.pageSize {
		return &QueryResult{Records: matched, Done: true, TotalSize: len(matched)}
	}
	f.cursorSeq++
	token := fmt.Sprintf("cursor-%d", f.cursorSeq)
	f.cursors[token] = &cursor{records: matched, offset: f.pageSize}
	return &QueryResult{
		Records:        matched[:f.pageSize],
		Done:           false,
		NextRecordsURL: token,
		TotalSize:      len(matched),
	}
}

func (f *Fake) Create(ctx context.Context, objectName string, records []Record) ([]WriteResult, error) {
	if msg, fail := f.FailCreate[objectName]; fail {
		delete(f.FailCreate, objectName)
		return nil, fmt.Errorf("conn/fake: forced create failure for %s: %s", objectName, msg)
	}

	results := make([]WriteResult, len(records))
	prefix := f.objects[objectName].KeyPrefix
	if prefix == "" {
		prefix = "XXX"
	}
	for i, rec := range records {
		id := f.nextID(prefix)
		stored := rec.Clone()
		stored["Id"] = id
		f.data[objectName] = append(f.data[objectName], stored)
		results[i] = WriteResult{ID: id, Success: true, Created: true}
	}
	return results, nil
}

func (f *Fake) Update(ctx context.Context, objectName string, records []Record) ([]WriteResult, error) {
	results := make([]WriteResult, len(records))
	for i, rec := range records {
		id, _ := rec["Id"].(string)
		updated := false
		for _, stored := range f.data[objectName] {
			if fmt.Sprint(stored["Id"]) == id {
				for k, v := range rec {
					if k == "Id" {
						continue
					}
					stored[k] = v
				}
				updated = true
				break
			}
		}
		if updated {
			results[i] = WriteResult{ID: id, Success: true}
		} else {
			results[i] = WriteResult{Success: false, Errors: []WriteError{{StatusCode: "NOT_FOUND", Message: "record not found"}}}
		}
	}
	return results, nil
}

func (f *Fake) Upsert(ctx context.Context, objectName string, records []Record, externalIDField string) ([]WriteResult, error) {
	if msg, fail := f.FailUpsert[objectName]; fail {
		delete(f.FailUpsert, objectName)
		return nil, fmt.Errorf("conn/fake: forced upsert failure for %s: %s", objectName, msg)
	}

	prefix := f.objects[objectName].KeyPrefix
	if prefix == "" {
		prefix = "XXX"
	}

	results := make([]WriteResult, len(records))
	for i, rec := range records {
		extVal := rec[externalIDField]
		var existing Record
		for _, stored := range f.data[objectName] {
			if equalValue(stored[externalIDField], extVal) {
				existing = stored
				break
			}
		}
		if existing != nil {
			for k, v := range rec {
				existing[k] = v
			}
			results[i] = WriteResult{Success: true, Created: false}
			continue
		}
		id := f.nextID(prefix)
		stored := rec.Clone()
		stored["Id"] = id
		f.data[objectName] = append(f.data[objectName], stored)
		results[i] = WriteResult{ID: id, Success: true, Created: true}
	}
	return results, nil
}

func (f *Fake) InstanceURL() string { return "https://fake.my.crm.example" }
func (f *Fake) AccessToken() string { return "fake-token" }
func (f *Fake) APIVersion() string  { return "60.0" }

func (f *Fake) DownloadFile(ctx context.Context, url string) ([]byte, error) {
	data, ok := f.downloads[url]
	if !ok {
		return nil, fmt.Errorf("conn/fake: no download registered for %s", url)
	}
	return data, nil
}

func (f *Fake) RemainingAPICalls(ctx context.Context) (int, bool) {
	if f.apiBudget == nil {
		return 0, false
	}
	return *f.apiBudget, true
}

func (f *Fake) nextID(prefix string) string {
	f.idSeq[prefix]++
	return fmt.Sprintf("%s%015d", prefix, f.idSeq[prefix])
}

func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// parseSOQL extracts the FROM object, a flattened slice of AND-ed WHERE
// clauses, and the LIMIT (or -1 for none) from a query string produced by
// internal/soql. It is intentionally narrow: it only needs to understand the
// shapes this repo's SOQL Builder emits.
func parseSOQL(soql string) (object string, clauses []whereClause, limit int, err error) {
	limit = -1

	upper := strings.ToUpper(soql)
	fromIdx := strings.Index(upper, " FROM ")
	if fromIdx < 0 {
		return "", nil, -1, fmt.Errorf("conn/fake: malformed SOQL, no FROM: %s", soql)
	}

	rest := strings.TrimSpace(soql[fromIdx+len(" FROM "):])

	whereIdx := indexKeyword(rest, "WHERE")
	limitIdx := indexKeyword(rest, "LIMIT")

	objectEnd := len(rest)
	if whereIdx >= 0 {
		objectEnd = whereIdx
	} else if limitIdx >= 0 {
		objectEnd = limitIdx
	}
	object = strings.TrimSpace(rest[:objectEnd])

	whereStr := ""
	if whereIdx >= 0 {
		end := len(rest)
		if limitIdx > whereIdx {
			end = limitIdx
		}
		whereStr = strings.TrimSpace(rest[whereIdx+len("WHERE") : end])
	}

	if limitIdx >= 0 {
		limStr := strings.TrimSpace(rest[limitIdx+len("LIMIT"):])
		n, convErr := strconv.Atoi(strings.TrimSpace(limStr))
		if convErr == nil {
			limit = n
		}
	}

	clauses = splitAnd(whereStr)
	return object, clauses, limit, nil
}

func indexKeyword(s, kw string) int {
	upper := strings.ToUpper(s)
	target := " " + kw + " "
	idx := strings.Index(upper, target)
	if idx < 0 {
		if strings.HasPrefix(upper, kw+" ") {
			return 0
		}
		return -1
	}
	return idx + 1
}

type whereClause struct {
	field string
	op    string // "IN" or "="
	vals  []string
}

func splitAnd(s string) []whereClause {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := splitTopLevelAnd(s)
	clauses := make([]whereClause, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if c, ok := parseClause(p); ok {
			clauses = append(clauses, c)
		}
	}
	return clauses
}

func splitTopLevelAnd(s string) []string {
	var parts []string
	depth := 0
	inQuote := false
	last := 0
	upper := strings.ToUpper(s)
	i := 0
	for i < len(s) {
		switch s[i] {
		case '\'':
			if inQuote && i > 0 && s[i-1] == '\\' {
				// escaped quote, stay in quote
			} else {
				inQuote = !inQuote
			}
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		}
		if !inQuote && depth == 0 && i+5 <= len(upper) && upper[i:i+5] == " AND " {
			parts = append(parts, s[last:i])
			i += 5
			last = i
			continue
		}
		i++
	}
	parts = append(parts, s[last:])
	return parts
}

func parseClause(s string) (whereClause, bool) {
	if idx := findIN(s); idx >= 0 {
		field := strings.TrimSpace(s[:idx])
		rest := strings.TrimSpace(s[idx+len(" IN "):])
		rest = strings.TrimPrefix(rest, "(")
		rest = strings.TrimSuffix(rest, ")")
		vals := splitValues(rest)
		return whereClause{field: field, op: "IN", vals: vals}, true
	}
	if idx := strings.Index(s, "="); idx >= 0 {
		field := strings.TrimSpace(s[:idx])
		val := strings.TrimSpace(s[idx+1:])
		return whereClause{field: field, op: "=", vals: []string{val}}, true
	}
	return whereClause{}, false
}

func findIN(s string) int {
	upper := strings.ToUpper(s)
	idx := strings.Index(upper, " IN ")
	return idx
}

func splitValues(s string) []string {
	var vals []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\'':
			if inQuote && i > 0 && s[i-1] == '\\' {
				cur.WriteByte(c)
				continue
			}
			inQuote = !inQuote
		case ',':
			if !inQuote {
				vals = append(vals, strings.TrimSpace(cur.String()))
				cur.Reset()
				continue
			}
			cur.WriteByte(c)
		default:
			cur.WriteByte(c)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		vals = append(vals, strings.TrimSpace(cur.String()))
	}
	for i, v := range vals {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'") && len(v) >= 2 {
			v = v[1 : len(v)-1]
			v = strings.ReplaceAll(v, "\\'", "'")
		}
		vals[i] = v
	}
	return vals
}

func matchWhere(rec Record, clauses []whereClause) bool {
	for _, c := range clauses {
		val := rec[c.field]
		switch c.op {
		case "IN":
			found := false
			for _, v := range c.vals {
				if equalValue(val, v) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "=":
			want := c.vals[0]
			switch want {
			case "true":
				b, _ := val.(bool)
				if !b {
					return false
				}
			case "false":
				b, _ := val.(bool)
				if b {
					return false
				}
			case "null", "NULL":
				if val != nil {
					return false
				}
			default:
				cleaned := strings.Trim(want, "'")
				if !equalValue(val, cleaned) {
					return false
				}
			}
		}
	}
	return true
}
