// Package conn defines the external connection boundary the seeding core is
// built against. The real implementation — authenticated SOQL queries,
// pagination, bulk create/update/upsert, and file downloads against a live
// org — is an external collaborator; this package only owns the
// interface shape and the dynamic record representation the rest of the core
// operates on.
package conn

import "context"

// Record is an untyped field-name to value mapping. Field sets differ per
// object and per org, so records are never a fixed struct. nil is a
// meaningful value (explicit null) and must be kept distinct from an absent
// key.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ObjectInfo is one row of a describeGlobal response.
type ObjectInfo struct {
	Name       string
	Label      string
	Queryable  bool
	Createable bool
	KeyPrefix  string
}

// FieldInfo is one field entry of a describe response.
type FieldInfo struct {
	Name             string
	Label            string
	Type             string // e.g. "string", "reference", "address", "location", "boolean", ...
	Writable         bool
	Nullable         bool
	IsExternalID     bool
	ReferenceTargets []string // possible target object names for reference fields
}

// ChildRelationshipInfo is one child-relationship entry of a describe response.
type ChildRelationshipInfo struct {
	ChildObject   string
	FieldName     string // FK field on the child object
	CascadeDelete bool
}

// DescribeResult is the full schema description of one object.
type DescribeResult struct {
	Fields             []FieldInfo
	ChildRelationships []ChildRelationshipInfo
}

// QueryResult is one page of query results.
type QueryResult struct {
	Records        []Record
	Done           bool
	NextRecordsURL string
	TotalSize      int
}

// WriteResult is one per-record outcome from create/update/upsert.
type WriteResult struct {
	ID      string
	Success bool
	Created bool // meaningful only for upsert
	Errors  []WriteError
}

// WriteError is one structured error entry attached to a WriteResult.
type WriteError struct {
	StatusCode string
	Message    string
	Fields     []string
}

// Connection is the boundary the core pipeline is built against.
// A production implementation performs authenticated HTTP against a CRM org;
// this package ships only the interface plus an in-memory Fake for tests.
type Connection interface {
	DescribeGlobal(ctx context.Context) ([]ObjectInfo, error)
	Describe(ctx context.Context, objectName string) (*DescribeResult, error)
	Query(ctx context.Context, soql string) (*QueryResult, error)
	QueryMore(ctx context.Context, nextRecordsURL string) (*QueryResult, error)
	Create(ctx context.Context, objectName string, records []Record) ([]WriteResult, error)
	Update(ctx context.Context, objectName string, records []Record) ([]WriteResult, error)
	Upsert(ctx context.Context, objectName string, records []Record, externalIDField string) ([]WriteResult, error)

	InstanceURL() string
	AccessToken() string
	APIVersion() string

	// DownloadFile retrieves the binary content at a versioned-data URL
	// using the connection's bearer token, following redirects.
	DownloadFile(ctx context.Context, url string) ([]byte, error)

	// RemainingAPICalls reports the connection's self-reported remaining
	// daily API call budget, or (0, false) if the collaborator does not
	// expose one. Consumed by internal/budget.
	RemainingAPICalls(ctx context.Context) (int, bool)
}
