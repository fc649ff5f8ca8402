// Package result holds the per-run outputs of the seeding pipeline:
// per-object counters, the file-transfer summary, and the error log. All
// of it lives for exactly one pipeline invocation.
package result

// Stage names used in error-log entries.
const (
	StageRemap         = "remap"
	StageInsert        = "insert"
	StageUpsert        = "upsert"
	StageSelfRefUpdate = "self-ref update"
	StageUpload        = "upload"
	StageLink          = "link"
)

// ObjectCounters is the per-object tally.
type ObjectCounters struct {
	Queried  int
	Inserted int
	Updated  int
	Failed   int
	Skipped  int
}

// ErrorEntry is one row of the error log.
type ErrorEntry struct {
	Object   string
	SourceID string // empty when not applicable
	Stage    string
	Message  string
}

// FileTransferSummary tallies the file sub-pipeline.
type FileTransferSummary struct {
	LinksFound       int
	VersionsFound    int
	VersionsUploaded int
	VersionsFailed   int
	LinksCreated     int
	LinksFailed      int
	TotalBytes       int64
	DryRun           bool
}

// SeedResults is the full per-run output.
type SeedResults struct {
	Objects map[string]*ObjectCounters
	Files   *FileTransferSummary
	Errors  []ErrorEntry

	// order preserves first-touched order for deterministic summary tables.
	order []string
}

// New creates an empty SeedResults.
func New() *SeedResults {
	return &SeedResults{
		Objects: make(map[string]*ObjectCounters),
	}
}

// For returns (creating if necessary) the counters for an object, in
// first-touched order.
func (r *SeedResults) For(object string) *ObjectCounters {
	if c, ok := r.Objects[object]; ok {
		return c
	}
	c := &ObjectCounters{}
	r.Objects[object] = c
	r.order = append(r.order, object)
	return c
}

// Order returns object names in first-touched order, for rendering.
func (r *SeedResults) Order() []string {
	return r.order
}

// AddError appends an entry to the error log.
func (r *SeedResults) AddError(object, sourceID, stage, message string) {
	r.Errors = append(r.Errors, ErrorEntry{
		Object:   object,
		SourceID: sourceID,
		Stage:    stage,
		Message:  message,
	})
}

