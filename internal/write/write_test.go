package write

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/logio"
	"github.com/seedbuddy/crmseed/internal/registry"
	"github.com/seedbuddy/crmseed/internal/result"
)

func newTarget() *conn.Fake {
	f := conn.NewFake()
	f.RegisterObject(conn.ObjectInfo{Name: "Account", Label: "Account", Queryable: true, Createable: true, KeyPrefix: "001"})
	f.SetDescribe("Account", &conn.DescribeResult{})
	return f
}

func TestBatchInsert_Success(t *testing.T) {
	target := newTarget()
	reg := registry.New()
	res := result.New()

	records := []conn.Record{{"Name": "Acme"}, {"Name": "Globex"}}
	sourceIDs := []string{"001A", "001B"}

	out, err := BatchInsert(context.Background(), target, logio.NewDefault(), "Account", records, sourceIDs, reg, res, false)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Inserted)
	assert.Equal(t, 0, out.Failed)
	assert.Equal(t, 2, reg.Count("Account"))

	tid, ok := reg.Get("Account", "001A")
	require.True(t, ok)
	assert.NotEmpty(t, tid)
}

func TestBatchInsert_DryRun_NoWritesNoRegistryEntries(t *testing.T) {
	target := newTarget()
	reg := registry.New()
	res := result.New()

	records := []conn.Record{{"Name": "Acme"}, {"Name": "Globex"}}
	sourceIDs := []string{"001A", "001B"}

	out, err := BatchInsert(context.Background(), target, logio.NewDefault(), "Account", records, sourceIDs, reg, res, true)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Inserted)
	assert.Equal(t, 0, out.Failed)
	assert.Equal(t, 0, reg.Count("Account"))
	assert.Empty(t, target.Records("Account"))
}

func TestBatchInsert_PerRecordFailure(t *testing.T) {
	target := newTarget()
	reg := registry.New()
	res := result.New()

	// Exercise the per-record failure-counting path via a stub connection
	// whose Create rejects every record.
	failing := &rejectAllConnection{Fake: target}

	out, err := BatchInsert(context.Background(), failing, logio.NewDefault(), "Account",
		[]conn.Record{{"Name": "Bad"}}, []string{"001A"}, reg, res, false)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Inserted)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, result.StageInsert, res.Errors[0].Stage)
	assert.Equal(t, "001A", res.Errors[0].SourceID)
	assert.Contains(t, res.Errors[0].Message, "DUPLICATE_VALUE")
}

func TestBatchInsert_SplitsAtBatchSize(t *testing.T) {
	target := newTarget()
	reg := registry.New()
	res := result.New()

	n := BatchSize + 25
	records := make([]conn.Record, n)
	sourceIDs := make([]string, n)
	for i := range records {
		records[i] = conn.Record{"Name": fmt.Sprintf("Acc%d", i)}
		sourceIDs[i] = fmt.Sprintf("001%012d", i)
	}

	out, err := BatchInsert(context.Background(), target, logio.NewDefault(), "Account", records, sourceIDs, reg, res, false)
	require.NoError(t, err)
	assert.Equal(t, n, out.Inserted)
	assert.Equal(t, n, reg.Count("Account"))
}

func TestBatchInsert_LengthMismatch(t *testing.T) {
	target := newTarget()
	_, err := BatchInsert(context.Background(), target, logio.NewDefault(), "Account",
		[]conn.Record{{"Name": "X"}}, []string{"a", "b"}, registry.New(), result.New(), false)
	assert.Error(t, err)
}

func TestBatchUpsert_DistinguishesCreateFromUpdate(t *testing.T) {
	target := newTarget()
	// Pre-existing target record with an external id the source will match.
	target.Seed("Account", conn.Record{"Id": "001EXIST", "External_Id__c": "SRC-1", "Name": "Existing"})

	reg := registry.New()
	res := result.New()

	records := []conn.Record{
		{"External_Id__c": "SRC-1", "Name": "Updated Name"}, // matches existing -> update
		{"External_Id__c": "SRC-2", "Name": "New Co"},       // no match -> create
	}
	sourceIDs := []string{"001A", "001B"}

	out, err := BatchUpsert(context.Background(), target, logio.NewDefault(), "Account", records, sourceIDs, "External_Id__c", reg, res, false)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 0, out.Failed)

	tid, ok := reg.Get("Account", "001A")
	require.True(t, ok)
	assert.Equal(t, "001EXIST", tid)

	_, ok = reg.Get("Account", "001B")
	assert.True(t, ok)
}

func TestBatchUpsert_Idempotent_SecondRunUpdatesOnly(t *testing.T) {
	target := newTarget()
	reg := registry.New()
	res := result.New()

	records := []conn.Record{{"External_Id__c": "SRC-1", "Name": "Acme"}}
	sourceIDs := []string{"001A"}

	out1, err := BatchUpsert(context.Background(), target, logio.NewDefault(), "Account", records, sourceIDs, "External_Id__c", reg, res, false)
	require.NoError(t, err)
	assert.Equal(t, 1, out1.Inserted)
	assert.Equal(t, 0, out1.Updated)
	firstTarget, _ := reg.Get("Account", "001A")

	// Second run against a fresh registry but the same (already-seeded) target.
	reg2 := registry.New()
	res2 := result.New()
	out2, err := BatchUpsert(context.Background(), target, logio.NewDefault(), "Account", records, sourceIDs, "External_Id__c", reg2, res2, false)
	require.NoError(t, err)
	assert.Equal(t, 0, out2.Inserted)
	assert.Equal(t, 1, out2.Updated)

	secondTarget, ok := reg2.Get("Account", "001A")
	require.True(t, ok)
	assert.Equal(t, firstTarget, secondTarget)
}

func TestBatchUpsert_DryRun(t *testing.T) {
	target := newTarget()
	reg := registry.New()
	res := result.New()

	out, err := BatchUpsert(context.Background(), target, logio.NewDefault(), "Account",
		[]conn.Record{{"External_Id__c": "SRC-1"}}, []string{"001A"}, "External_Id__c", reg, res, true)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Inserted)
	assert.Equal(t, 0, reg.Count("Account"))
}

func TestBatchUpdate_Success(t *testing.T) {
	target := newTarget()
	existing, err := target.Create(context.Background(), "Account", []conn.Record{{"Name": "Parent"}})
	require.NoError(t, err)
	id := existing[0].ID

	res := result.New()
	updated, failed, err := BatchUpdate(context.Background(), target, "Account",
		[]conn.Record{{"Id": id, "ParentId": "001OTHER"}}, []string{"001A"}, result.StageSelfRefUpdate, res, false)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 0, failed)
}

func TestBatchUpdate_MissingRecordFails(t *testing.T) {
	target := newTarget()
	res := result.New()
	updated, failed, err := BatchUpdate(context.Background(), target, "Account",
		[]conn.Record{{"Id": "001DOESNOTEXIST"}}, []string{"001A"}, result.StageSelfRefUpdate, res, false)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 1, failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, result.StageSelfRefUpdate, res.Errors[0].Stage)
}

func TestFormatWriteErrors(t *testing.T) {
	assert.Equal(t, "Unknown error", formatWriteErrors(nil))
	got := formatWriteErrors([]conn.WriteError{{StatusCode: "REQUIRED_FIELD_MISSING", Message: "missing field", Fields: []string{"Name", "AccountId"}}})
	assert.Equal(t, "REQUIRED_FIELD_MISSING: missing field [Name, AccountId]", got)
}

// rejectAllConnection wraps conn.Fake and rejects every Create call, used to
// exercise the per-record failure path.
type rejectAllConnection struct {
	*conn.Fake
}

func (r *rejectAllConnection) Create(ctx context.Context, objectName string, records []conn.Record) ([]conn.WriteResult, error) {
	out := make([]conn.WriteResult, len(records))
	for i := range records {
		out[i] = conn.WriteResult{
			Success: false,
			Errors:  []conn.WriteError{{StatusCode: "DUPLICATE_VALUE", Message: "duplicate external id"}},
		}
	}
	return out, nil
}
