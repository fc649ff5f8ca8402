package soql

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedbuddy/crmseed/internal/conn"
)

func TestEscapeLiteral(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"O'Brien", `O\'Brien`},
		{"plain", "plain"},
		{`back\slash`, `back\\slash`},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapeLiteral(tt.in))
	}
}

func TestBuildProjection_DedupesAndIncludesId(t *testing.T) {
	got := BuildProjection([]string{"Name", "Id", "Name", "AccountId"}, "Email", "AccountId")
	assert.Equal(t, "Id, Name, AccountId, Email", got)
}

func TestBuildProjection_AlwaysIncludesId(t *testing.T) {
	got := BuildProjection(nil)
	assert.Equal(t, "Id", got)
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name                   string
		projection, object, wh string
		limit                  int
		want                   string
	}{
		{"no where no limit", "Id, Name", "Account", "", AllRecords, "SELECT Id, Name FROM Account"},
		{"where only", "Id", "Account", "Name = 'x'", AllRecords, "SELECT Id FROM Account WHERE Name = 'x'"},
		{"limit only", "Id", "Account", "", 10, "SELECT Id FROM Account LIMIT 10"},
		{"where and limit", "Id", "Account", "Id IN ('a')", 5, "SELECT Id FROM Account WHERE Id IN ('a') LIMIT 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.projection, tt.object, tt.wh, tt.limit))
		})
	}
}

func TestInClause(t *testing.T) {
	assert.Equal(t, "('a', 'b')", InClause([]string{"a", "b"}))
	assert.Equal(t, "('O\\'Brien')", InClause([]string{"O'Brien"}))
	assert.Equal(t, "()", InClause(nil))
}

func newOrg() *conn.Fake {
	f := conn.NewFake()
	f.RegisterObject(conn.ObjectInfo{Name: "Account", Label: "Account", Queryable: true, Createable: true, KeyPrefix: "001"})
	return f
}

func TestQueryAll_FollowsPagination(t *testing.T) {
	f := newOrg()
	f.SetPageSize(2)
	for i := 0; i < 5; i++ {
		f.Seed("Account", conn.Record{"Id": fmt.Sprintf("001%012d", i), "Name": fmt.Sprintf("Acc%d", i)})
	}

	query := BuildQuery(BuildProjection([]string{"Name"}), "Account", "", AllRecords)
	records, err := QueryAll(context.Background(), f, query)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestQueryAll_Empty(t *testing.T) {
	f := newOrg()
	query := BuildQuery(BuildProjection([]string{"Name"}), "Account", "", AllRecords)
	records, err := QueryAll(context.Background(), f, query)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestQueryAllChunked_SplitsAtChunkSize(t *testing.T) {
	f := newOrg()
	var ids []string
	for i := 0; i < ChunkSize+50; i++ {
		id := fmt.Sprintf("001%012d", i)
		ids = append(ids, id)
		f.Seed("Account", conn.Record{"Id": id, "Name": "x"})
	}

	var chunkCalls int
	records, err := QueryAllChunked(context.Background(), f, ids, func(chunk []string) string {
		chunkCalls++
		assert.LessOrEqual(t, len(chunk), ChunkSize)
		where := "Id IN " + InClause(chunk)
		return BuildQuery(BuildProjection([]string{"Name"}), "Account", where, AllRecords)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, chunkCalls) // 200 + 50 split across two IN-clauses
	assert.Len(t, records, ChunkSize+50)
}

func TestQueryAllChunked_EmptyValues(t *testing.T) {
	f := newOrg()
	records, err := QueryAllChunked(context.Background(), f, nil, func(chunk []string) string {
		t.Fatal("buildSoqlForChunk should not be called for empty values")
		return ""
	})
	require.NoError(t, err)
	assert.Nil(t, records)
}
