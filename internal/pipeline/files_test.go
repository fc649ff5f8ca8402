package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/logio"
	"github.com/seedbuddy/crmseed/internal/write"
)

// uploadingFake wraps conn.Fake and patches ContentDocumentId onto a newly
// created ContentVersion, mimicking the platform behavior of implicitly
// creating a fresh ContentDocument on version upload — something the fake's
// generic Create cannot know to do without object-specific awareness.
type uploadingFake struct {
	*conn.Fake
	docSeq int
}

func (u *uploadingFake) Create(ctx context.Context, objectName string, records []conn.Record) ([]conn.WriteResult, error) {
	results, err := u.Fake.Create(ctx, objectName, records)
	if err != nil || objectName != contentVersionObject {
		return results, err
	}
	stored := u.Fake.Records(objectName)
	for _, wr := range results {
		if !wr.Success {
			continue
		}
		u.docSeq++
		newDocID := fmt.Sprintf("069%015d", u.docSeq)
		for _, rec := range stored {
			if rec["Id"] == wr.ID {
				rec["ContentDocumentId"] = newDocID
			}
		}
	}
	return results, nil
}

func newFileOrgs() (source *conn.Fake, target *uploadingFake) {
	source, rawTarget := newOrgs()
	target = &uploadingFake{Fake: rawTarget}

	for _, f := range []*conn.Fake{source, rawTarget} {
		f.RegisterObject(conn.ObjectInfo{Name: contentLinkObject, Label: "ContentDocumentLink", Queryable: true, Createable: true, KeyPrefix: "06A"})
		f.RegisterObject(conn.ObjectInfo{Name: contentVersionObject, Label: "ContentVersion", Queryable: true, Createable: true, KeyPrefix: "068"})
		f.SetDescribe(contentLinkObject, &conn.DescribeResult{
			Fields: []conn.FieldInfo{
				{Name: "Id", Type: "id"},
				{Name: "ContentDocumentId", Type: "reference", Writable: true},
				{Name: "LinkedEntityId", Type: "reference", Writable: true},
				{Name: "ShareType", Type: "string", Writable: true},
				{Name: "Visibility", Type: "string", Writable: true},
			},
		})
		f.SetDescribe(contentVersionObject, &conn.DescribeResult{
			Fields: []conn.FieldInfo{
				{Name: "Id", Type: "id"},
				{Name: "ContentDocumentId", Type: "reference", Writable: false},
				{Name: "Title", Type: "string", Writable: true},
				{Name: "PathOnClient", Type: "string", Writable: true},
				{Name: "FileExtension", Type: "string", Writable: false},
				{Name: "ContentSize", Type: "int", Writable: false},
				{Name: "Description", Type: "string", Writable: true},
				{Name: "VersionData", Type: "base64", Writable: true},
			},
		})
	}
	return source, target
}

func TestStage6Files_NoOpWhenNoRegistryEntries(t *testing.T) {
	source, target := newFileOrgs()
	p := New(source, target, logio.NewDefault())
	err := p.stage6Files(context.Background(), &SeedPlan{})
	require.NoError(t, err)
	assert.Nil(t, p.Results.Files)
}

func TestStage6Files_NoOpWhenNoLinksFound(t *testing.T) {
	source, target := newFileOrgs()
	p := New(source, target, logio.NewDefault())
	p.Registry.Set("Account", "001A", "001X")

	err := p.stage6Files(context.Background(), &SeedPlan{})
	require.NoError(t, err)
	require.NotNil(t, p.Results.Files)
	assert.Equal(t, 0, p.Results.Files.LinksFound)
}

func TestStage6Files_DryRun_CountsBytesNoWrites(t *testing.T) {
	source, target := newFileOrgs()
	source.Seed(contentLinkObject, conn.Record{"Id": "06AA", "ContentDocumentId": "069A", "LinkedEntityId": "001A"})
	source.Seed(contentVersionObject, conn.Record{
		"Id": "068A", "ContentDocumentId": "069A", "Title": "Quote",
		"PathOnClient": "quote.pdf", "FileExtension": "pdf", "ContentSize": int64(4096),
		"IsLatestVersion": true,
	})

	p := New(source, target, logio.NewDefault())
	p.Registry.Set("Account", "001A", "001X")

	err := p.stage6Files(context.Background(), &SeedPlan{DryRun: true})
	require.NoError(t, err)

	require.NotNil(t, p.Results.Files)
	assert.Equal(t, 1, p.Results.Files.LinksFound)
	assert.Equal(t, 1, p.Results.Files.VersionsFound)
	assert.Equal(t, int64(4096), p.Results.Files.TotalBytes)
	assert.Equal(t, 0, p.Results.Files.VersionsUploaded)
	assert.Empty(t, target.Records(contentVersionObject))
	assert.Empty(t, target.Records(contentLinkObject))
}

func TestStage6Files_UploadsVersionAndRecreatesLink(t *testing.T) {
	source, target := newFileOrgs()
	source.Seed(contentLinkObject, conn.Record{"Id": "06AA", "ContentDocumentId": "069A", "LinkedEntityId": "001A"})
	source.Seed(contentVersionObject, conn.Record{
		"Id": "068A", "ContentDocumentId": "069A", "Title": "Quote",
		"PathOnClient": "quote.pdf", "FileExtension": "pdf", "ContentSize": int64(10),
		"IsLatestVersion": true,
	})
	source.SetDownload(
		fmt.Sprintf("%s/services/data/v%s/sobjects/%s/%s/VersionData", source.InstanceURL(), source.APIVersion(), contentVersionObject, "068A"),
		[]byte("0123456789"),
	)

	p := New(source, target, logio.NewDefault())
	p.Registry.Set("Account", "001A", "001X")

	err := p.stage6Files(context.Background(), &SeedPlan{})
	require.NoError(t, err)

	require.NotNil(t, p.Results.Files)
	assert.Equal(t, 1, p.Results.Files.VersionsUploaded)
	assert.Equal(t, 0, p.Results.Files.VersionsFailed)
	assert.Equal(t, 1, p.Results.Files.LinksCreated)
	assert.Equal(t, 0, p.Results.Files.LinksFailed)

	versions := target.Records(contentVersionObject)
	require.Len(t, versions, 1)
	assert.Equal(t, "Quote", versions[0]["Title"])

	links := target.Records(contentLinkObject)
	require.Len(t, links, 1)
	assert.Equal(t, "001X", links[0]["LinkedEntityId"])
	assert.Equal(t, versions[0]["ContentDocumentId"], links[0]["ContentDocumentId"])
}

func TestStage6Files_LinkSkippedWhenVersionUploadFails(t *testing.T) {
	source, target := newFileOrgs()
	// A failed version upload leaves no doc mapping entry, which must also
	// suppress link creation for that document.
	source.Seed(contentLinkObject, conn.Record{"Id": "06AA", "ContentDocumentId": "069A", "LinkedEntityId": "001A"})
	source.Seed(contentVersionObject, conn.Record{
		"Id": "068A", "ContentDocumentId": "069A", "Title": "Quote",
		"PathOnClient": "quote.pdf", "FileExtension": "pdf", "ContentSize": int64(10),
		"IsLatestVersion": true,
	})
	// No download registered for 068A: uploadVersion fails at the download step.

	p := New(source, target, logio.NewDefault())
	p.Registry.Set("Account", "001A", "001X")

	err := p.stage6Files(context.Background(), &SeedPlan{})
	require.NoError(t, err)

	require.NotNil(t, p.Results.Files)
	assert.Equal(t, 1, p.Results.Files.VersionsFailed)
	assert.Equal(t, 0, p.Results.Files.LinksCreated)
	require.Len(t, p.Results.Errors, 1)
	assert.Equal(t, "ContentVersion", p.Results.Errors[0].Object)
}

func TestDistinctDocIDs_Dedupes(t *testing.T) {
	got := distinctDocIDs([]linkRow{
		{ContentDocumentID: "069A", LinkedEntityID: "001A"},
		{ContentDocumentID: "069A", LinkedEntityID: "001B"},
		{ContentDocumentID: "069B", LinkedEntityID: "001C"},
	})
	assert.Equal(t, []string{"069A", "069B"}, got)
}

func TestFormatFileErrors(t *testing.T) {
	assert.Equal(t, "Unknown error", write.FormatWriteErrors(nil))
	assert.Equal(t, "Unknown error", write.FormatWriteErrors([]conn.WriteError{{Message: ""}}))
	assert.Equal(t, ": boom", write.FormatWriteErrors([]conn.WriteError{{Message: "boom"}}))
}
