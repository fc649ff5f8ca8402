package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/seedbuddy/crmseed/internal/conn"
	"github.com/seedbuddy/crmseed/internal/result"
	"github.com/seedbuddy/crmseed/internal/soql"
	"github.com/seedbuddy/crmseed/internal/write"
)

// contentLinkObject and contentVersionObject are the platform's file
// attachment join objects.
const (
	contentLinkObject    = "ContentDocumentLink"
	contentVersionObject = "ContentVersion"
)

type linkRow struct {
	ContentDocumentID string
	LinkedEntityID    string
}

type versionRow struct {
	ID                string
	ContentDocumentID string
	Title             string
	PathOnClient      string
	FileExtension     string
	ContentSize       int64
	Description       string
}

// stage6Files transfers files: discover links and their latest versions
// for every record the run has registered, download and re-upload each
// distinct file, and recreate the links in the target.
func (p *Pipeline) stage6Files(ctx context.Context, plan *SeedPlan) error {
	allSourceIDs := p.Registry.AllSourceIDsAcrossRegistry()
	if len(allSourceIDs) == 0 {
		return nil
	}

	summary := &result.FileTransferSummary{DryRun: plan.DryRun}
	p.Results.Files = summary

	links, err := p.queryLinks(ctx, allSourceIDs)
	if err != nil {
		return fmt.Errorf("pipeline: query %s: %w", contentLinkObject, err)
	}
	summary.LinksFound = len(links)
	if len(links) == 0 {
		return nil
	}

	docIDs := distinctDocIDs(links)
	versions, err := p.queryLatestVersions(ctx, docIDs)
	if err != nil {
		return fmt.Errorf("pipeline: query %s: %w", contentVersionObject, err)
	}
	summary.VersionsFound = len(versions)

	if plan.DryRun {
		for _, v := range versions {
			summary.TotalBytes += v.ContentSize
		}
		return nil
	}

	docMapping := make(map[string]string, len(versions)) // source ContentDocumentId -> target ContentDocumentId
	for _, v := range versions {
		if plan.abort() {
			return nil
		}
		targetDocID, err := p.uploadVersion(ctx, v)
		if err != nil {
			summary.VersionsFailed++
			p.Results.AddError(contentVersionObject, v.ID, result.StageUpload, err.Error())
			continue
		}
		summary.VersionsUploaded++
		summary.TotalBytes += v.ContentSize
		docMapping[v.ContentDocumentID] = targetDocID
	}

	var linkRecords []conn.Record
	var linkSourceIDs []string
	for _, l := range links {
		targetDocID, hasDoc := docMapping[l.ContentDocumentID]
		targetEntityID, _, hasEntity := p.Registry.Lookup(l.LinkedEntityID)
		if !hasDoc || !hasEntity {
			continue
		}
		linkRecords = append(linkRecords, conn.Record{
			"ContentDocumentId": targetDocID,
			"LinkedEntityId":    targetEntityID,
			"ShareType":         "V",
			"Visibility":        "AllUsers",
		})
		linkSourceIDs = append(linkSourceIDs, l.LinkedEntityID+":"+l.ContentDocumentID)
	}

	if len(linkRecords) == 0 {
		return nil
	}

	for start := 0; start < len(linkRecords); start += 200 {
		end := start + 200
		if end > len(linkRecords) {
			end = len(linkRecords)
		}
		results, err := p.Target.Create(ctx, contentLinkObject, linkRecords[start:end])
		if err != nil {
			return fmt.Errorf("pipeline: create %s batch: %w", contentLinkObject, err)
		}
		for j, wr := range results {
			if wr.Success {
				summary.LinksCreated++
			} else {
				summary.LinksFailed++
				p.Results.AddError(contentLinkObject, linkSourceIDs[start+j], result.StageLink, write.FormatWriteErrors(wr.Errors))
			}
		}
	}

	return nil
}

func (p *Pipeline) queryLinks(ctx context.Context, sourceIDs []string) ([]linkRow, error) {
	projection := soql.BuildProjection([]string{"ContentDocumentId", "LinkedEntityId"})
	records, err := soql.QueryAllChunked(ctx, p.Source, sourceIDs, func(chunk []string) string {
		return soql.BuildQuery(projection, contentLinkObject, "LinkedEntityId IN "+soql.InClause(chunk), soql.AllRecords)
	})
	if err != nil {
		return nil, err
	}
	out := make([]linkRow, 0, len(records))
	for _, r := range records {
		out = append(out, linkRow{
			ContentDocumentID: fmt.Sprint(r["ContentDocumentId"]),
			LinkedEntityID:    fmt.Sprint(r["LinkedEntityId"]),
		})
	}
	return out, nil
}

// stringField reads a string-valued field, mapping null (or absent) to "".
func stringField(r conn.Record, field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func distinctDocIDs(links []linkRow) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range links {
		if !seen[l.ContentDocumentID] {
			seen[l.ContentDocumentID] = true
			out = append(out, l.ContentDocumentID)
		}
	}
	return out
}

func (p *Pipeline) queryLatestVersions(ctx context.Context, docIDs []string) ([]versionRow, error) {
	fields := []string{"ContentDocumentId", "Title", "PathOnClient", "FileExtension", "ContentSize", "Description"}
	projection := soql.BuildProjection(fields)
	records, err := soql.QueryAllChunked(ctx, p.Source, docIDs, func(chunk []string) string {
		where := "ContentDocumentId IN " + soql.InClause(chunk) + " AND IsLatestVersion = true"
		return soql.BuildQuery(projection, contentVersionObject, where, soql.AllRecords)
	})
	if err != nil {
		return nil, err
	}
	out := make([]versionRow, 0, len(records))
	for _, r := range records {
		size, _ := r["ContentSize"].(int64)
		if size == 0 {
			if f, ok := r["ContentSize"].(float64); ok {
				size = int64(f)
			}
		}
		out = append(out, versionRow{
			ID:                fmt.Sprint(r["Id"]),
			ContentDocumentID: fmt.Sprint(r["ContentDocumentId"]),
			Title:             stringField(r, "Title"),
			PathOnClient:      stringField(r, "PathOnClient"),
			FileExtension:     stringField(r, "FileExtension"),
			ContentSize:       size,
			Description:       stringField(r, "Description"),
		})
	}
	return out, nil
}

// uploadVersion downloads the source version's binary content, re-uploads
// it as a new ContentVersion in the target (which implicitly creates a new
// ContentDocument), and queries back the new document's id.
func (p *Pipeline) uploadVersion(ctx context.Context, v versionRow) (targetDocID string, err error) {
	url := fmt.Sprintf("%s/services/data/v%s/sobjects/%s/%s/VersionData",
		p.Source.InstanceURL(), p.Source.APIVersion(), contentVersionObject, v.ID)

	data, err := p.Source.DownloadFile(ctx, url)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	results, err := p.Target.Create(ctx, contentVersionObject, []conn.Record{{
		"Title":        v.Title,
		"PathOnClient": v.PathOnClient,
		"VersionData":  encoded,
		"Description":  v.Description,
	}})
	if err != nil {
		return "", fmt.Errorf("version create failed: %w", err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("version create failed: empty result")
	}
	if !results[0].Success || results[0].ID == "" {
		return "", fmt.Errorf("version create failed: %s", write.FormatWriteErrors(results[0].Errors))
	}

	newVersionID := results[0].ID
	projection := soql.BuildProjection([]string{"ContentDocumentId"})
	query := soql.BuildQuery(projection, contentVersionObject, "Id = '"+soql.EscapeLiteral(newVersionID)+"'", 1)
	rows, err := soql.QueryAll(ctx, p.Target, query)
	if err != nil || len(rows) == 0 {
		return "", fmt.Errorf("failed to resolve new ContentDocumentId: %v", err)
	}
	return fmt.Sprint(rows[0]["ContentDocumentId"]), nil
}
