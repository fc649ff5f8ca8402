// Package httpconn is a thin conn.Connection implementation over a CRM
// org's REST API. It shows the shape a real implementation takes — bearer
// auth, JSON request/response bodies, composite describe/query/create calls
// — without claiming production hardening: retries, rate-limit backoff, and
// exhaustive pagination edge cases are left to a production connection
// library.
package httpconn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seedbuddy/crmseed/internal/conn"
)

// Config is the minimal set of values needed to address and authenticate
// against one org.
type Config struct {
	InstanceURL string
	APIVersion  string
	AccessToken string
}

// Client is a conn.Connection backed by net/http.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// New returns a Client for the given org configuration.
func New(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

var _ conn.Connection = (*Client)(nil)

func (c *Client) InstanceURL() string { return c.cfg.InstanceURL }
func (c *Client) AccessToken() string { return c.cfg.AccessToken }
func (c *Client) APIVersion() string  { return c.cfg.APIVersion }

func (c *Client) baseURL() string {
	return fmt.Sprintf("%s/services/data/v%s", c.cfg.InstanceURL, c.cfg.APIVersion)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpconn: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("httpconn: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("httpconn: %s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("httpconn: decode response: %w", err)
	}
	return nil
}

type describeGlobalResponse struct {
	Sobjects []struct {
		Name       string `json:"name"`
		Label      string `json:"label"`
		Queryable  bool   `json:"queryable"`
		Createable bool   `json:"createable"`
		KeyPrefix  string `json:"keyPrefix"`
	} `json:"sobjects"`
}

func (c *Client) DescribeGlobal(ctx context.Context) ([]conn.ObjectInfo, error) {
	var resp describeGlobalResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL()+"/sobjects", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]conn.ObjectInfo, 0, len(resp.Sobjects))
	for _, o := range resp.Sobjects {
		out = append(out, conn.ObjectInfo{
			Name:       o.Name,
			Label:      o.Label,
			Queryable:  o.Queryable,
			Createable: o.Createable,
			KeyPrefix:  o.KeyPrefix,
		})
	}
	return out, nil
}

type describeResponse struct {
	Fields []struct {
		Name             string   `json:"name"`
		Label            string   `json:"label"`
		Type             string   `json:"type"`
		Updateable       bool     `json:"updateable"`
		Nillable         bool     `json:"nillable"`
		ExternalID       bool     `json:"externalId"`
		ReferenceTo      []string `json:"referenceTo"`
	} `json:"fields"`
	ChildRelationships []struct {
		ChildSObject  string `json:"childSObject"`
		Field         string `json:"field"`
		CascadeDelete bool   `json:"cascadeDelete"`
	} `json:"childRelationships"`
}

func (c *Client) Describe(ctx context.Context, objectName string) (*conn.DescribeResult, error) {
	var resp describeResponse
	path := fmt.Sprintf("%s/sobjects/%s/describe", c.baseURL(), objectName)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	result := &conn.DescribeResult{}
	for _, f := range resp.Fields {
		result.Fields = append(result.Fields, conn.FieldInfo{
			Name:             f.Name,
			Label:            f.Label,
			Type:             f.Type,
			Writable:         f.Updateable,
			Nullable:         f.Nillable,
			IsExternalID:     f.ExternalID,
			ReferenceTargets: f.ReferenceTo,
		})
	}
	for _, r := range resp.ChildRelationships {
		if r.ChildSObject == "" || r.Field == "" {
			continue
		}
		result.ChildRelationships = append(result.ChildRelationships, conn.ChildRelationshipInfo{
			ChildObject:   r.ChildSObject,
			FieldName:     r.Field,
			CascadeDelete: r.CascadeDelete,
		})
	}
	return result, nil
}

type queryResponse struct {
	Records        []conn.Record `json:"records"`
	Done           bool          `json:"done"`
	NextRecordsURL string        `json:"nextRecordsUrl"`
	TotalSize      int           `json:"totalSize"`
}

func (c *Client) Query(ctx context.Context, soql string) (*conn.QueryResult, error) {
	path := c.baseURL() + "/query?q=" + url.QueryEscape(soql)
	return c.runQuery(ctx, path)
}

func (c *Client) QueryMore(ctx context.Context, nextRecordsURL string) (*conn.QueryResult, error) {
	path := c.cfg.InstanceURL + nextRecordsURL
	return c.runQuery(ctx, path)
}

func (c *Client) runQuery(ctx context.Context, path string) (*conn.QueryResult, error) {
	var resp queryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &conn.QueryResult{
		Records:        resp.Records,
		Done:           resp.Done,
		NextRecordsURL: resp.NextRecordsURL,
		TotalSize:      resp.TotalSize,
	}, nil
}

// compositeRequest/compositeResult mirror the platform's composite sobject
// collections API, batching up to 200 records per call.
type compositeRequest struct {
	AllOrNone bool          `json:"allOrNone"`
	Records   []conn.Record `json:"records"`
}

type compositeResultRow struct {
	ID      string              `json:"id"`
	Success bool                `json:"success"`
	Created bool                `json:"created"`
	Errors  []compositeRowError `json:"errors"`
}

type compositeRowError struct {
	StatusCode string   `json:"statusCode"`
	Message    string   `json:"message"`
	Fields     []string `json:"fields"`
}

func toWriteResults(rows []compositeResultRow) []conn.WriteResult {
	out := make([]conn.WriteResult, 0, len(rows))
	for _, r := range rows {
		wr := conn.WriteResult{ID: r.ID, Success: r.Success, Created: r.Created}
		for _, e := range r.Errors {
			wr.Errors = append(wr.Errors, conn.WriteError{StatusCode: e.StatusCode, Message: e.Message, Fields: e.Fields})
		}
		out = append(out, wr)
	}
	return out
}

func (c *Client) Create(ctx context.Context, objectName string, records []conn.Record) ([]conn.WriteResult, error) {
	tagged := make([]conn.Record, len(records))
	for i, r := range records {
		tr := r.Clone()
		tr["attributes"] = map[string]string{"type": objectName}
		tagged[i] = tr
	}
	body, err := json.Marshal(compositeRequest{AllOrNone: false, Records: tagged})
	if err != nil {
		return nil, err
	}
	var rows []compositeResultRow
	if err := c.do(ctx, http.MethodPost, c.baseURL()+"/composite/sobjects", bytes.NewReader(body), &rows); err != nil {
		return nil, err
	}
	return toWriteResults(rows), nil
}

func (c *Client) Update(ctx context.Context, objectName string, records []conn.Record) ([]conn.WriteResult, error) {
	tagged := make([]conn.Record, len(records))
	for i, r := range records {
		tr := r.Clone()
		tr["attributes"] = map[string]string{"type": objectName}
		tagged[i] = tr
	}
	body, err := json.Marshal(compositeRequest{AllOrNone: false, Records: tagged})
	if err != nil {
		return nil, err
	}
	var rows []compositeResultRow
	if err := c.do(ctx, http.MethodPatch, c.baseURL()+"/composite/sobjects", bytes.NewReader(body), &rows); err != nil {
		return nil, err
	}
	return toWriteResults(rows), nil
}

func (c *Client) Upsert(ctx context.Context, objectName string, records []conn.Record, externalIDField string) ([]conn.WriteResult, error) {
	tagged := make([]conn.Record, len(records))
	for i, r := range records {
		tr := r.Clone()
		tr["attributes"] = map[string]string{"type": objectName}
		tagged[i] = tr
	}
	body, err := json.Marshal(compositeRequest{AllOrNone: false, Records: tagged})
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("%s/composite/sobjects/%s/%s", c.baseURL(), objectName, externalIDField)
	var rows []compositeResultRow
	if err := c.do(ctx, http.MethodPatch, path, bytes.NewReader(body), &rows); err != nil {
		return nil, err
	}
	return toWriteResults(rows), nil
}

func (c *Client) DownloadFile(ctx context.Context, versionDataURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionDataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpconn: download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("httpconn: download status %d: %s", resp.StatusCode, string(raw))
	}
	return io.ReadAll(resp.Body)
}

// RemainingAPICalls reads the platform's conventional Sforce-Limit-Info
// response header ("api-usage=USED/LIMIT") from a lightweight limits
// request issued purely to observe the header; production implementations
// would cache this from whichever call happened most recently instead.
func (c *Client) RemainingAPICalls(ctx context.Context) (int, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/limits", nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	header := resp.Header.Get("Sforce-Limit-Info")
	if header == "" {
		return 0, false
	}
	parts := strings.SplitN(strings.TrimPrefix(header, "api-usage="), "/", 2)
	if len(parts) != 2 {
		return 0, false
	}
	used, err1 := strconv.Atoi(parts[0])
	limit, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return limit - used, true
}
