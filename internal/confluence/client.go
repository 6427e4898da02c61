// Package confluence is a typed client for the Confluence Cloud REST API.
//
// Pages, spaces and attachment metadata go through the v2 API. Label writes
// and attachment uploads still use the v1 API: v2 has no POST endpoint for
// either (CONFCLOUD-77196), and the v1 upload response does not carry the
// Media Services fileId that ADF media nodes need, which forces the follow-up
// v2 read in FetchMediaFileID.
package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stevesimpson418/ccfm-convert/internal/adf"
)

// Default timeouts. Every call is a single bounded network operation so a
// slow API cannot hang a CI job indefinitely.
const (
	requestTimeout = 30 * time.Second
	uploadTimeout  = 60 * time.Second
)

// Client is the surface the orchestrator consumes. The *HTTPClient below is
// the production implementation; tests substitute mocks.
type Client interface {
	GetSpaceID(ctx context.Context, spaceKey string) (string, error)
	FindPageByTitle(ctx context.Context, spaceID, title string) (string, error)
	FindPageWebUIURL(ctx context.Context, spaceID, title string) (string, error)
	CreatePage(ctx context.Context, spaceID, parentID, title string, body *adf.Node, status string) (string, error)
	UpdatePage(ctx context.Context, pageID, title string, body *adf.Node, status string) error
	ArchivePage(ctx context.Context, pageID string) error
	AddLabels(ctx context.Context, pageID string, labels []string) error
	UploadAttachment(ctx context.Context, pageID, filePath string) (string, error)
	FetchMediaFileID(ctx context.Context, attachmentID string) (string, error)
}

// HTTPClient talks to a Confluence Cloud instance with basic auth
// (email + API token).
type HTTPClient struct {
	domain string
	email  string
	token  string

	base    string // scheme + host, e.g. https://example.atlassian.net
	httpc   *http.Client
	uploadc *http.Client
}

// NewHTTPClient returns a client for the given Confluence Cloud domain.
// domain may also be a full http(s) base URL, which test servers use.
func NewHTTPClient(domain, email, token string) *HTTPClient {
	base := "https://" + domain
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		base = domain
	}
	return &HTTPClient{
		domain:  domain,
		email:   email,
		token:   token,
		base:    base,
		httpc:   &http.Client{Timeout: requestTimeout},
		uploadc: &http.Client{Timeout: uploadTimeout},
	}
}

func (c *HTTPClient) v2URL(p string) string { return c.base + "/wiki/api/v2" + p }
func (c *HTTPClient) v1URL(p string) string { return c.base + "/wiki/rest/api" + p }

// doJSON performs a request and decodes the JSON response into out (when out
// is non-nil). Non-2xx statuses become classified *APIError values.
func (c *HTTPClient) doJSON(ctx context.Context, op, method, rawURL string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &APIError{Kind: KindTransient, Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{
			Kind:       classifyStatus(resp.StatusCode),
			Op:         op,
			StatusCode: resp.StatusCode,
			Detail:     string(detail),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &APIError{Kind: KindTransient, Op: op, Err: err}
		}
	}
	return nil
}

type resultsPage struct {
	Results []struct {
		ID    string `json:"id"`
		Links struct {
			WebUI string `json:"webui"`
		} `json:"_links"`
	} `json:"results"`
}

// GetSpaceID resolves a space key to its id.
func (c *HTTPClient) GetSpaceID(ctx context.Context, spaceKey string) (string, error) {
	u := c.v2URL("/spaces") + "?keys=" + url.QueryEscape(spaceKey)

	var page resultsPage
	if err := c.doJSON(ctx, "get space", http.MethodGet, u, nil, &page); err != nil {
		return "", err
	}
	if len(page.Results) == 0 {
		return "", &APIError{
			Kind:   KindNotFound,
			Op:     "get space",
			Detail: fmt.Sprintf("space %q not found", spaceKey),
		}
	}
	return page.Results[0].ID, nil
}

// FindPageByTitle returns the id of the page with the given title in the
// space, or "" when no such page exists.
func (c *HTTPClient) FindPageByTitle(ctx context.Context, spaceID, title string) (string, error) {
	page, err := c.findPage(ctx, spaceID, title)
	if err != nil {
		return "", err
	}
	if len(page.Results) == 0 {
		return "", nil
	}
	return page.Results[0].ID, nil
}

// FindPageWebUIURL returns the canonical webui URL for a page found by title,
// or "" when the page does not exist. The webui link carries the space key
// and title slug that Confluence's renderer requires.
func (c *HTTPClient) FindPageWebUIURL(ctx context.Context, spaceID, title string) (string, error) {
	page, err := c.findPage(ctx, spaceID, title)
	if err != nil {
		return "", err
	}
	if len(page.Results) == 0 || page.Results[0].Links.WebUI == "" {
		return "", nil
	}
	return c.base + page.Results[0].Links.WebUI, nil
}

func (c *HTTPClient) findPage(ctx context.Context, spaceID, title string) (*resultsPage, error) {
	q := url.Values{}
	q.Set("space-id", spaceID)
	q.Set("title", title)
	q.Set("limit", "1")
	u := c.v2URL("/pages") + "?" + q.Encode()

	var page resultsPage
	if err := c.doJSON(ctx, "find page", http.MethodGet, u, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// adfBody encodes an ADF tree the way the v2 page endpoints want it: the
// document JSON serialized into a string value.
func adfBody(body *adf.Node) (map[string]string, error) {
	value, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ADF body: %w", err)
	}
	return map[string]string{
		"representation": "atlas_doc_format",
		"value":          string(value),
	}, nil
}

// CreatePage creates a page and returns its id. parentID may be empty for
// space-root pages.
func (c *HTTPClient) CreatePage(ctx context.Context, spaceID, parentID, title string, body *adf.Node, status string) (string, error) {
	encoded, err := adfBody(body)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"spaceId": spaceID,
		"status":  status,
		"title":   title,
		"body":    encoded,
	}
	if parentID != "" {
		payload["parentId"] = parentID
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, "create page", http.MethodPost, c.v2URL("/pages"), payload, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// UpdatePage rewrites a page's title, body and status. The v2 API requires
// the next version number, so the current one is read first.
func (c *HTTPClient) UpdatePage(ctx context.Context, pageID, title string, body *adf.Node, status string) error {
	var current struct {
		Version struct {
			Number int `json:"number"`
		} `json:"version"`
	}
	pageURL := c.v2URL("/pages/" + url.PathEscape(pageID))
	if err := c.doJSON(ctx, "get page version", http.MethodGet, pageURL, nil, &current); err != nil {
		return err
	}

	encoded, err := adfBody(body)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"id":      pageID,
		"status":  status,
		"title":   title,
		"body":    encoded,
		"version": map[string]any{"number": current.Version.Number + 1},
	}
	return c.doJSON(ctx, "update page", http.MethodPut, pageURL, payload, nil)
}

// ArchivePage moves a page to the archive via the v1 bulk endpoint (v2 has
// no archive operation).
func (c *HTTPClient) ArchivePage(ctx context.Context, pageID string) error {
	payload := map[string]any{
		"pages": []map[string]string{{"id": pageID}},
	}
	return c.doJSON(ctx, "archive page", http.MethodPost, c.v1URL("/content/archive"), payload, nil)
}

// AddLabels attaches labels to a page via the v1 API. The managed-by-ci
// marker label is always included so deployed pages are identifiable in
// Confluence.
func (c *HTTPClient) AddLabels(ctx context.Context, pageID string, labels []string) error {
	all := append([]string(nil), labels...)
	hasMarker := false
	for _, l := range all {
		if l == "managed-by-ci" {
			hasMarker = true
			break
		}
	}
	if !hasMarker {
		all = append(all, "managed-by-ci")
	}

	payload := make([]map[string]string, 0, len(all))
	for _, l := range all {
		payload = append(payload, map[string]string{"prefix": "global", "name": l})
	}

	u := c.v1URL("/content/" + url.PathEscape(pageID) + "/label")
	err := c.doJSON(ctx, "add labels", http.MethodPost, u, payload, nil)
	if err != nil {
		// The label endpoint answers 400 when a label already exists; that
		// is not a failure for our purposes.
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest {
			return nil
		}
		return err
	}
	return nil
}

// UploadAttachment uploads (or replaces) a file on a page via the v1 API and
// returns the attachment id. If an attachment with the same filename already
// exists it is updated in place, which keeps retried runs from accumulating
// duplicates.
func (c *HTTPClient) UploadAttachment(ctx context.Context, pageID, filePath string) (string, error) {
	baseAttURL := c.v1URL("/content/" + url.PathEscape(pageID) + "/child/attachment")

	// Look for an existing attachment with this filename.
	existingID := ""
	var existing resultsPage
	lookupURL := baseAttURL + "?filename=" + url.QueryEscape(filepath.Base(filePath))
	if err := c.doJSON(ctx, "find attachment", http.MethodGet, lookupURL, nil, &existing); err == nil && len(existing.Results) > 0 {
		existingID = existing.Results[0].ID
	}

	uploadURL := baseAttURL
	if existingID != "" {
		uploadURL = baseAttURL + "/" + url.PathEscape(existingID) + "/data"
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open attachment: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("failed to read attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &buf)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Atlassian-Token", "nocheck")

	resp, err := c.uploadc.Do(req)
	if err != nil {
		return "", &APIError{Kind: KindTransient, Op: "upload attachment", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &APIError{
			Kind:       classifyStatus(resp.StatusCode),
			Op:         "upload attachment",
			StatusCode: resp.StatusCode,
			Detail:     string(detail),
		}
	}

	// The create endpoint wraps the attachment in a results list; the
	// update endpoint returns the bare object. Accept both shapes.
	var result struct {
		ID      string `json:"id"`
		Results []struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &APIError{Kind: KindTransient, Op: "upload attachment", Err: err}
	}
	switch {
	case len(result.Results) > 0:
		return result.Results[0].ID, nil
	case result.ID != "":
		return result.ID, nil
	case existingID != "":
		return existingID, nil
	}
	return "", &APIError{Kind: KindTransient, Op: "upload attachment", Detail: "response carried no attachment id"}
}

// FetchMediaFileID retrieves the Media Services fileId for an uploaded
// attachment. The v1 upload response does not include it, so this v2 read is
// the only way to reference the attachment from an ADF media node.
func (c *HTTPClient) FetchMediaFileID(ctx context.Context, attachmentID string) (string, error) {
	var out struct {
		FileID string `json:"fileId"`
	}
	u := c.v2URL("/attachments/" + url.PathEscape(attachmentID))
	if err := c.doJSON(ctx, "fetch media file id", http.MethodGet, u, nil, &out); err != nil {
		return "", err
	}
	return out.FileID, nil
}
