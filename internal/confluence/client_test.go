package confluence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stevesimpson418/ccfm-convert/internal/adf"
)

// newTestClient points an HTTPClient at a local test server.
func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewHTTPClient(srv.URL, "ci@example.com", "token")
}

func TestGetSpaceID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wiki/api/v2/spaces" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("keys") != "DOCS" {
			t.Errorf("unexpected keys param: %s", r.URL.RawQuery)
		}
		if user, _, _ := r.BasicAuth(); user != "ci@example.com" {
			t.Errorf("basic auth missing, got user %q", user)
		}
		_, _ = w.Write([]byte(`{"results": [{"id": "555"}]}`))
	}))

	id, err := c.GetSpaceID(context.Background(), "DOCS")
	if err != nil {
		t.Fatal(err)
	}
	if id != "555" {
		t.Errorf("space id = %q, want 555", id)
	}
}

func TestGetSpaceID_NotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": []}`))
	}))

	_, err := c.GetSpaceID(context.Background(), "NOPE")
	if !IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestFindPageByTitle(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("space-id") != "555" || q.Get("title") != "My Page" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"results": [{"id": "7001"}]}`))
	}))

	id, err := c.FindPageByTitle(context.Background(), "555", "My Page")
	if err != nil {
		t.Fatal(err)
	}
	if id != "7001" {
		t.Errorf("page id = %q", id)
	}
}

func TestFindPageByTitle_Absent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": []}`))
	}))

	id, err := c.FindPageByTitle(context.Background(), "555", "Missing")
	if err != nil {
		t.Fatal(err)
	}
	if id != "" {
		t.Errorf("absent page should yield empty id, got %q", id)
	}
}

func TestFindPageWebUIURL(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results": [{"id": "7001", "_links": {"webui": "/spaces/DOCS/pages/7001/My+Page"}}]}`))
	}))

	u, err := c.FindPageWebUIURL(context.Background(), "555", "My Page")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(u, "/spaces/DOCS/pages/7001/My+Page") || !strings.HasPrefix(u, "http") {
		t.Errorf("webui url wrong: %q", u)
	}
}

func TestCreatePage(t *testing.T) {
	var payload map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/wiki/api/v2/pages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(`{"id": "9001"}`))
	}))

	body := adf.Doc([]*adf.Node{adf.Paragraph([]*adf.Node{adf.Text("hi")})})
	id, err := c.CreatePage(context.Background(), "555", "123", "New Page", body, "current")
	if err != nil {
		t.Fatal(err)
	}
	if id != "9001" {
		t.Errorf("page id = %q", id)
	}

	if payload["spaceId"] != "555" || payload["parentId"] != "123" || payload["title"] != "New Page" {
		t.Errorf("payload wrong: %v", payload)
	}
	bodyField, _ := payload["body"].(map[string]any)
	if bodyField["representation"] != "atlas_doc_format" {
		t.Errorf("body representation wrong: %v", bodyField)
	}
	if value, _ := bodyField["value"].(string); !strings.Contains(value, `"doc"`) {
		t.Errorf("ADF value not serialized: %v", bodyField["value"])
	}
}

func TestCreatePage_NoParent(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if _, ok := payload["parentId"]; ok {
			t.Error("parentId must be omitted for root pages")
		}
		_, _ = w.Write([]byte(`{"id": "9002"}`))
	}))

	if _, err := c.CreatePage(context.Background(), "555", "", "Root", adf.Doc(nil), "current"); err != nil {
		t.Fatal(err)
	}
}

func TestUpdatePage_BumpsVersion(t *testing.T) {
	var putPayload map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"version": {"number": 6}}`))
		case http.MethodPut:
			if err := json.NewDecoder(r.Body).Decode(&putPayload); err != nil {
				t.Fatal(err)
			}
			_, _ = w.Write([]byte(`{"id": "7001"}`))
		}
	}))

	if err := c.UpdatePage(context.Background(), "7001", "T", adf.Doc(nil), "current"); err != nil {
		t.Fatal(err)
	}

	version, _ := putPayload["version"].(map[string]any)
	if version["number"] != float64(7) {
		t.Errorf("version not bumped: %v", putPayload)
	}
}

func TestArchivePage(t *testing.T) {
	var payload map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wiki/rest/api/content/archive" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusAccepted)
	}))

	if err := c.ArchivePage(context.Background(), "7001"); err != nil {
		t.Fatal(err)
	}
	pages, _ := payload["pages"].([]any)
	first, _ := pages[0].(map[string]any)
	if first["id"] != "7001" {
		t.Errorf("archive payload wrong: %v", payload)
	}
}

func TestAddLabels_IncludesMarker(t *testing.T) {
	var payload []map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = w.Write([]byte(`{}`))
	}))

	if err := c.AddLabels(context.Background(), "7001", []string{"api"}); err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, l := range payload {
		names[l["name"]] = true
	}
	if !names["api"] || !names["managed-by-ci"] {
		t.Errorf("labels wrong: %v", payload)
	}
}

func TestAddLabels_Tolerates400(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "label already exists", http.StatusBadRequest)
	}))

	if err := c.AddLabels(context.Background(), "7001", []string{"api"}); err != nil {
		t.Errorf("existing-label 400 should not be an error: %v", err)
	}
}

func TestUploadAttachment_Create(t *testing.T) {
	file := filepath.Join(t.TempDir(), "diagram.png")
	if err := os.WriteFile(file, []byte("png-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			// no existing attachment with this filename
			_, _ = w.Write([]byte(`{"results": []}`))
		case r.Method == http.MethodPost:
			if r.Header.Get("X-Atlassian-Token") != "nocheck" {
				t.Error("missing X-Atlassian-Token header")
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("not multipart: %v", err)
			}
			f, header, err := r.FormFile("file")
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = f.Close() }()
			if header.Filename != "diagram.png" {
				t.Errorf("filename = %q", header.Filename)
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"results": [{"id": "att42"}]}`))
		}
	}))

	id, err := c.UploadAttachment(context.Background(), "7001", file)
	if err != nil {
		t.Fatal(err)
	}
	if id != "att42" {
		t.Errorf("attachment id = %q", id)
	}
}

func TestUploadAttachment_UpdatesExisting(t *testing.T) {
	file := filepath.Join(t.TempDir(), "diagram.png")
	if err := os.WriteFile(file, []byte("png-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	var uploadPath string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"results": [{"id": "att42"}]}`))
		case http.MethodPost:
			uploadPath = r.URL.Path
			// the update endpoint returns the bare attachment object
			_, _ = w.Write([]byte(`{"id": "att42"}`))
		}
	}))

	id, err := c.UploadAttachment(context.Background(), "7001", file)
	if err != nil {
		t.Fatal(err)
	}
	if id != "att42" {
		t.Errorf("attachment id = %q", id)
	}
	if !strings.HasSuffix(uploadPath, "/child/attachment/att42/data") {
		t.Errorf("existing attachment should be updated in place, got %s", uploadPath)
	}
}

func TestFetchMediaFileID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wiki/api/v2/attachments/att42" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"fileId": "file-uuid-1"}`))
	}))

	fileID, err := c.FetchMediaFileID(context.Background(), "att42")
	if err != nil {
		t.Fatal(err)
	}
	if fileID != "file-uuid-1" {
		t.Errorf("fileId = %q", fileID)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusNotFound, KindNotFound},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindTransient},
	}

	for _, tt := range tests {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		_, err := c.FindPageByTitle(context.Background(), "555", "x")
		if Kind(err) != tt.kind {
			t.Errorf("status %d classified as %q, want %q", tt.status, Kind(err), tt.kind)
		}
	}
}
