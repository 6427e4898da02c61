//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// fakePage is one page held by the fake Confluence server.
type fakePage struct {
	ID       string
	Title    string
	ParentID string
	Version  int
	Body     string // serialized ADF value as submitted
	Status   string
	Labels   []string
	Archived bool
}

type fakeAttachment struct {
	ID       string
	PageID   string
	Filename string
	FileID   string
}

// fakeConfluence implements just enough of the v1 and v2 Confluence Cloud
// APIs for full deploy runs: space lookup, page CRUD, labels, attachment
// upload and archive.
type fakeConfluence struct {
	t *testing.T

	mu          sync.Mutex
	spaceKey    string
	spaceID     string
	pages       map[string]*fakePage
	attachments map[string]*fakeAttachment
	nextID      int
}

func newFakeConfluence(t *testing.T, spaceKey string) (*fakeConfluence, *httptest.Server) {
	f := &fakeConfluence{
		t:           t,
		spaceKey:    spaceKey,
		spaceID:     "900",
		pages:       make(map[string]*fakePage),
		attachments: make(map[string]*fakeAttachment),
		nextID:      1000,
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeConfluence) newID() string {
	f.nextID++
	return strconv.Itoa(f.nextID)
}

func (f *fakeConfluence) pageByTitle(title string) *fakePage {
	for _, p := range f.pages {
		if p.Title == title && !p.Archived {
			return p
		}
	}
	return nil
}

func (f *fakeConfluence) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/wiki/api/v2/spaces":
		f.handleSpaces(w, r)
	case path == "/wiki/api/v2/pages" && r.Method == http.MethodGet:
		f.handleFindPage(w, r)
	case path == "/wiki/api/v2/pages" && r.Method == http.MethodPost:
		f.handleCreatePage(w, r)
	case strings.HasPrefix(path, "/wiki/api/v2/pages/"):
		f.handlePage(w, r, strings.TrimPrefix(path, "/wiki/api/v2/pages/"))
	case strings.HasPrefix(path, "/wiki/api/v2/attachments/"):
		f.handleAttachmentMeta(w, strings.TrimPrefix(path, "/wiki/api/v2/attachments/"))
	case path == "/wiki/rest/api/content/archive":
		f.handleArchive(w, r)
	case strings.HasSuffix(path, "/label"):
		f.handleLabels(w, r, path)
	case strings.Contains(path, "/child/attachment"):
		f.handleAttachmentUpload(w, r, path)
	default:
		f.t.Errorf("fake confluence: unexpected request %s %s", r.Method, path)
		http.NotFound(w, r)
	}
}

func (f *fakeConfluence) handleSpaces(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("keys") != f.spaceKey {
		writeJSON(w, map[string]any{"results": []any{}})
		return
	}
	writeJSON(w, map[string]any{"results": []map[string]any{{"id": f.spaceID, "key": f.spaceKey}}})
}

func (f *fakeConfluence) handleFindPage(w http.ResponseWriter, r *http.Request) {
	p := f.pageByTitle(r.URL.Query().Get("title"))
	if p == nil {
		writeJSON(w, map[string]any{"results": []any{}})
		return
	}
	writeJSON(w, map[string]any{"results": []map[string]any{{
		"id":     p.ID,
		"_links": map[string]string{"webui": "/spaces/" + f.spaceKey + "/pages/" + p.ID},
	}}})
}

func (f *fakeConfluence) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SpaceID  string            `json:"spaceId"`
		ParentID string            `json:"parentId"`
		Title    string            `json:"title"`
		Status   string            `json:"status"`
		Body     map[string]string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.pageByTitle(payload.Title) != nil {
		http.Error(w, "title already exists in space", http.StatusBadRequest)
		return
	}

	p := &fakePage{
		ID:       f.newID(),
		Title:    payload.Title,
		ParentID: payload.ParentID,
		Version:  1,
		Body:     payload.Body["value"],
		Status:   payload.Status,
	}
	f.pages[p.ID] = p
	writeJSON(w, map[string]any{"id": p.ID})
}

func (f *fakeConfluence) handlePage(w http.ResponseWriter, r *http.Request, pageID string) {
	p, ok := f.pages[pageID]
	if !ok || p.Archived {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{
			"id":      p.ID,
			"title":   p.Title,
			"version": map[string]int{"number": p.Version},
		})
	case http.MethodPut:
		var payload struct {
			Title   string            `json:"title"`
			Status  string            `json:"status"`
			Body    map[string]string `json:"body"`
			Version struct {
				Number int `json:"number"`
			} `json:"version"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if payload.Version.Number != p.Version+1 {
			http.Error(w, fmt.Sprintf("version conflict: have %d, got %d", p.Version, payload.Version.Number), http.StatusConflict)
			return
		}
		p.Title = payload.Title
		p.Status = payload.Status
		p.Body = payload.Body["value"]
		p.Version = payload.Version.Number
		writeJSON(w, map[string]any{"id": p.ID})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *fakeConfluence) handleArchive(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Pages []struct {
			ID string `json:"id"`
		} `json:"pages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, ref := range payload.Pages {
		p, ok := f.pages[ref.ID]
		if !ok {
			http.NotFound(w, r)
			return
		}
		p.Archived = true
	}
	w.WriteHeader(http.StatusAccepted)
}

func (f *fakeConfluence) handleLabels(w http.ResponseWriter, r *http.Request, path string) {
	pageID := strings.TrimSuffix(strings.TrimPrefix(path, "/wiki/rest/api/content/"), "/label")
	p, ok := f.pages[pageID]
	if !ok {
		http.NotFound(w, r)
		return
	}

	var labels []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&labels); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, l := range labels {
		p.Labels = append(p.Labels, l.Name)
	}
	writeJSON(w, map[string]any{})
}

func (f *fakeConfluence) handleAttachmentUpload(w http.ResponseWriter, r *http.Request, path string) {
	trimmed := strings.TrimPrefix(path, "/wiki/rest/api/content/")
	pageID := strings.SplitN(trimmed, "/", 2)[0]

	if r.Method == http.MethodGet {
		filename := r.URL.Query().Get("filename")
		for _, a := range f.attachments {
			if a.PageID == pageID && a.Filename == filename {
				writeJSON(w, map[string]any{"results": []map[string]any{{"id": a.ID}}})
				return
			}
		}
		writeJSON(w, map[string]any{"results": []any{}})
		return
	}

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// update-in-place URL ends in /data
	if strings.HasSuffix(path, "/data") {
		parts := strings.Split(path, "/")
		attID := parts[len(parts)-2]
		writeJSON(w, map[string]any{"id": attID})
		return
	}

	a := &fakeAttachment{
		ID:       "att" + f.newID(),
		PageID:   pageID,
		Filename: header.Filename,
		FileID:   "media-" + f.newID(),
	}
	f.attachments[a.ID] = a
	writeJSON(w, map[string]any{"results": []map[string]any{{"id": a.ID}}})
}

func (f *fakeConfluence) handleAttachmentMeta(w http.ResponseWriter, attachmentID string) {
	a, ok := f.attachments[attachmentID]
	if !ok {
		writeJSON(w, map[string]any{})
		return
	}
	writeJSON(w, map[string]any{"id": a.ID, "fileId": a.FileID})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
