// Package state persists the mapping from document paths to deployed
// Confluence pages between runs.
//
// The state file is meant to be committed alongside the documentation so CI
// pipelines and team members share the same deployment history. It assumes a
// single writer per run; coordinating concurrent invocations is out of scope.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Version is the current state file schema version.
const Version = "1"

// Record is one row of persisted state, keyed by a document's relative path.
type Record struct {
	PageID      string `json:"page_id"`
	Fingerprint string `json:"content_fingerprint"`
	Title       string `json:"last_title"`
	SpaceKey    string `json:"space_key,omitempty"`
	SpaceID     string `json:"space_id,omitempty"`
	DeployedAt  string `json:"deployed_at,omitempty"`
}

type snapshot struct {
	Version string            `json:"version"`
	Pages   map[string]Record `json:"pages"`
}

// CorruptError means the state file exists but cannot be trusted. It is
// fatal: treating damaged state as empty would silently re-create every page.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Store owns the on-disk state file for the duration of one run. Mutations
// are staged in memory and written out by a single Commit at the end of the
// run, so an interrupted run never loses the previously persisted state.
type Store struct {
	path  string
	pages map[string]Record
}

// Load reads the state file at path. A missing file yields an empty store
// (first run); malformed contents yield a *CorruptError.
func Load(path string) (*Store, error) {
	s := &Store{path: path, pages: make(map[string]Record)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if snap.Pages == nil {
		return nil, &CorruptError{Path: path, Err: fmt.Errorf("missing pages mapping")}
	}

	s.pages = snap.Pages
	return s, nil
}

// Get returns the record for a relative path.
func (s *Store) Get(relPath string) (Record, bool) {
	rec, ok := s.pages[relPath]
	return rec, ok
}

// Stage records a pending create or update. Nothing is persisted until
// Commit.
func (s *Store) Stage(relPath string, rec Record) {
	if rec.DeployedAt == "" {
		rec.DeployedAt = time.Now().UTC().Format(time.RFC3339)
	}
	s.pages[relPath] = rec
}

// Remove drops a record, called after a page has been archived remotely.
func (s *Store) Remove(relPath string) {
	delete(s.pages, relPath)
}

// Snapshot returns a copy of all records keyed by relative path.
func (s *Store) Snapshot() map[string]Record {
	out := make(map[string]Record, len(s.pages))
	for k, v := range s.pages {
		out[k] = v
	}
	return out
}

// Titles returns the set of titles recorded for deployed pages.
func (s *Store) Titles() map[string]bool {
	out := make(map[string]bool, len(s.pages))
	for _, rec := range s.pages {
		if rec.Title != "" {
			out[rec.Title] = true
		}
	}
	return out
}

// Commit atomically replaces the state file with the staged contents: write
// to a temporary file in the same directory, then rename over the target. A
// crash mid-write leaves the previous file untouched.
//
// The file is written with mode 0600 to avoid exposing space IDs and page
// titles on shared systems.
func (s *Store) Commit() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(snapshot{Version: Version, Pages: s.pages}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ccfm-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
