package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_NonExistent(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("missing state file should yield an empty store: %v", err)
	}
	if len(s.Snapshot()) != 0 {
		t.Errorf("expected empty store, got %v", s.Snapshot())
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
}

func TestLoad_MissingPagesMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version": "1"}`), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	var corrupt *CorruptError
	if !errors.As(err, &corrupt) {
		t.Fatalf("valid JSON without pages must still be corrupt: %v", err)
	}
}

func TestStageCommitReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s.Stage("docs/a.md", Record{PageID: "101", Fingerprint: "sha256:aa", Title: "A", SpaceKey: "DOCS"})
	s.Stage("docs/b.md", Record{PageID: "102", Fingerprint: "sha256:bb", Title: "B"})
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := reloaded.Get("docs/a.md")
	if !ok || rec.PageID != "101" || rec.Title != "A" {
		t.Errorf("record lost on reload: %+v", rec)
	}
	if rec.DeployedAt == "" {
		t.Error("Stage should fill DeployedAt")
	}
}

func TestCommit_FileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, _ := Load(path)
	s.Stage("a.md", Record{PageID: "1"})
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("state file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestCommit_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s, _ := Load(path)
	s.Stage("a.md", Record{PageID: "1"})
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".ccfm-state-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCommit_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "state.json")
	s, _ := Load(path)
	s.Stage("a.md", Record{PageID: "1"})
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("state file not written: %v", err)
	}
}

func TestCommit_PreservesPreviousOnOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, _ := Load(path)
	s.Stage("a.md", Record{PageID: "1", Fingerprint: "sha256:v1"})
	if err := s.Commit(); err != nil {
		t.Fatal(err)
	}

	s2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s2.Stage("a.md", Record{PageID: "1", Fingerprint: "sha256:v2"})
	s2.Remove("never-existed.md")
	if err := s2.Commit(); err != nil {
		t.Fatal(err)
	}

	s3, _ := Load(path)
	rec, _ := s3.Get("a.md")
	if rec.Fingerprint != "sha256:v2" {
		t.Errorf("commit did not replace record: %+v", rec)
	}
}

func TestRemove(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "state.json"))
	s.Stage("a.md", Record{PageID: "1"})
	s.Remove("a.md")
	if _, ok := s.Get("a.md"); ok {
		t.Error("record should be gone after Remove")
	}
}

func TestTitles(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "state.json"))
	s.Stage("a.md", Record{PageID: "1", Title: "Alpha"})
	s.Stage("b.md", Record{PageID: "2", Title: "Beta"})

	titles := s.Titles()
	if !titles["Alpha"] || !titles["Beta"] {
		t.Errorf("titles incomplete: %v", titles)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "state.json"))
	s.Stage("a.md", Record{PageID: "1"})

	snap := s.Snapshot()
	snap["a.md"] = Record{PageID: "tampered"}

	rec, _ := s.Get("a.md")
	if rec.PageID != "1" {
		t.Error("mutating the snapshot must not affect the store")
	}
}
