package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ccfm.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
version: 1
domain: example.atlassian.net
email: ci@example.com
space: DOCS
docs_root: documentation
git_repo_url: https://github.com/example/docs
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Domain != "example.atlassian.net" || cfg.Space != "DOCS" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.DocsRoot != "documentation" {
		t.Errorf("docs_root not read: %q", cfg.DocsRoot)
	}
	if cfg.StateFile != ".ccfm-state.json" {
		t.Errorf("state_file default missing: %q", cfg.StateFile)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "version: 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DocsRoot != "docs" {
		t.Errorf("docs_root default = %q, want docs", cfg.DocsRoot)
	}
	if cfg.StateFile != ".ccfm-state.json" {
		t.Errorf("state_file default = %q", cfg.StateFile)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CCFM_TEST_TOKEN", "sekrit")
	cfg, err := Load(writeConfig(t, "token: ${CCFM_TEST_TOKEN}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Token != "sekrit" {
		t.Errorf("token = %q, want expanded env value", cfg.Token)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_UnsupportedVersion(t *testing.T) {
	_, err := Load(writeConfig(t, "version: 9\n"))
	if err == nil || !strings.Contains(err.Error(), "unsupported config version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestValidateCredentials(t *testing.T) {
	cfg := &Config{Domain: "d", Email: "e", Space: "S", Token: "t"}
	if err := cfg.ValidateCredentials(); err != nil {
		t.Errorf("complete credentials rejected: %v", err)
	}

	cfg.Token = ""
	err := cfg.ValidateCredentials()
	if err == nil {
		t.Fatal("missing token should fail")
	}
	if !strings.Contains(err.Error(), "CONFLUENCE_TOKEN") {
		t.Errorf("error should point at the env var: %v", err)
	}
}
