// Package config loads the optional ccfm.yaml project configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete ccfm configuration. Every value can also be
// supplied (and is overridden) by the corresponding CLI flag.
type Config struct {
	Version    int    `yaml:"version"`
	Domain     string `yaml:"domain"`
	Email      string `yaml:"email"`
	Token      string `yaml:"token"`
	Space      string `yaml:"space"`
	DocsRoot   string `yaml:"docs_root"`
	GitRepoURL string `yaml:"git_repo_url"`
	StateFile  string `yaml:"state_file"`
}

// Default returns the configuration used when no ccfm.yaml is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses a ccfm.yaml file. ${VAR} references in string values
// are expanded from the environment; unset variables become empty strings.
//
// ccfm.yaml is a trusted-author file: anything visible in the process
// environment can be interpolated into it, so review changes to it the way
// you would review CI pipeline changes.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields.
func (c *Config) expandEnv() {
	c.Domain = os.ExpandEnv(c.Domain)
	c.Email = os.ExpandEnv(c.Email)
	c.Token = os.ExpandEnv(c.Token)
	c.Space = os.ExpandEnv(c.Space)
	c.DocsRoot = os.ExpandEnv(c.DocsRoot)
	c.GitRepoURL = os.ExpandEnv(c.GitRepoURL)
	c.StateFile = os.ExpandEnv(c.StateFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.DocsRoot == "" {
		c.DocsRoot = "docs"
	}
	if c.StateFile == "" {
		c.StateFile = ".ccfm-state.json"
	}
}

// Validate checks structural configuration errors. Credential completeness is
// checked separately because plan and dump modes never call the API.
func (c *Config) Validate() error {
	if c.Version != 0 && c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", c.Version)
	}
	return nil
}

// ValidateCredentials checks that everything needed for live API calls is
// present.
func (c *Config) ValidateCredentials() error {
	var missing []string
	if c.Domain == "" {
		missing = append(missing, "domain")
	}
	if c.Email == "" {
		missing = append(missing, "email")
	}
	if c.Space == "" {
		missing = append(missing, "space")
	}
	if c.Token == "" {
		missing = append(missing, "token (or CONFLUENCE_TOKEN env var)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %v", missing)
	}
	return nil
}
