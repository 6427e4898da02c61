package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/stevesimpson418/ccfm-convert/internal/config"
	"github.com/stevesimpson418/ccfm-convert/internal/confluence"
	"github.com/stevesimpson418/ccfm-convert/internal/deploy"
	"github.com/stevesimpson418/ccfm-convert/internal/document"
	"github.com/stevesimpson418/ccfm-convert/internal/plan"
	"github.com/stevesimpson418/ccfm-convert/internal/state"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Shared overrides for config values
	domain   string
	email    string
	space    string
	docsRoot string

	// Deploy flags
	singleFile     string
	changedOnly    bool
	archiveOrphans bool
	force          bool
	planOnly       bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ccfm",
	Short: "Deploy markdown documentation to Confluence Cloud",
	Long: `ccfm converts a tree of markdown files to Atlassian Document Format and
deploys it to a Confluence Cloud space, mirroring the directory structure as
the page hierarchy.

It tracks deployed pages in a local state file so repeated runs only touch
pages whose content actually changed.`,
	SilenceUsage: true,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the documentation tree to Confluence",
	Long: `Deploy resolves the docs tree, computes the difference against the recorded
deployment state, and applies it page by page in parent-first order.

Without --changed-only every tracked page is redeployed. Pages whose source
file disappeared are archived when --archive-orphans is set, otherwise they
are only reported.`,
	RunE: runDeploy,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what a deploy would change, without calling Confluence",
	Long: `Plan computes the pending changes and prints a summary. It never talks to
the Confluence API and needs no credentials.

The exit code is 2 when changes are pending and 0 when the space is up to
date, so CI pipelines can gate on it.`,
	RunE: runPlan,
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write converted ADF JSON next to each markdown source",
	Long: `Dump converts every document and writes the resulting Atlassian Document
Format JSON to <file>.adf.json without contacting Confluence. Useful for
inspecting conversion output and for diffing converter changes.`,
	RunE: runDump,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ccfm %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./ccfm.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&docsRoot, "docs-root", "", "root directory of the markdown tree (overrides config)")

	deployCmd.Flags().StringVar(&domain, "domain", "", "Confluence Cloud domain, e.g. example.atlassian.net (overrides config)")
	deployCmd.Flags().StringVar(&email, "email", "", "Atlassian account email (overrides config)")
	deployCmd.Flags().StringVar(&space, "space", "", "target space key (overrides config)")
	deployCmd.Flags().StringVar(&singleFile, "file", "", "deploy a single markdown file instead of the whole tree")
	deployCmd.Flags().BoolVar(&changedOnly, "changed-only", false, "skip pages whose content fingerprint is unchanged")
	deployCmd.Flags().BoolVar(&archiveOrphans, "archive-orphans", false, "archive pages whose source file no longer exists")
	deployCmd.Flags().BoolVar(&force, "force", false, "redeploy every page regardless of fingerprints")
	deployCmd.Flags().BoolVar(&planOnly, "plan", false, "print the plan and exit without deploying")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := state.Load(cfg.StateFile)
	if err != nil {
		return err
	}

	tree, err := resolveTree(cfg, store, logger)
	if err != nil {
		return err
	}

	p := plan.Compute(tree.Nodes, store.Snapshot(), plan.Options{
		ChangedOnly:    changedOnly,
		ArchiveOrphans: archiveOrphans,
		Force:          force,
	})

	if planOnly {
		if code := printPlan(p); code != 0 {
			os.Exit(code)
		}
		return nil
	}

	reportOrphans(logger, p)
	if !p.HasPendingChanges() && len(p.Orphans) == 0 {
		logger.Info("nothing to deploy")
		return nil
	}

	if err := cfg.ValidateCredentials(); err != nil {
		return err
	}

	api := confluence.NewHTTPClient(cfg.Domain, cfg.Email, cfg.Token)
	orch := deploy.New(api, store, logger, cfg.Space, cfg.DocsRoot, cfg.GitRepoURL)

	logger.Info("starting deploy", "space", cfg.Space, "actions", len(p.Actions))
	report, err := orch.Execute(ctx, p, tree)
	if err != nil {
		logger.Error("deploy failed", "error", err)
		return err
	}

	fmt.Print(report.Summary())
	if !report.OK() {
		return fmt.Errorf("deploy finished with errors")
	}
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := state.Load(cfg.StateFile)
	if err != nil {
		return err
	}

	tree, err := resolveTree(cfg, store, logger)
	if err != nil {
		return err
	}

	// Plan always compares fingerprints so CI only flags real content drift.
	p := plan.Compute(tree.Nodes, store.Snapshot(), plan.Options{ChangedOnly: true})
	if code := printPlan(p); code != 0 {
		os.Exit(code)
	}
	return nil
}

// printPlan prints the plan summary and returns the process exit code CI
// pipelines gate on: 2 when changes are pending, 0 when the space is up to
// date. Both the plan command and deploy --plan use it.
func printPlan(p *plan.Plan) int {
	fmt.Print(p.Summary())
	if p.HasPendingChanges() {
		return 2
	}
	return 0
}

// reportOrphans warns about tracked pages whose source file disappeared while
// the run is not archiving them.
func reportOrphans(logger *slog.Logger, p *plan.Plan) {
	for _, rel := range p.Orphans {
		logger.Warn("orphaned page left in place, re-run with --archive-orphans to archive it", "path", rel)
	}
}

func runDump(cmd *cobra.Command, args []string) error {
	logger := setupLogger()
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := state.Load(cfg.StateFile)
	if err != nil {
		return err
	}

	tree, err := resolveTree(cfg, store, logger)
	if err != nil {
		return err
	}

	orch := deploy.New(nil, nil, logger, cfg.Space, cfg.DocsRoot, cfg.GitRepoURL)
	written, err := orch.Dump(tree)
	if err != nil {
		return err
	}
	logger.Info("dump complete", "documents", written)
	return nil
}

func resolveTree(cfg *config.Config, store *state.Store, logger *slog.Logger) (*document.Tree, error) {
	opts := document.Options{RemoteTitles: store.Titles()}

	var tree *document.Tree
	var err error
	if singleFile != "" {
		tree, err = document.ResolveFile(cfg.DocsRoot, singleFile, opts)
	} else {
		tree, err = document.Resolve(cfg.DocsRoot, opts)
	}
	if err != nil {
		return nil, err
	}

	for _, s := range tree.Skipped {
		if s.Err != nil {
			logger.Warn("skipping document", "path", s.RelPath, "reason", s.Reason, "error", s.Err)
		} else {
			logger.Debug("skipping document", "path", s.RelPath, "reason", s.Reason)
		}
	}
	logger.Debug("documents resolved", "count", len(tree.Nodes), "skipped", len(tree.Skipped))
	return tree, nil
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// .env is how local runs supply CONFLUENCE_TOKEN; CI sets it directly.
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded environment from .env")
	}

	configPath := cfgFile
	if configPath == "" {
		if _, err := os.Stat("ccfm.yaml"); err == nil {
			configPath = "ccfm.yaml"
		}
	}

	var cfg *config.Config
	if configPath != "" {
		logger.Info("loading configuration", "path", configPath)
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		logger.Debug("no config file found, using defaults")
		cfg = config.Default()
	}

	applyOverrides(cfg)

	logger.Debug("configuration loaded",
		"domain", cfg.Domain,
		"space", cfg.Space,
		"docs_root", cfg.DocsRoot,
		"state_file", cfg.StateFile)

	return cfg, nil
}

// applyOverrides layers CLI flags and well-known environment variables over
// the file configuration. Flags win over env, env wins over the file.
func applyOverrides(cfg *config.Config) {
	if cfg.Domain == "" {
		cfg.Domain = os.Getenv("CONFLUENCE_DOMAIN")
	}
	if cfg.Email == "" {
		cfg.Email = os.Getenv("CONFLUENCE_EMAIL")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("CONFLUENCE_TOKEN")
	}
	if cfg.Space == "" {
		cfg.Space = os.Getenv("CONFLUENCE_SPACE")
	}

	if domain != "" {
		cfg.Domain = domain
	}
	if email != "" {
		cfg.Email = email
	}
	if space != "" {
		cfg.Space = space
	}
	if docsRoot != "" {
		cfg.DocsRoot = docsRoot
	}
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
