package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/prodhub/internal/cache"
	"github.com/agentic-research/prodhub/internal/config"
	"github.com/agentic-research/prodhub/internal/report"
	"github.com/agentic-research/prodhub/internal/router"
	"github.com/agentic-research/prodhub/internal/sandbox"
	"github.com/agentic-research/prodhub/internal/store"
)

var (
	cfgPath string
	verbose bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to HCL config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "prodhub",
	Short: "Production reporting hub over live and archive stores",
	Long: `prodhub serves manufacturing production reports from a pair of
date-partitioned SQLite stores: a live store for the current period and
an optional archive store for history. Reads spanning the cutoff date
are federated transparently across both.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg *config.Config
	fs  billy.Filesystem
	mgr *store.Manager
	c   *cache.Cache
	svc *report.Service
	log *slog.Logger
}

// newApp loads config and wires the service stack. Store paths from the
// config are made absolute so the path-validation and filesystem layers
// agree on what they refer to.
func newApp() (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	livePath, err := filepath.Abs(cfg.LiveDB)
	if err != nil {
		return nil, fmt.Errorf("resolve live_db: %w", err)
	}
	archivePath, err := filepath.Abs(cfg.ArchiveDB)
	if err != nil {
		return nil, fmt.Errorf("resolve archive_db: %w", err)
	}
	if err := store.ValidateDBPath(livePath); err != nil {
		return nil, fmt.Errorf("live_db: %w", err)
	}

	fs := osfs.New("/")
	mgr := store.NewManager(fs, livePath, archivePath, cfg.DBTimeout(), log)

	c := cache.New(cfg.CacheTTL(), cfg.CacheMaxEntries, mgr.Version, log)
	sb := sandbox.New(router.Table, cfg.SandboxTimeout(), log)
	svc := report.New(mgr, c, sb, cfg.CutoffDate, cfg.SlowThreshold(), log)

	return &app{cfg: cfg, fs: fs, mgr: mgr, c: c, svc: svc, log: log}, nil
}

func (a *app) close() {
	if err := a.mgr.CloseAll(); err != nil {
		a.log.Warn("shutdown: closing store handles", "error", err)
	}
}

// statePath returns the watcher state file as an absolute path.
func (a *app) statePath() (string, error) {
	return filepath.Abs(a.cfg.WatcherStatePath)
}
