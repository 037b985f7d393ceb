// Command hostsmgr aggregates blocklist sources into a deduplicated hosts
// file, one profile at a time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hostsmgr/internal/archive"
	"hostsmgr/internal/builder"
	"hostsmgr/internal/config"
	"hostsmgr/internal/fetcher"
	"hostsmgr/internal/model"
	"hostsmgr/internal/profile"
	"hostsmgr/internal/storage"
	"hostsmgr/internal/system"
	"hostsmgr/internal/updater"
)

func main() {
	os.Exit(run())
}

func run() int {
	var overrides overrideFlags
	profileName := flag.String("profile", "", "profile name to work with")
	force := flag.Bool("force", false, "ignore update frequency and refresh all sources")
	historyN := flag.Int("n", 10, "number of history entries to show")
	flag.Var(&overrides, "override", "settings override as key=value (repeatable)")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		return 1
	}
	log := newLogger(cfg.LogLevel)

	commands := flag.Args()
	if len(commands) == 0 {
		usage()
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if commands[0] == "init-profile" {
		if len(commands) != 2 {
			log.Error("init-profile needs exactly one profile name")
			return 2
		}
		dir, err := profile.Init(cfg.DataDir, commands[1])
		if err != nil {
			log.Error("init profile", "error", err)
			return 1
		}
		log.Info("new profile generated", "path", dir)
		return 0
	}

	prof, err := profile.Load(cfg.DataDir, *profileName, overrides.m, nil)
	if err != nil {
		log.Error("load profile", "error", err)
		return 1
	}

	// The history database is best-effort: a broken store degrades to
	// warnings, never to a failed run.
	var hist storage.History
	if s, err := storage.NewSQLite(cfg.HistoryDB); err != nil {
		log.Warn("open history database", "path", cfg.HistoryDB, "error", err)
	} else {
		hist = s
		defer func() { _ = s.Close() }()
	}

	for _, command := range commands {
		if err := dispatch(ctx, command, prof, hist, log, *force, *historyN); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Warn("interrupted", "command", command)
				return 130
			}
			log.Error("command failed", "command", command, "error", err)
			return 1
		}
	}
	return 0
}

func dispatch(ctx context.Context, command string, prof *profile.Profile,
	hist storage.History, log *slog.Logger, force bool, historyN int) error {

	switch command {
	case "update":
		return runUpdate(ctx, prof, hist, log, force)
	case "build":
		return runBuild(ctx, prof, hist, log)
	case "install":
		return system.New(log).Install(ctx, prof)
	case "flush-dns":
		return system.New(log).FlushDNSCache(ctx)
	case "history":
		return printHistory(ctx, prof, hist, historyN)
	}
	return fmt.Errorf("unknown command %q", command)
}

func runUpdate(ctx context.Context, prof *profile.Profile, hist storage.History,
	log *slog.Logger, force bool) error {

	started := time.Now().UTC()
	u := updater.New(prof, fetcher.New(http.DefaultClient), archive.New(log), log)
	stats, err := u.Run(ctx, force)
	if err != nil {
		return err
	}
	log.Info("update pass finished",
		"updated", stats.Updated, "skipped", stats.Skipped, "failed", stats.Failed)

	recordRun(ctx, hist, log, &model.Run{
		Profile:        prof.Name,
		Kind:           model.RunUpdate,
		SourcesUpdated: stats.Updated,
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
	})
	return nil
}

func runBuild(ctx context.Context, prof *profile.Profile, hist storage.History,
	log *slog.Logger) error {

	started := time.Now().UTC()
	stats, err := builder.New(prof, log).Build(ctx)
	if err != nil {
		return err
	}
	log.Info("build finished", "rules", stats.Rules, "ignored", stats.Ignored)

	recordRun(ctx, hist, log, &model.Run{
		Profile:      prof.Name,
		Kind:         model.RunBuild,
		RulesTotal:   stats.Rules,
		RulesIgnored: stats.Ignored,
		StartedAt:    started,
		FinishedAt:   time.Now().UTC(),
	})
	return nil
}

func recordRun(ctx context.Context, hist storage.History, log *slog.Logger, run *model.Run) {
	if hist == nil {
		return
	}
	if err := hist.RecordRun(ctx, run); err != nil {
		log.Warn("record run history", "error", err)
	}
}

func printHistory(ctx context.Context, prof *profile.Profile, hist storage.History, limit int) error {
	if hist == nil {
		return fmt.Errorf("history database is unavailable")
	}
	runs, err := hist.ListRuns(ctx, prof.Name, limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%s  %-6s  rules=%d ignored=%d updated=%d\n",
			r.FinishedAt.Format("2006-01-02 15:04:05"), r.Kind,
			r.RulesTotal, r.RulesIgnored, r.SourcesUpdated)
	}
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: hostsmgr [flags] <command>...")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  update              Refresh stale sources")
	fmt.Fprintln(os.Stderr, "  build               Build the hosts file from local sources")
	fmt.Fprintln(os.Stderr, "  install             Install the generated hosts file (sudo)")
	fmt.Fprintln(os.Stderr, "  flush-dns           Flush the system DNS cache (sudo)")
	fmt.Fprintln(os.Stderr, "  history             Show recent run summaries")
	fmt.Fprintln(os.Stderr, "  init-profile NAME   Scaffold a new profile")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	flag.PrintDefaults()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// overrideFlags collects repeated -override key=value flags.
type overrideFlags struct {
	m map[string]string
}

func (o *overrideFlags) String() string {
	var parts []string
	for k, v := range o.m {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (o *overrideFlags) Set(value string) error {
	key, val, ok := strings.Cut(value, "=")
	if !ok || key == "" {
		return fmt.Errorf("wrong override format %q, expected key=value", value)
	}
	if o.m == nil {
		o.m = make(map[string]string)
	}
	o.m[key] = val
	return nil
}
