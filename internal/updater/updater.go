// Package updater decides which sources are stale and refreshes their local
// payloads.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"hostsmgr/internal/model"
	"hostsmgr/internal/profile"
)

// Downloader fetches a source payload into a local file.
type Downloader interface {
	Download(ctx context.Context, url, dest string) error
}

// Extractor unpacks a compressed source payload into the raw storage area
// and returns the extracted file's path.
type Extractor interface {
	Extract(ctx context.Context, src model.Source, rawDir string) (string, error)
}

// Stats summarizes one update pass.
type Stats struct {
	Updated int
	Skipped int
	Failed  int
}

// Updater drives one sequential update pass over a profile's sources.
type Updater struct {
	prof *profile.Profile
	dl   Downloader
	ex   Extractor
	log  *slog.Logger
	now  func() time.Time
}

// New creates an Updater for the given profile.
func New(prof *profile.Profile, dl Downloader, ex Extractor, log *slog.Logger) *Updater {
	return &Updater{prof: prof, dl: dl, ex: ex, log: log, now: time.Now}
}

// SetNow overrides the clock (useful for testing).
func (u *Updater) SetNow(fn func() time.Time) {
	u.now = fn
}

// ShouldUpdate reports whether a source is due for a refresh at time now.
// The decision fails open: a never-fetched source, a missing payload file
// or an unparsable ledger date all force a refresh.
func ShouldUpdate(src model.Source, now time.Time, force bool) bool {
	if force || src.LastUpdated == "" {
		return true
	}
	if src.Frequency == model.Daily {
		return true
	}
	if _, err := os.Stat(src.DownloadPath); err != nil {
		return true
	}

	then, err := time.Parse(model.DateLayout, src.LastUpdated)
	if err != nil {
		return true
	}
	// Compare calendar dates, not instants, so "6 days ago" means six whole
	// days regardless of the time of day the pass runs.
	today, err := time.Parse(model.DateLayout, now.Format(model.DateLayout))
	if err != nil {
		return true
	}
	days := int(today.Sub(then).Hours() / 24)
	return days > src.Frequency.StaleAfterDays()
}

// Run refreshes every due source in sorted order. A failing download is
// logged with its URL and skipped, leaving its ledger entry unchanged so it
// is retried next pass. The ledger is saved once, atomically, after the
// whole pass; cancellation unwinds without saving. Compressed payloads are
// extracted after the ledger commit.
func (u *Updater) Run(ctx context.Context, force bool) (Stats, error) {
	var stats Stats
	today := u.now().Format(model.DateLayout)
	var compressed []model.Source

	for _, src := range u.prof.Sources {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !ShouldUpdate(src, u.now(), force) {
			u.log.Info("source does not need updating", "source", src.Name)
			stats.Skipped++
			continue
		}

		u.log.Info("updating source", "source", src.Name)
		if src.IsCompressed() {
			if err := os.MkdirAll(filepath.Dir(src.DownloadPath), 0o750); err != nil {
				u.log.Error("create source storage", "source", src.Name, "error", err)
				stats.Failed++
				continue
			}
		}

		if err := u.dl.Download(ctx, src.URL, src.DownloadPath); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			u.log.Error("update source", "source", src.Name, "url", src.URL, "error", err)
			stats.Failed++
			continue
		}

		u.prof.Ledger.Set(src.Slug, today)
		stats.Updated++
		if src.IsCompressed() {
			compressed = append(compressed, src)
		}
	}

	if err := u.prof.Ledger.Save(); err != nil {
		return stats, fmt.Errorf("save ledger: %w", err)
	}

	for _, src := range compressed {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		u.log.Info("decompressing source", "source", src.Name)
		if _, err := u.ex.Extract(ctx, src, u.prof.SourcesRaw); err != nil {
			u.log.Error("extract source", "source", src.Name, "error", err)
			stats.Failed++
		}
	}
	return stats, nil
}
