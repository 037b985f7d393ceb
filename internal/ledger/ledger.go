// Package ledger persists each source's last-successful-update date.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Ledger maps source slugs to the date of their last successful update. It
// is loaded once at profile open, mutated in memory while sources are
// refreshed, and saved exactly once at the end of a successful update pass.
type Ledger struct {
	path    string
	entries map[string]string
}

// Load reads the ledger at path. A missing or unreadable file yields an
// empty ledger, which makes every source look never-fetched and therefore
// due for a refresh.
func Load(path string) *Ledger {
	l := &Ledger{path: path, entries: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		return l
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		l.entries = make(map[string]string)
	}
	return l
}

// Get returns the recorded date for slug, or "" when none is recorded.
func (l *Ledger) Get(slug string) string {
	return l.entries[slug]
}

// Set records date as the last successful update for slug. The change lives
// in memory until Save is called.
func (l *Ledger) Set(slug, date string) {
	l.entries[slug] = date
}

// Save writes the ledger atomically: a temp file in the same directory is
// renamed over the old file, so a crash mid-write never leaves a truncated
// ledger behind.
func (l *Ledger) Save() error {
	data, err := json.MarshalIndent(l.entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".last_updated-*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
