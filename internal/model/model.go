// Package model defines the domain types used across the application.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"
)

// DateLayout is the date format used in the update ledger and in the
// generated artifact's header.
const DateLayout = "January 2 2006"

// Frequency is a source's declared refresh frequency class.
type Frequency string

// Supported refresh frequencies.
const (
	Daily      Frequency = "daily"
	Weekly     Frequency = "weekly"
	Monthly    Frequency = "monthly"
	Semestrial Frequency = "semestrial"
)

// ParseFrequency maps a configuration code to a Frequency. Full names and
// the legacy one-letter codes are both accepted; an empty code defaults to
// Monthly. An unknown code is a configuration error, never a silent
// "always update".
func ParseFrequency(code string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "":
		return Monthly, nil
	case "d", "daily":
		return Daily, nil
	case "w", "weekly":
		return Weekly, nil
	case "m", "monthly":
		return Monthly, nil
	case "s", "semestrial":
		return Semestrial, nil
	}
	return "", fmt.Errorf("unknown frequency %q", code)
}

// UnmarshalYAML decodes a frequency code from a profile configuration file.
func (f *Frequency) UnmarshalYAML(value *yaml.Node) error {
	var code string
	if err := value.Decode(&code); err != nil {
		return err
	}
	parsed, err := ParseFrequency(code)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// StaleAfterDays returns the number of whole days after which a source of
// this frequency is due for a refresh. Daily sources are always due.
func (f Frequency) StaleAfterDays() int {
	switch f {
	case Weekly:
		return 6
	case Monthly:
		return 29
	case Semestrial:
		return 87
	}
	return 0
}

// Source declares one external, independently fetched list of hostnames.
type Source struct {
	Name          string    `yaml:"name"`
	URL           string    `yaml:"url"`
	Frequency     Frequency `yaml:"frequency"`
	IsWhitelist   bool      `yaml:"is_whitelist"`
	PreProcessors []string  `yaml:"pre_processors"`
	UnzipProg     string    `yaml:"unzip_prog"`
	UnzipTarget   string    `yaml:"unzip_target"`
	UntarArg      string    `yaml:"untar_arg"`

	// Derived at profile load.
	Slug         string `yaml:"-"`
	DownloadPath string `yaml:"-"`
	LastUpdated  string `yaml:"-"`
}

// IsCompressed reports whether the source's payload is a compressed archive.
func (s *Source) IsCompressed() bool {
	return s.UnzipProg != ""
}

// SlugFor derives the filesystem-safe identifier for a source name. The
// downloaded payloads of all sources share one folder, which is why source
// names must be unique.
func SlugFor(name string) string {
	return "hosts-" + slug.Make(name)
}

// Rule is a normalized (address, hostname, comment) triple.
type Rule struct {
	Address  string
	Hostname string
	Comment  string
}

// Settings holds the per-profile options controlling artifact generation.
type Settings struct {
	TargetIP                string `yaml:"target_ip"`
	KeepDomainComments      bool   `yaml:"keep_domain_comments"`
	SkipStaticHosts         bool   `yaml:"skip_static_hosts"`
	CustomStaticHosts       string `yaml:"custom_static_hosts"`
	BackupOldGeneratedHosts bool   `yaml:"backup_old_generated_hosts"`
	BackupSystemHosts       bool   `yaml:"backup_system_hosts"`
	MaxBackupsToKeep        int    `yaml:"max_backups_to_keep"`
}

// DefaultSettings returns the settings applied before a profile
// configuration file is decoded over them.
func DefaultSettings() Settings {
	return Settings{
		TargetIP:                "0.0.0.0",
		BackupOldGeneratedHosts: true,
		BackupSystemHosts:       true,
		MaxBackupsToKeep:        10,
	}
}

// RunKind identifies what a recorded run did.
type RunKind string

// Supported run kinds.
const (
	RunUpdate RunKind = "update"
	RunBuild  RunKind = "build"
)

// Run is a summary of one update or build pass, kept in the history store.
type Run struct {
	ID             int64
	Profile        string
	Kind           RunKind
	RulesTotal     int
	RulesIgnored   int
	SourcesUpdated int
	StartedAt      time.Time
	FinishedAt     time.Time
}
