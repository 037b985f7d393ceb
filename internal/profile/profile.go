// Package profile loads and validates per-profile configuration.
package profile

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"hostsmgr/internal/ledger"
	"hostsmgr/internal/model"
	"hostsmgr/internal/rules"
)

// untarArgs is the restricted allow-list of decompression flags for tar.
var untarArgs = map[string]bool{
	"--xz": true, "-J": true,
	"--gzip": true, "-z": true,
	"--bzip2": true, "-j": true,
}

var unzipProgs = map[string]bool{
	"unzip": true, "gzip": true, "7z": true, "tar": true,
}

// Profile is a fully resolved profile: validated settings, the sorted source
// list with derived fields attached, resolved pre-processor chains and the
// opened update ledger.
type Profile struct {
	Name     string
	Dir      string
	Settings model.Settings
	Sources  []model.Source
	Ledger   *ledger.Ledger

	HostsFile         string
	LedgerPath        string
	SourcesRaw        string
	SourcesCompressed string
	BackupsDir        string
	Whitelist         string
	Blacklist         string
	GlobalWhitelist   string
	GlobalBlacklist   string

	chains map[string][]rules.PreProcessor
}

// Load opens the named profile under dataDir and validates it. Overrides are
// key=value settings from the command line applied on top of the file.
// Custom pre-processors, if any, are registered under their identifiers and
// resolved alongside the built-ins. Malformed configuration is fatal here;
// a run never starts on a broken profile.
func Load(dataDir, name string, overrides map[string]string, custom map[string]rules.ProcessorFunc) (*Profile, error) {
	if name == "" {
		return nil, fmt.Errorf("no profile name provided")
	}
	dir := filepath.Join(dataDir, "profiles", name)

	raw, err := os.ReadFile(filepath.Join(dir, "conf.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read profile config: %w", err)
	}

	conf := struct {
		Settings model.Settings `yaml:"settings"`
		Sources  []model.Source `yaml:"sources"`
	}{Settings: model.DefaultSettings()}

	if err := yaml.Unmarshal(raw, &conf); err != nil {
		return nil, fmt.Errorf("parse profile config: %w", err)
	}
	if err := ApplyOverrides(&conf.Settings, overrides); err != nil {
		return nil, err
	}
	if err := validateSettings(conf.Settings); err != nil {
		return nil, err
	}
	if err := validateSources(conf.Sources); err != nil {
		return nil, err
	}

	p := &Profile{
		Name:              name,
		Dir:               dir,
		Settings:          conf.Settings,
		HostsFile:         filepath.Join(dir, "hosts"),
		LedgerPath:        filepath.Join(dir, "last_updated.json"),
		SourcesRaw:        filepath.Join(dir, "sources_storage", "raw"),
		SourcesCompressed: filepath.Join(dir, "sources_storage", "compressed"),
		BackupsDir:        filepath.Join(dir, "backups_storage"),
		Whitelist:         filepath.Join(dir, "whitelist"),
		Blacklist:         filepath.Join(dir, "blacklist"),
		GlobalWhitelist:   filepath.Join(dataDir, "global_whitelist"),
		GlobalBlacklist:   filepath.Join(dataDir, "global_blacklist"),
		chains:            make(map[string][]rules.PreProcessor),
	}
	p.Ledger = ledger.Load(p.LedgerPath)

	for i := range conf.Sources {
		src := &conf.Sources[i]
		// An absent frequency key never reaches UnmarshalYAML, so the
		// default is applied here rather than in the decoder.
		if src.Frequency == "" {
			src.Frequency = model.Monthly
		}
		src.Slug = model.SlugFor(src.Name)
		if src.IsCompressed() {
			src.DownloadPath = filepath.Join(p.SourcesCompressed, src.Slug, src.Slug)
		} else {
			src.DownloadPath = filepath.Join(p.SourcesRaw, src.Slug)
		}
		src.LastUpdated = p.Ledger.Get(src.Slug)

		chain, err := rules.Resolve(src.PreProcessors, custom)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
		p.chains[src.Slug] = chain
	}

	// Processing order is the sorted-by-name order, kept stable so dedup
	// tie-breaking stays deterministic between runs.
	sort.Slice(conf.Sources, func(i, j int) bool {
		return conf.Sources[i].Name < conf.Sources[j].Name
	})
	p.Sources = conf.Sources

	for _, d := range []string{p.SourcesRaw, p.SourcesCompressed, p.BackupsDir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, fmt.Errorf("create profile directory: %w", err)
		}
	}
	return p, nil
}

// RawPayload returns where a source's merge-ready text lives: the download
// path for plain sources, the relocated extraction target for compressed
// ones. Both end up under the raw storage folder keyed by slug.
func (p *Profile) RawPayload(src model.Source) string {
	return filepath.Join(p.SourcesRaw, src.Slug)
}

// ChainFor returns the resolved pre-processor chain for a source.
func (p *Profile) ChainFor(src model.Source) []rules.PreProcessor {
	return p.chains[src.Slug]
}

// WhitelistFiles returns the static whitelist files in resolution order,
// profile-level before global.
func (p *Profile) WhitelistFiles() []string {
	return []string{p.Whitelist, p.GlobalWhitelist}
}

// BlacklistFiles returns the static blacklist files in merge order,
// profile-level before global.
func (p *Profile) BlacklistFiles() []string {
	return []string{p.Blacklist, p.GlobalBlacklist}
}

// ApplyOverrides applies key=value settings overrides, validating each value
// with the same rules as the configuration file.
func ApplyOverrides(s *model.Settings, overrides map[string]string) error {
	for key, value := range overrides {
		switch key {
		case "target_ip":
			s.TargetIP = value
		case "custom_static_hosts":
			s.CustomStaticHosts = value
		case "max_backups_to_keep":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("override %s: not a valid non-negative integer: %q", key, value)
			}
			s.MaxBackupsToKeep = n
		case "keep_domain_comments", "skip_static_hosts",
			"backup_old_generated_hosts", "backup_system_hosts":
			b, err := parseBool(value)
			if err != nil {
				return fmt.Errorf("override %s: %w", key, err)
			}
			switch key {
			case "keep_domain_comments":
				s.KeepDomainComments = b
			case "skip_static_hosts":
				s.SkipStaticHosts = b
			case "backup_old_generated_hosts":
				s.BackupOldGeneratedHosts = b
			case "backup_system_hosts":
				s.BackupSystemHosts = b
			}
		default:
			return fmt.Errorf("unknown override key %q", key)
		}
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("valid boolean values are true, 1, false or 0: %q", value)
}

func validateSettings(s model.Settings) error {
	if _, err := netip.ParseAddr(s.TargetIP); err != nil {
		return fmt.Errorf("invalid target_ip %q: %w", s.TargetIP, err)
	}
	if s.MaxBackupsToKeep < 0 {
		return fmt.Errorf("max_backups_to_keep must not be negative")
	}
	return nil
}

// validateSources collects every problem instead of stopping at the first,
// so one load reports all the fixes a profile needs.
func validateSources(sources []model.Source) error {
	if len(sources) == 0 {
		return fmt.Errorf("the sources list is not declared or empty")
	}

	var errs []string
	names := make(map[string]bool)
	for _, src := range sources {
		label := src.Name
		if label == "" {
			label = src.URL
		}
		if src.Name == "" {
			errs = append(errs, fmt.Sprintf("missing mandatory name key (source %q)", label))
		}
		if src.URL == "" {
			errs = append(errs, fmt.Sprintf("missing mandatory url key (source %q)", label))
		}
		if src.Name != "" {
			if names[src.Name] {
				errs = append(errs, fmt.Sprintf("more than one source named %q", src.Name))
			}
			names[src.Name] = true
		}
		if src.UnzipProg != "" && !unzipProgs[src.UnzipProg] {
			errs = append(errs, fmt.Sprintf("unsupported unzip_prog %q (source %q)", src.UnzipProg, label))
		}
		if src.UnzipProg != "" && src.UnzipTarget == "" {
			errs = append(errs, fmt.Sprintf("unzip_prog without unzip_target (source %q)", label))
		}
		if src.UnzipTarget != "" && src.UnzipProg == "" {
			errs = append(errs, fmt.Sprintf("unzip_target without unzip_prog (source %q)", label))
		}
		if src.UnzipProg == "tar" && !untarArgs[src.UntarArg] {
			errs = append(errs, fmt.Sprintf("tar requires a supported untar_arg (source %q)", label))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("malformed sources:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}
