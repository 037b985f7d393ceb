package rules

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
)

// ExclusionSet is the set of hostnames suppressed from the artifact. It is
// populated once per build and read-only during the merge phase.
type ExclusionSet map[string]struct{}

// Contains reports whether host is excluded.
func (e ExclusionSet) Contains(host string) bool {
	_, ok := e[host]
	return ok
}

// WhitelistSource is one is_whitelist source ready for exclusion resolution.
type WhitelistSource struct {
	Name  string
	Path  string
	Chain []PreProcessor
}

// BuildExclusions assembles the exclusion set for one build. Static
// whitelist files (profile-level first, then global) contribute every
// non-empty, non-comment line verbatim; these entries are user-authored and
// deliberately not hostname-validated. Whitelist-type sources run through
// their pre-processor chain and the normalizer, with skip and rejection
// rules identical to the main merge, and contribute only the hostname of
// each accepted rule.
func BuildExclusions(files []string, sources []WhitelistSource, norm Normalizer, log *slog.Logger) ExclusionSet {
	set := make(ExclusionSet)

	for _, path := range files {
		if err := addWhitelistFile(set, path); err != nil {
			if !os.IsNotExist(err) {
				log.Warn("read whitelist file", "path", path, "error", err)
			}
			continue
		}
		log.Info("added exclusions from whitelist file", "path", path)
	}

	for _, ws := range sources {
		data, err := os.ReadFile(ws.Path)
		if err != nil {
			log.Warn("whitelist source payload missing", "source", ws.Name, "error", err)
			continue
		}
		text := ApplyChain(ws.Chain, string(data), log)

		scanner := bufio.NewScanner(strings.NewReader(text))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if SkipLine(line) {
				continue
			}
			if rule, ok := norm.Normalize(line); ok {
				set[rule.Hostname] = struct{}{}
			}
		}
		log.Info("added exclusions from whitelist source", "source", ws.Name)
	}

	return set
}

func addWhitelistFile(set ExclusionSet, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set[line] = struct{}{}
	}
	return scanner.Err()
}
