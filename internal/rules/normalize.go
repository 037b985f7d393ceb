// Package rules implements line normalization, pre-processing and exclusion
// resolution for blocklist sources.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"hostsmgr/internal/model"
)

// labelPattern validates one dot-separated hostname label: 1 to 63 word or
// hyphen characters, with no hyphen at either edge (IDN compatible).
var labelPattern = regexp.MustCompile(`^[\p{L}\p{N}_]([\p{L}\p{N}_-]{0,61}[\p{L}\p{N}_])?$`)

// Normalizer turns raw source lines into canonical hosts rules.
type Normalizer struct {
	TargetIP     string
	KeepComments bool
}

// Normalize parses one raw line into a Rule. The line is split on the first
// "#" into a rule body and a trailing comment; with two or more body tokens
// the second is the candidate hostname (hosts-file style), otherwise the
// first (plain domain list). The profile's target address always wins over
// any address token present in the line.
//
// The second return value is false when the line carries no valid hostname.
// Rejection is a normal outcome; callers count and log such lines instead of
// failing.
func (n Normalizer) Normalize(line string) (model.Rule, bool) {
	body, comment := line, ""
	if i := strings.Index(line, "#"); i >= 0 {
		body, comment = line[:i], strings.TrimSpace(line[i+1:])
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return model.Rule{}, false
	}
	hostname := fields[0]
	if len(fields) >= 2 {
		hostname = fields[1]
	}
	hostname = strings.TrimSuffix(strings.ToLower(hostname), ".")

	if !ValidHostname(hostname) {
		return model.Rule{}, false
	}
	return model.Rule{Address: n.TargetIP, Hostname: hostname, Comment: comment}, true
}

// FormatRule renders a rule as one artifact line. The result stays parseable
// by Normalize, so the tool's own output is valid input to a future merge.
func (n Normalizer) FormatRule(r model.Rule) string {
	if n.KeepComments && r.Comment != "" {
		return fmt.Sprintf("%s %s #%s", r.Address, r.Hostname, r.Comment)
	}
	return fmt.Sprintf("%s %s", r.Address, r.Hostname)
}

// ValidHostname reports whether host is acceptable: after stripping one
// trailing dot it must be longer than one character, shorter than 253, and
// every dot-separated label must match labelPattern.
func ValidHostname(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if len(host) <= 1 || len(host) >= 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if !labelPattern.MatchString(label) {
			return false
		}
	}
	return true
}

// SkipLine reports whether a raw line is dropped before normalization:
// blank lines, comment lines and anything mentioning the IPv6 loopback,
// which the static header block already covers. Skipped lines are not
// counted as ignored rules.
func SkipLine(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#") || strings.Contains(line, "::1")
}
