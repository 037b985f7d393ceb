// Package builder implements the merge-and-dedup engine that assembles the
// hosts artifact from downloaded sources.
package builder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"hostsmgr/internal/backup"
	"hostsmgr/internal/model"
	"hostsmgr/internal/profile"
	"hostsmgr/internal/rules"
)

const headerSeparator = "# ==============================================================="

// staticHostsBlock is prepended to the artifact unless skip_static_hosts is
// set. {host} is replaced with the machine's hostname.
const staticHostsBlock = `
127.0.0.1 localhost
127.0.0.1 localhost.localdomain
127.0.0.1 local
255.255.255.255 broadcasthost
::1 localhost ip6-localhost ip6-loopback
fe80::1%lo0 localhost
ff02::1 ip6-allnodes
ff02::2 ip6-allrouters
0.0.0.0 0.0.0.0
127.0.1.1 {host}
127.0.0.53 {host}

`

// staticNames seeds the seen-hostnames set so sources can never re-add the
// names the static header block already covers.
var staticNames = []string{
	"localhost",
	"localhost.localdomain",
	"local",
	"broadcasthost",
	"ip6-localhost",
	"ip6-loopback",
	"ip6-allnodes",
	"ip6-allrouters",
}

// Stats summarizes one build.
type Stats struct {
	Rules   int
	Ignored int
}

// Builder merges every local source into one deduplicated hosts artifact.
type Builder struct {
	prof      *profile.Profile
	log       *slog.Logger
	chunkSize int
	now       func() time.Time
}

// New creates a Builder for the given profile.
func New(prof *profile.Profile, log *slog.Logger) *Builder {
	return &Builder{
		prof:      prof,
		log:       log,
		chunkSize: defaultChunkLines,
		now:       time.Now,
	}
}

// SetChunkSize overrides the default flush threshold (useful for testing).
func (b *Builder) SetChunkSize(n int) {
	b.chunkSize = n
}

// SetNow overrides the clock used for the header date (useful for testing).
func (b *Builder) SetNow(fn func() time.Time) {
	b.now = fn
}

// Build streams all non-whitelist sources plus the static blacklist files
// through normalization, exclusion and dedup, then writes the artifact.
// The previous artifact is only replaced once the new one is complete with
// its header; a cancelled build leaves it untouched.
func (b *Builder) Build(ctx context.Context) (Stats, error) {
	var stats Stats

	norm := rules.Normalizer{
		TargetIP:     b.prof.Settings.TargetIP,
		KeepComments: b.prof.Settings.KeepDomainComments,
	}

	b.log.Info("populating the exclusions list")
	excl := rules.BuildExclusions(b.prof.WhitelistFiles(), b.whitelistSources(), norm, b.log)

	seen := make(map[string]struct{}, len(staticNames))
	for _, name := range staticNames {
		seen[name] = struct{}{}
	}

	sink, err := newChunkSink(b.prof.Dir, b.chunkSize)
	if err != nil {
		return stats, err
	}
	defer sink.Discard()

	b.log.Info("adding rules from local sources")
	for _, src := range b.prof.Sources {
		if src.IsWhitelist {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := b.mergeSource(ctx, src, norm, excl, seen, sink, &stats); err != nil {
			return stats, err
		}
	}

	b.log.Info("adding rules from blacklist files")
	for _, path := range b.prof.BlacklistFiles() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		mergeErr := b.mergeLines(ctx, f, path, norm, excl, seen, sink, &stats)
		_ = f.Close()
		if mergeErr != nil {
			return stats, mergeErr
		}
	}

	if err := sink.Flush(); err != nil {
		return stats, err
	}

	if b.prof.Settings.BackupOldGeneratedHosts {
		if _, err := os.Stat(b.prof.HostsFile); err == nil {
			if err := backup.Keep(b.prof.HostsFile, b.prof.BackupsDir, "generated-hosts",
				b.prof.Settings.MaxBackupsToKeep); err != nil {
				b.log.Warn("back up previous artifact", "error", err)
			} else {
				b.log.Info("previous artifact backed up")
			}
		}
	}

	if err := b.writeArtifact(sink.Path(), stats.Rules); err != nil {
		return stats, err
	}

	b.log.Info("hosts file building finished", "rules", stats.Rules)
	if stats.Ignored > 0 {
		b.log.Warn("some rules were ignored", "ignored", stats.Ignored)
	}
	return stats, nil
}

// whitelistSources collects the is_whitelist sources with their resolved
// pre-processor chains for exclusion resolution.
func (b *Builder) whitelistSources() []rules.WhitelistSource {
	var out []rules.WhitelistSource
	for _, src := range b.prof.Sources {
		if !src.IsWhitelist {
			continue
		}
		out = append(out, rules.WhitelistSource{
			Name:  src.Name,
			Path:  b.prof.RawPayload(src),
			Chain: b.prof.ChainFor(src),
		})
	}
	return out
}

// mergeSource feeds one source's payload into the merge. A source with a
// pre-processor chain is read whole, since chain transforms operate on the
// full text; plain sources are streamed line by line.
func (b *Builder) mergeSource(ctx context.Context, src model.Source, norm rules.Normalizer,
	excl rules.ExclusionSet, seen map[string]struct{}, sink *chunkSink, stats *Stats) error {

	path := b.prof.RawPayload(src)
	chain := b.prof.ChainFor(src)

	if len(chain) == 0 {
		f, err := os.Open(path)
		if err != nil {
			b.log.Warn("source payload missing, run update first", "source", src.Name, "path", path)
			return nil
		}
		mergeErr := b.mergeLines(ctx, f, src.Name, norm, excl, seen, sink, stats)
		_ = f.Close()
		return mergeErr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		b.log.Warn("source payload missing, run update first", "source", src.Name, "path", path)
		return nil
	}
	text := rules.ApplyChain(chain, string(data), b.log)
	return b.mergeLines(ctx, strings.NewReader(text), src.Name, norm, excl, seen, sink, stats)
}

// mergeLines is the per-line core of the merge: skip, normalize, exclude,
// dedup, emit. First occurrence of a hostname wins; later duplicates are
// dropped regardless of their address.
func (b *Builder) mergeLines(ctx context.Context, r io.Reader, label string, norm rules.Normalizer,
	excl rules.ExclusionSet, seen map[string]struct{}, sink *chunkSink, stats *Stats) error {

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rules.SkipLine(line) {
			continue
		}

		rule, ok := norm.Normalize(line)
		if !ok {
			stats.Ignored++
			b.log.Warn("ignored line", "source", label, "line", line)
			continue
		}
		if excl.Contains(rule.Hostname) {
			continue
		}
		if _, dup := seen[rule.Hostname]; dup {
			continue
		}
		seen[rule.Hostname] = struct{}{}

		flushed, err := sink.WriteLine(norm.FormatRule(rule))
		if err != nil {
			return err
		}
		stats.Rules++
		if flushed {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read source %s: %w", label, err)
	}
	return nil
}

// writeArtifact assembles header plus merged body into a fresh temp file and
// renames it over the artifact path. Partial output never becomes the new
// artifact.
func (b *Builder) writeArtifact(bodyPath string, ruleCount int) error {
	b.log.Info("writing the opening header")

	tmp, err := os.CreateTemp(b.prof.Dir, ".hosts-*")
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}
	discard := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	if _, err := tmp.WriteString(b.header(ruleCount)); err != nil {
		discard()
		return fmt.Errorf("write artifact header: %w", err)
	}

	body, err := os.Open(bodyPath)
	if err != nil {
		discard()
		return fmt.Errorf("open merge file: %w", err)
	}
	_, copyErr := io.Copy(tmp, body)
	_ = body.Close()
	if copyErr != nil {
		discard()
		return fmt.Errorf("write artifact body: %w", copyErr)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close artifact file: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.prof.HostsFile); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

func (b *Builder) header(ruleCount int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Date: %s\n", b.now().Format(model.DateLayout))
	fmt.Fprintf(&sb, "# Number of unique domains: %d\n", ruleCount)
	sb.WriteString(headerSeparator + "\n")

	if !b.prof.Settings.SkipStaticHosts {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "localhost"
		}
		sb.WriteString(strings.ReplaceAll(staticHostsBlock, "{host}", host))
		if custom := strings.TrimSpace(b.prof.Settings.CustomStaticHosts); custom != "" {
			sb.WriteString(custom + "\n\n")
		}
	}
	return sb.String()
}
