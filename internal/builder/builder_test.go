package builder

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"hostsmgr/internal/model"
	"hostsmgr/internal/profile"
)

const minimalConf = `
settings:
  skip_static_hosts: true
sources:
  - name: alpha
    url: http://lists.example.com/alpha
  - name: beta
    url: http://lists.example.com/beta
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProfile(t *testing.T, conf string) *profile.Profile {
	t.Helper()
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "profiles", "test")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("create profile dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "conf.yaml"), []byte(conf), 0o640); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	prof, err := profile.Load(dataDir, "test", nil, nil)
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	return prof
}

func writePayload(t *testing.T, prof *profile.Profile, sourceName, content string) {
	t.Helper()
	path := filepath.Join(prof.SourcesRaw, model.SlugFor(sourceName))
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatalf("write payload for %s: %v", sourceName, err)
	}
}

// artifactRules reads the generated artifact and returns its rule lines,
// skipping the three-line header.
func artifactRules(t *testing.T, prof *profile.Profile) []string {
	t.Helper()
	data, err := os.ReadFile(prof.HostsFile)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var out []string
	for i, line := range strings.Split(string(data), "\n") {
		if i < 3 || strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func TestBuildDedupAcrossSources(t *testing.T) {
	prof := newTestProfile(t, minimalConf)
	writePayload(t, prof, "alpha", "0.0.0.0 bad.com\n0.0.0.0 BAD.com\n")
	writePayload(t, prof, "beta", "good.com # ok\n")

	stats, err := New(prof, discardLogger()).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if diff := cmp.Diff(Stats{Rules: 2}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	want := []string{"0.0.0.0 bad.com", "0.0.0.0 good.com"}
	if diff := cmp.Diff(want, artifactRules(t, prof)); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildExclusionSuppresses(t *testing.T) {
	prof := newTestProfile(t, minimalConf)
	writePayload(t, prof, "alpha", "0.0.0.0 bad.com\n0.0.0.0 BAD.com\n")
	writePayload(t, prof, "beta", "good.com # ok\n")
	if err := os.WriteFile(prof.Whitelist, []byte("bad.com\n"), 0o640); err != nil {
		t.Fatalf("write whitelist: %v", err)
	}

	stats, err := New(prof, discardLogger()).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if diff := cmp.Diff(Stats{Rules: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	want := []string{"0.0.0.0 good.com"}
	if diff := cmp.Diff(want, artifactRules(t, prof)); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildIgnoresInvalidLines(t *testing.T) {
	prof := newTestProfile(t, minimalConf)
	writePayload(t, prof, "alpha", "not a valid host!!\nok.example.com\n")
	writePayload(t, prof, "beta", "")

	stats, err := New(prof, discardLogger()).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if diff := cmp.Diff(Stats{Rules: 1, Ignored: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	want := []string{"0.0.0.0 ok.example.com"}
	if diff := cmp.Diff(want, artifactRules(t, prof)); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildIdempotent(t *testing.T) {
	prof := newTestProfile(t, minimalConf)
	writePayload(t, prof, "alpha", "0.0.0.0 bad.com\ntracker.example.net\n")
	writePayload(t, prof, "beta", "good.com\n")

	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	build := func() []byte {
		b := New(prof, discardLogger())
		b.SetNow(func() time.Time { return fixed })
		if _, err := b.Build(context.Background()); err != nil {
			t.Fatalf("build: %v", err)
		}
		data, err := os.ReadFile(prof.HostsFile)
		if err != nil {
			t.Fatalf("read artifact: %v", err)
		}
		return data
	}

	first := build()
	second := build()
	if diff := cmp.Diff(string(first), string(second)); diff != "" {
		t.Errorf("artifacts differ between identical builds (-first +second):\n%s", diff)
	}
}

func TestBuildStaticNamesNeverReadded(t *testing.T) {
	prof := newTestProfile(t, minimalConf)
	writePayload(t, prof, "alpha", "0.0.0.0 localhost\n255.255.255.255 broadcasthost\nreal.example.com\n")
	writePayload(t, prof, "beta", "")

	stats, err := New(prof, discardLogger()).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := []string{"0.0.0.0 real.example.com"}
	if diff := cmp.Diff(want, artifactRules(t, prof)); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Rules: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildWhitelistSourceExcludes(t *testing.T) {
	conf := `
settings:
  skip_static_hosts: true
sources:
  - name: alpha
    url: http://lists.example.com/alpha
  - name: allow
    url: http://lists.example.com/allow
    is_whitelist: true
`
	prof := newTestProfile(t, conf)
	writePayload(t, prof, "alpha", "bad.com\ngood.com\n")
	writePayload(t, prof, "allow", "0.0.0.0 bad.com\n")

	stats, err := New(prof, discardLogger()).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// The whitelist source suppresses bad.com and is itself never merged.
	want := []string{"0.0.0.0 good.com"}
	if diff := cmp.Diff(want, artifactRules(t, prof)); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Rules: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPreProcessedSource(t *testing.T) {
	conf := `
settings:
  skip_static_hosts: true
sources:
  - name: jsonlist
    url: http://lists.example.com/json
    pre_processors: [json_array]
`
	prof := newTestProfile(t, conf)
	writePayload(t, prof, "jsonlist", `["x.example.com", "y.example.com"]`)

	stats, err := New(prof, discardLogger()).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := []string{"0.0.0.0 x.example.com", "0.0.0.0 y.example.com"}
	if diff := cmp.Diff(want, artifactRules(t, prof)); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Rules: 2}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildBlacklistFiles(t *testing.T) {
	prof := newTestProfile(t, minimalConf)
	writePayload(t, prof, "alpha", "first.example.com\n")
	writePayload(t, prof, "beta", "")
	if err := os.WriteFile(prof.Blacklist, []byte("extra.example.com\n"), 0o640); err != nil {
		t.Fatalf("write blacklist: %v", err)
	}

	_, err := New(prof, discardLogger()).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	want := []string{"0.0.0.0 first.example.com", "0.0.0.0 extra.example.com"}
	if diff := cmp.Diff(want, artifactRules(t, prof)); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildChunkedFlush(t *testing.T) {
	prof := newTestProfile(t, minimalConf)
	hosts := []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com", "e.example.com"}
	writePayload(t, prof, "alpha", strings.Join(hosts, "\n")+"\n")
	writePayload(t, prof, "beta", "")

	b := New(prof, discardLogger())
	b.SetChunkSize(2)
	stats, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var want []string
	for _, h := range hosts {
		want = append(want, "0.0.0.0 "+h)
	}
	if diff := cmp.Diff(want, artifactRules(t, prof)); diff != "" {
		t.Errorf("artifact mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{Rules: 5}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildHeader(t *testing.T) {
	conf := `
settings:
  custom_static_hosts: "10.0.0.1 router.lan"
sources:
  - name: alpha
    url: http://lists.example.com/alpha
`
	prof := newTestProfile(t, conf)
	writePayload(t, prof, "alpha", "bad.com\n")

	if _, err := New(prof, discardLogger()).Build(context.Background()); err != nil {
		t.Fatalf("build: %v", err)
	}

	data, err := os.ReadFile(prof.HostsFile)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		"# Number of unique domains: 1",
		"127.0.0.1 localhost",
		"255.255.255.255 broadcasthost",
		"10.0.0.1 router.lan",
		"0.0.0.0 bad.com",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("artifact missing %q", want)
		}
	}
}

func TestBuildBacksUpPreviousArtifact(t *testing.T) {
	prof := newTestProfile(t, minimalConf)
	writePayload(t, prof, "alpha", "bad.com\n")
	writePayload(t, prof, "beta", "")

	b := New(prof, discardLogger())
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if _, err := b.Build(context.Background()); err != nil {
		t.Fatalf("second build: %v", err)
	}

	backups, err := filepath.Glob(filepath.Join(prof.BackupsDir, "generated-hosts-*"))
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(backups) != 1 {
		t.Errorf("backup count = %d, want 1", len(backups))
	}
}

func TestBuildCancelledContext(t *testing.T) {
	prof := newTestProfile(t, minimalConf)
	writePayload(t, prof, "alpha", "bad.com\n")
	writePayload(t, prof, "beta", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(prof, discardLogger()).Build(ctx); err == nil {
		t.Fatal("expected error from cancelled build, got nil")
	}
	if _, err := os.Stat(prof.HostsFile); !os.IsNotExist(err) {
		t.Errorf("cancelled build must not produce an artifact, stat err = %v", err)
	}
}
