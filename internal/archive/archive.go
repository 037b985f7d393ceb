// Package archive extracts compressed source payloads via external tools.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"hostsmgr/internal/model"
)

// ErrToolNotFound reports that a source's declared extraction tool is not
// installed on this system.
var ErrToolNotFound = errors.New("extraction tool not found")

// Dispatcher resolves a source's declared archive tool to a concrete command
// line, runs it, and relocates the extracted target member into the raw
// sources storage area.
type Dispatcher struct {
	log      *slog.Logger
	lookPath func(string) (string, error)
}

// New creates a Dispatcher.
func New(log *slog.Logger) *Dispatcher {
	return &Dispatcher{log: log, lookPath: exec.LookPath}
}

// Command returns the extraction command line for a source's declared tool.
func Command(src model.Source) ([]string, error) {
	switch src.UnzipProg {
	case "7z":
		return []string{"7z", "e", "-y", src.DownloadPath}, nil
	case "unzip":
		return []string{"unzip", "-o", src.DownloadPath}, nil
	case "gzip":
		// Decompressed to stdout; the dispatcher redirects it into the
		// target member, since the payload carries no .gz suffix.
		return []string{"gzip", "-dc", src.DownloadPath}, nil
	case "tar":
		if src.UntarArg == "" {
			return nil, fmt.Errorf("the tar tool requires an untar_arg")
		}
		return []string{"tar", src.UntarArg, "-xf", src.DownloadPath}, nil
	}
	return nil, fmt.Errorf("unsupported extraction tool %q", src.UnzipProg)
}

// Extract runs the source's extraction command in the archive's directory
// and moves the declared target member to rawDir under the source's slug,
// overwriting any stale copy. It returns the relocated file's path.
func (d *Dispatcher) Extract(ctx context.Context, src model.Source, rawDir string) (string, error) {
	argv, err := Command(src)
	if err != nil {
		return "", err
	}
	tool, err := d.lookPath(argv[0])
	if err != nil {
		return "", fmt.Errorf("%w: %q is not installed", ErrToolNotFound, argv[0])
	}

	workDir := filepath.Dir(src.DownloadPath)
	member := filepath.Join(workDir, src.UnzipTarget)

	cmd := exec.CommandContext(ctx, tool, argv[1:]...) //nolint:gosec // argv comes from the validated allow-list
	cmd.Dir = workDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if src.UnzipProg == "gzip" {
		out, err := os.Create(member)
		if err != nil {
			return "", fmt.Errorf("create extraction target: %w", err)
		}
		cmd.Stdout = out
		runErr := cmd.Run()
		closeErr := out.Close()
		if runErr != nil {
			return "", fmt.Errorf("run gzip: %w (%s)", runErr, stderr.String())
		}
		if closeErr != nil {
			return "", fmt.Errorf("close extraction target: %w", closeErr)
		}
	} else {
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			return "", fmt.Errorf("run %s: %w (%s)", argv[0], err, stderr.String())
		}
		if stdout.Len() > 0 {
			d.log.Debug("extractor output", "tool", argv[0], "output", stdout.String())
		}
	}

	dest := filepath.Join(rawDir, src.Slug)
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("remove stale payload: %w", err)
	}
	if err := os.Rename(member, dest); err != nil {
		return "", fmt.Errorf("relocate extracted member: %w", err)
	}
	return dest, nil
}
