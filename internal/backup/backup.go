// Package backup creates timestamped file copies and prunes old ones.
package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// stampLayout sorts lexicographically, which keeps pruning a plain sort.
const stampLayout = "2006-01-02-15-04-05"

// Keep copies path into dir as "<prefix>-<timestamp>" and then removes the
// oldest surplus copies so at most max remain.
func Keep(path, dir, prefix string, max int) error {
	name := fmt.Sprintf("%s-%s", prefix, time.Now().Format(stampLayout))
	if err := copyFile(path, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("back up %s: %w", path, err)
	}
	return Prune(dir, prefix, max)
}

// Prune removes the oldest "<prefix>-*" files in dir, keeping at most max.
func Prune(dir, prefix string, max int) error {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*"))
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}
	if len(matches) <= max {
		return nil
	}
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-max] {
		if err := os.Remove(old); err != nil {
			return fmt.Errorf("remove surplus backup: %w", err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
