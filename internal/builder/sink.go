package builder

import (
	"fmt"
	"os"
	"strings"
)

// defaultChunkLines is how many composed lines are buffered before a flush
// to the temporary merge file.
const defaultChunkLines = 250000

// chunkSink accepts composed artifact lines and flushes them to a temporary
// file in bounded chunks, so peak memory stays independent of how large the
// combined sources are.
type chunkSink struct {
	file  *os.File
	buf   []string
	limit int
}

func newChunkSink(dir string, limit int) (*chunkSink, error) {
	if limit <= 0 {
		limit = defaultChunkLines
	}
	f, err := os.CreateTemp(dir, ".merge-*")
	if err != nil {
		return nil, fmt.Errorf("create merge file: %w", err)
	}
	return &chunkSink{file: f, limit: limit}, nil
}

// WriteLine buffers one line. The first return value reports whether the
// buffer reached the threshold and was flushed, which is a safe point for
// the caller to honor cancellation.
func (s *chunkSink) WriteLine(line string) (bool, error) {
	s.buf = append(s.buf, line)
	if len(s.buf) < s.limit {
		return false, nil
	}
	return true, s.Flush()
}

// Flush writes any buffered lines to the merge file.
func (s *chunkSink) Flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	if _, err := s.file.WriteString(strings.Join(s.buf, "\n") + "\n"); err != nil {
		return fmt.Errorf("flush merge file: %w", err)
	}
	s.buf = s.buf[:0]
	return nil
}

// Path returns the temporary merge file's location.
func (s *chunkSink) Path() string {
	return s.file.Name()
}

// Discard closes and removes the temporary merge file. Safe to call after
// the file has already been consumed.
func (s *chunkSink) Discard() {
	_ = s.file.Close()
	_ = os.Remove(s.file.Name())
}
