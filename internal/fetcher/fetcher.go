// Package fetcher downloads source payloads over HTTP.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxPayloadBytes bounds a single download. Generous because blocklists
// routinely run to tens of megabytes.
const maxPayloadBytes = 256 << 20

// Fetcher downloads files with retries and atomic writes.
type Fetcher struct {
	client   HTTPClient
	retries  uint64
	backoff  time.Duration
	maxBytes int64
}

// New creates a Fetcher with the given HTTP client. A nil client falls back
// to http.DefaultClient.
func New(client HTTPClient) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:   client,
		retries:  3,
		backoff:  500 * time.Millisecond,
		maxBytes: maxPayloadBytes,
	}
}

// SetRetryBackoff overrides the initial retry delay (useful for testing).
func (f *Fetcher) SetRetryBackoff(d time.Duration) {
	f.backoff = d
}

// SetMaxPayloadSize overrides the response body size cap (useful for
// testing).
func (f *Fetcher) SetMaxPayloadSize(n int64) {
	f.maxBytes = n
}

// Download fetches url into dest. Network errors and server-side failures
// are retried with exponential backoff; client-side rejections are not. The
// destination is written via a temp file and rename, so a failed download
// never clobbers a previously good payload.
func (f *Fetcher) Download(ctx context.Context, url, dest string) error {
	b := retry.WithMaxRetries(f.retries, retry.NewExponential(f.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		return f.fetchOnce(ctx, url, dest)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "hostsmgr/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return retry.RetryableError(fmt.Errorf("http get: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return retry.RetryableError(err)
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	// One extra byte so an oversized body is detectable rather than
	// silently truncated mid-line.
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return retry.RetryableError(fmt.Errorf("read body: %w", err))
	}
	if n > f.maxBytes {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("payload exceeds %d bytes", f.maxBytes)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("move payload into place: %w", err)
	}
	return nil
}
