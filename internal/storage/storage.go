// Package storage defines the run-history persistence interface and its
// implementations.
package storage

import (
	"context"

	"hostsmgr/internal/model"
)

// History records summaries of update and build passes. Recording is
// best-effort; a history failure never aborts a run.
type History interface {
	RecordRun(ctx context.Context, run *model.Run) error
	ListRuns(ctx context.Context, profile string, limit int) ([]model.Run, error)
	Close() error
}
