// Package store persists job records and enforces the job state machine.
package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status change would move a job backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrConflict is returned when an optimistic update keeps losing to concurrent writers.
	ErrConflict = errors.New("job update conflict")
)

// Store is the durable source of truth for job records. Every mutation is a
// single atomic read-modify-write of one job. Writes against a job that is
// already terminal leave it untouched and return the stored record.
type Store interface {
	Create(ctx context.Context, spec model.JobSpec) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	UpdateStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) (*model.Job, error)
	UpdateProgress(ctx context.Context, id string, p model.Progress) (*model.Job, error)
	SetOutput(ctx context.Context, id, filePath, publicURL string) (*model.Job, error)
	Ping(ctx context.Context) error
	Close() error
}

func logOutcome(logger *slog.Logger, op, id string, before model.JobStatus, outcome Outcome) {
	switch outcome {
	case Anomaly:
		logger.Warn("job write outside expected state", "op", op, "job_id", id, "status", before)
	case Ignored:
		logger.Debug("job write ignored", "op", op, "job_id", id, "status", before)
	}
}
