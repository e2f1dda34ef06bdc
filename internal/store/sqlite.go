package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const jobColumns = "id, status, platform, source_url, format_id, quality, ext, downloaded_bytes, total_bytes, speed_bps, eta_sec, percent, file_path, public_url, error, created_at, updated_at"

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	platform         TEXT NOT NULL,
	source_url       TEXT NOT NULL,
	format_id        TEXT,
	quality          TEXT,
	ext              TEXT,
	downloaded_bytes INTEGER NOT NULL DEFAULT 0,
	total_bytes      INTEGER,
	speed_bps        REAL,
	eta_sec          INTEGER,
	percent          REAL,
	file_path        TEXT,
	public_url       TEXT,
	error            TEXT,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// SQLiteStore keeps jobs in a single-file SQLite database. It is meant for
// single-node deployments that do not want to run Redis for job records.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serializes read-modify-write transactions in-process.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, spec model.JobSpec) (*model.Job, error) {
	job := newJob(spec, s.now().UTC())
	err := retryOnBusy(ctx, func() error {
		return s.insert(ctx, s.db, job)
	})
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.JobStatus, errMsg string) (*model.Job, error) {
	return s.mutate(ctx, "update_status", id, statusMutator(status, errMsg))
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, id string, p model.Progress) (*model.Job, error) {
	return s.mutate(ctx, "update_progress", id, progressMutator(p))
}

func (s *SQLiteStore) SetOutput(ctx context.Context, id, filePath, publicURL string) (*model.Job, error) {
	return s.mutate(ctx, "set_output", id, outputMutator(filePath, publicURL))
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) mutate(ctx context.Context, op, id string, fn mutator) (*model.Job, error) {
	var (
		result  *model.Job
		before  model.JobStatus
		outcome Outcome
	)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		job, err := scanJob(tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		before = job.Status

		outcome, err = fn(job, s.now().UTC())
		if err != nil {
			return err
		}
		result = job
		if outcome == Ignored {
			return nil
		}
		if err := s.update(ctx, tx, job); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	logOutcome(s.logger, op, id, before, outcome)
	return result, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) insert(ctx context.Context, db execer, job *model.Job) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO jobs ("+jobColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		job.ID, job.Status, job.Platform, job.SourceURL, job.FormatID, job.Quality, job.Ext,
		job.Progress.DownloadedBytes, nullInt(job.Progress.TotalBytes), nullFloat(job.Progress.SpeedBps),
		nullInt(job.Progress.EtaSec), nullFloat(job.Progress.Percent),
		job.FilePath, job.PublicURL, job.Error,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt),
	)
	return err
}

func (s *SQLiteStore) update(ctx context.Context, db execer, job *model.Job) error {
	_, err := db.ExecContext(ctx, `UPDATE jobs SET
		status = ?, downloaded_bytes = ?, total_bytes = ?, speed_bps = ?, eta_sec = ?, percent = ?,
		file_path = ?, public_url = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, job.Progress.DownloadedBytes, nullInt(job.Progress.TotalBytes),
		nullFloat(job.Progress.SpeedBps), nullInt(job.Progress.EtaSec), nullFloat(job.Progress.Percent),
		job.FilePath, job.PublicURL, job.Error, formatTime(job.UpdatedAt), job.ID,
	)
	return err
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*model.Job, error) {
	var (
		job        model.Job
		status     string
		platform   string
		formatID   sql.NullString
		quality    sql.NullString
		ext        sql.NullString
		total      sql.NullInt64
		speed      sql.NullFloat64
		eta        sql.NullInt64
		percent    sql.NullFloat64
		filePath   sql.NullString
		publicURL  sql.NullString
		errMsg     sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(
		&job.ID, &status, &platform, &job.SourceURL, &formatID, &quality, &ext,
		&job.Progress.DownloadedBytes, &total, &speed, &eta, &percent,
		&filePath, &publicURL, &errMsg, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	job.Status = model.JobStatus(status)
	job.Platform = model.Platform(platform)
	job.FormatID = formatID.String
	job.Quality = quality.String
	job.Ext = ext.String
	if total.Valid {
		job.Progress.TotalBytes = &total.Int64
	}
	if speed.Valid {
		job.Progress.SpeedBps = &speed.Float64
	}
	if eta.Valid {
		job.Progress.EtaSec = &eta.Int64
	}
	if percent.Valid {
		job.Progress.Percent = &percent.Float64
	}
	job.FilePath = filePath.String
	job.PublicURL = publicURL.String
	job.Error = errMsg.String
	job.CreatedAt = parseTime(createdRaw)
	job.UpdatedAt = parseTime(updatedRaw)
	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
