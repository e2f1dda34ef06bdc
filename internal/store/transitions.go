package store

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

// Outcome classifies how a write was applied to a job.
type Outcome int

const (
	// Applied means the write was valid in the job's state.
	Applied Outcome = iota
	// Anomaly means the write was applied although the job was not in the expected state.
	Anomaly
	// Ignored means the job was unchanged.
	Ignored
)

// Writes are stored as mutators so each backend only supplies the atomic commit.
type mutator func(job *model.Job, now time.Time) (Outcome, error)

func newJob(spec model.JobSpec, now time.Time) *model.Job {
	platform := spec.Platform
	if platform == "" {
		platform = model.PlatformUnknown
	}
	return &model.Job{
		ID:        uuid.NewString(),
		Status:    model.JobStatusQueued,
		Platform:  platform,
		SourceURL: spec.SourceURL,
		FormatID:  spec.FormatID,
		Quality:   spec.Quality,
		Ext:       spec.Ext,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func statusMutator(status model.JobStatus, errMsg string) mutator {
	return func(job *model.Job, now time.Time) (Outcome, error) {
		return applyStatus(job, status, errMsg, now)
	}
}

func progressMutator(p model.Progress) mutator {
	return func(job *model.Job, now time.Time) (Outcome, error) {
		return applyProgress(job, p, now), nil
	}
}

func outputMutator(filePath, publicURL string) mutator {
	return func(job *model.Job, now time.Time) (Outcome, error) {
		return applyOutput(job, filePath, publicURL, now), nil
	}
}

func applyStatus(job *model.Job, status model.JobStatus, errMsg string, now time.Time) (Outcome, error) {
	if !status.Valid() {
		return Ignored, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	if job.Status.IsTerminal() {
		return Ignored, nil
	}

	switch status {
	case model.JobStatusQueued:
		if job.Status != model.JobStatusQueued {
			return Ignored, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
		}
		return Ignored, nil
	case model.JobStatusFailed:
		if errMsg == "" {
			errMsg = "unknown error"
		}
		job.Error = errMsg
	}

	job.Status = status
	touch(job, now)
	return Applied, nil
}

func applyProgress(job *model.Job, p model.Progress, now time.Time) Outcome {
	if job.Status.IsTerminal() {
		return Ignored
	}
	outcome := Applied
	if job.Status != model.JobStatusDownloading {
		outcome = Anomaly
	}

	cur := &job.Progress
	if d := max(p.DownloadedBytes, 0); d > cur.DownloadedBytes {
		cur.DownloadedBytes = d
	}
	if p.TotalBytes != nil {
		total := max(*p.TotalBytes, 0)
		cur.TotalBytes = &total
	}
	if p.SpeedBps != nil && *p.SpeedBps >= 0 && !math.IsInf(*p.SpeedBps, 0) && !math.IsNaN(*p.SpeedBps) {
		speed := *p.SpeedBps
		cur.SpeedBps = &speed
	}
	if p.EtaSec != nil && *p.EtaSec >= 0 {
		eta := *p.EtaSec
		cur.EtaSec = &eta
	}
	cur.Percent = Percent(cur.DownloadedBytes, cur.TotalBytes)

	touch(job, now)
	return outcome
}

func applyOutput(job *model.Job, filePath, publicURL string, now time.Time) Outcome {
	if job.Status.IsTerminal() {
		return Ignored
	}

	job.FilePath = filePath
	job.PublicURL = publicURL
	job.Status = model.JobStatusFinished
	if total := job.Progress.TotalBytes; total != nil && *total > job.Progress.DownloadedBytes {
		job.Progress.DownloadedBytes = *total
	}
	job.Progress.Percent = Percent(job.Progress.DownloadedBytes, job.Progress.TotalBytes)
	job.Progress.EtaSec = nil

	touch(job, now)
	return Applied
}

// Percent returns downloaded/total as a percentage rounded to two decimals,
// capped at 100. It is nil when the total is unknown or zero.
func Percent(downloaded int64, total *int64) *float64 {
	if total == nil || *total <= 0 {
		return nil
	}
	pct := math.Round(float64(downloaded)/float64(*total)*10000) / 100
	if pct > 100 {
		pct = 100
	}
	return &pct
}

func touch(job *model.Job, now time.Time) {
	if now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}
}
