package model

import "time"

// Job is the persisted record of a single download request.
type Job struct {
	ID        string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Platform  Platform  `json:"platform"`
	SourceURL string    `json:"source_url"`
	FormatID  string    `json:"format_id,omitempty"`
	Quality   string    `json:"quality,omitempty"`
	Ext       string    `json:"ext,omitempty"`
	Progress  Progress  `json:"progress"`
	FilePath  string    `json:"file_path,omitempty"`
	PublicURL string    `json:"public_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress is the latest known transfer snapshot of a job.
type Progress struct {
	DownloadedBytes int64    `json:"downloaded_bytes"`
	TotalBytes      *int64   `json:"total_bytes,omitempty"`
	SpeedBps        *float64 `json:"speed_bps,omitempty"`
	EtaSec          *int64   `json:"eta_sec,omitempty"`
	Percent         *float64 `json:"percent,omitempty"`
}

// IsZero reports whether no counter has been recorded yet.
func (p Progress) IsZero() bool {
	return p.DownloadedBytes == 0 && p.TotalBytes == nil && p.SpeedBps == nil && p.EtaSec == nil && p.Percent == nil
}

// JobSpec holds the fields a caller supplies when creating a job.
type JobSpec struct {
	SourceURL string
	Platform  Platform
	FormatID  string
	Quality   string
	Ext       string
}

// DownloadJobPayload is the asynq task payload for a download job.
type DownloadJobPayload struct {
	JobID string `json:"jobId"`
}

// Task types
const (
	TaskTypeDownload = "download:start"
)

// Queues
const (
	QueueDownloads = "downloads"
)
