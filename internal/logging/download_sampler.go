package logging

import (
	"math"

	"github.com/Oldsnak/video-downloader-api/internal/model"
)

// DownloadSampler picks which yt-dlp progress hooks reach the log. Hooks with
// a percent are logged once per percent step, hooks without a total (live
// streams, unknown sizes) once per byte step. A new raw status always logs.
// Keep one per job; it is not safe for concurrent use.
type DownloadSampler struct {
	percentStep float64
	byteStep    int64

	status string
	step   int64
}

// NewDownloadSampler falls back to 10% and 16 MiB steps for non-positive
// arguments.
func NewDownloadSampler(percentStep float64, byteStep int64) *DownloadSampler {
	if percentStep <= 0 {
		percentStep = 10
	}
	if byteStep <= 0 {
		byteStep = 16 << 20
	}
	return &DownloadSampler{percentStep: percentStep, byteStep: byteStep, step: -1}
}

// Sample reports whether the hook should be logged.
func (s *DownloadSampler) Sample(rawStatus string, p model.Progress) bool {
	if s == nil {
		return true
	}
	emit := false
	if rawStatus != "" && rawStatus != s.status {
		s.status = rawStatus
		s.step = -1
		emit = true
	}
	if step := s.stepOf(p); step > s.step {
		s.step = step
		emit = true
	}
	return emit
}

func (s *DownloadSampler) stepOf(p model.Progress) int64 {
	switch {
	case p.Percent != nil:
		pct := math.Min(math.Max(*p.Percent, 0), 100)
		return int64(pct / s.percentStep)
	case p.DownloadedBytes > 0:
		return p.DownloadedBytes / s.byteStep
	default:
		return -1
	}
}
