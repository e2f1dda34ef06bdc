// Package progress turns raw retrieval-engine progress hooks into stored
// job progress and live events.
package progress

import (
	"math"

	"github.com/spf13/cast"

	"github.com/Oldsnak/video-downloader-api/internal/model"
	"github.com/Oldsnak/video-downloader-api/internal/store"
)

// RawHook is the loosely structured payload the engine hands to its progress
// callback. Keys and value types are not guaranteed.
type RawHook map[string]any

// Snapshot is a parsed hook.
type Snapshot struct {
	Status   string
	Progress model.Progress
}

// Parse extracts the progress counters from raw. Every field is parsed on its
// own and never fails: missing or malformed values are absent, and
// downloaded_bytes defaults to 0.
func Parse(raw RawHook) Snapshot {
	var p model.Progress
	if n := optionalInt(raw, "downloaded_bytes"); n != nil {
		p.DownloadedBytes = max(*n, 0)
	}
	p.TotalBytes = optionalInt(raw, "total_bytes")
	if p.TotalBytes == nil {
		p.TotalBytes = optionalInt(raw, "total_bytes_estimate")
	}
	if p.TotalBytes != nil && *p.TotalBytes < 0 {
		p.TotalBytes = nil
	}
	p.SpeedBps = optionalFloat(raw, "speed")
	p.EtaSec = optionalInt(raw, "eta")
	p.Percent = store.Percent(p.DownloadedBytes, p.TotalBytes)

	return Snapshot{
		Status:   cast.ToString(raw["status"]),
		Progress: p,
	}
}

func optionalInt(raw RawHook, key string) *int64 {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	if f, isFloat := v.(float64); isFloat {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		n := int64(f)
		return &n
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return nil
	}
	return &n
}

func optionalFloat(raw RawHook, key string) *float64 {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
