// Package engine wraps the external retrieval engine that extracts metadata
// and downloads media.
package engine

import (
	"context"

	"github.com/spf13/cast"
)

// ProgressFunc receives the engine's raw progress payloads.
type ProgressFunc func(hook map[string]any)

// Engine is the boundary to the retrieval engine.
type Engine interface {
	// ExtractInfo fetches metadata for url without downloading it.
	ExtractInfo(ctx context.Context, url string) (Info, error)
	// ListFormats returns the raw format entries contained in info.
	ListFormats(info Info) []map[string]any
	// Download fetches formatID of url into outputPath and returns the final path.
	Download(ctx context.Context, url, formatID, outputPath string, onProgress ProgressFunc) (string, error)
	// Available reports whether the engine can run.
	Available(ctx context.Context) error
}

// Info is the raw metadata document reported by the engine.
type Info map[string]any

func (i Info) Title() string {
	return cast.ToString(i["title"])
}

func (i Info) Thumbnail() string {
	return cast.ToString(i["thumbnail"])
}

// DurationSec returns the duration in whole seconds, or nil if unknown.
func (i Info) DurationSec() *int64 {
	v, ok := i["duration"]
	if !ok || v == nil {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f < 0 {
		return nil
	}
	d := int64(f)
	return &d
}

// Formats extracts the "formats" list, skipping entries that are not objects.
func (i Info) Formats() []map[string]any {
	list, ok := i["formats"].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// FindFormat returns the raw entry with the given format id.
func (i Info) FindFormat(formatID string) (map[string]any, bool) {
	for _, f := range i.Formats() {
		if cast.ToString(f["format_id"]) == formatID {
			return f, true
		}
	}
	return nil, false
}
