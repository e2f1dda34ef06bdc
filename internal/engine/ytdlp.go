package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// YtDlp runs the yt-dlp binary through go-ytdlp.
type YtDlp struct {
	binary           string
	progressInterval time.Duration
}

// NewYtDlp returns an engine using binary, or yt-dlp from PATH when empty.
func NewYtDlp(binary string) *YtDlp {
	return &YtDlp{binary: binary, progressInterval: 500 * time.Millisecond}
}

func (y *YtDlp) command() *ytdlp.Command {
	cmd := ytdlp.New().NoPlaylist()
	if y.binary != "" {
		cmd = cmd.SetExecutable(y.binary)
	}
	return cmd
}

func (y *YtDlp) ExtractInfo(ctx context.Context, url string) (Info, error) {
	res, err := y.command().
		SkipDownload().
		DumpSingleJSON().
		Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to extract video info: %w", err)
	}

	var info Info
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return nil, fmt.Errorf("failed to decode video info: %w", err)
	}
	return info, nil
}

func (y *YtDlp) ListFormats(info Info) []map[string]any {
	return info.Formats()
}

func (y *YtDlp) Download(ctx context.Context, url, formatID, outputPath string, onProgress ProgressFunc) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if formatID == "" {
		formatID = "best"
	}

	dl := y.command().
		Format(formatID).
		Output(outputPath).
		ForceOverwrites()

	if onProgress != nil {
		dl.ProgressFunc(y.progressInterval, func(update ytdlp.ProgressUpdate) {
			onProgress(hookFromUpdate(update))
		})
	}

	if _, err := dl.Run(ctx, url); err != nil {
		return "", fmt.Errorf("failed to download video: %w", err)
	}
	return outputPath, nil
}

func (y *YtDlp) Available(_ context.Context) error {
	binary := y.binary
	if binary == "" {
		binary = "yt-dlp"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("yt-dlp not found: %w", err)
	}
	return nil
}

// hookFromUpdate maps a go-ytdlp update onto the key names yt-dlp uses in
// its own progress hooks.
func hookFromUpdate(u ytdlp.ProgressUpdate) map[string]any {
	hook := map[string]any{
		"status":           fmt.Sprint(u.Status),
		"downloaded_bytes": u.DownloadedBytes,
		"filename":         u.Filename,
	}
	if u.TotalBytes > 0 {
		hook["total_bytes"] = u.TotalBytes
	}
	if eta := u.ETA(); eta > 0 {
		hook["eta"] = int64(eta.Seconds())
	}
	if !u.Started.IsZero() {
		if elapsed := time.Since(u.Started).Seconds(); elapsed > 0 {
			hook["speed"] = float64(u.DownloadedBytes) / elapsed
		}
	}
	return hook
}
