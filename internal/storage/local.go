// Package storage manages downloaded files on local disk.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrFileNotFound is returned when a job has no output file on disk.
var ErrFileNotFound = errors.New("file not found")

var extPattern = regexp.MustCompile(`^[a-z0-9]{1,10}$`)

// Suffixes the engine uses for files it has not finished writing.
var partialSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

// Local stores job output as <dir>/<job_id>.<ext>.
type Local struct {
	dir       string
	apiPrefix string
}

// NewLocal returns a Local rooted at dir. Public URLs are built under apiPrefix.
func NewLocal(dir, apiPrefix string) *Local {
	return &Local{dir: dir, apiPrefix: strings.TrimSuffix(apiPrefix, "/")}
}

// Dir returns the absolute download directory.
func (l *Local) Dir() string {
	abs, err := filepath.Abs(l.dir)
	if err != nil {
		return l.dir
	}
	return abs
}

// EnsureDir creates the download directory.
func (l *Local) EnsureDir() error {
	return os.MkdirAll(l.dir, 0o755)
}

// OutputPath returns the path a job's file is written to. Unknown or unsafe
// extensions fall back to mp4.
func (l *Local) OutputPath(jobID, ext string) (string, error) {
	if err := validJobID(jobID); err != nil {
		return "", err
	}
	if err := l.EnsureDir(); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	return filepath.Join(l.Dir(), jobID+"."+SafeExt(ext)), nil
}

// PublicURL returns the API path that serves a job's file.
func (l *Local) PublicURL(jobID string) string {
	return fmt.Sprintf("%s/files/%s", l.apiPrefix, jobID)
}

// Find returns the completed output file of a job.
func (l *Local) Find(jobID string) (string, error) {
	if err := validJobID(jobID); err != nil {
		return "", err
	}
	matches, _ := filepath.Glob(filepath.Join(l.Dir(), jobID+".*"))
	for _, m := range matches {
		if isPartial(m) {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m, nil
		}
	}
	return "", ErrFileNotFound
}

// Contains reports whether path lies inside the download directory.
func (l *Local) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(l.Dir(), abs)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// CleanupJobFiles removes every <dir>/<job_id>.* file. Failures are ignored.
func (l *Local) CleanupJobFiles(jobID string) {
	if validJobID(jobID) != nil {
		return
	}
	matches, _ := filepath.Glob(filepath.Join(l.Dir(), jobID+".*"))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// SafeExt lower-cases ext, strips a leading dot and falls back to mp4 for
// anything that is not a short alphanumeric token.
func SafeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if !extPattern.MatchString(ext) {
		return "mp4"
	}
	return ext
}

func validJobID(jobID string) error {
	if _, err := uuid.Parse(jobID); err != nil {
		return fmt.Errorf("invalid job id %q", jobID)
	}
	return nil
}

func isPartial(path string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}
