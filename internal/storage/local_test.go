package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestOutputPathAndPublicURL(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, "/api/v1/")
	id := uuid.NewString()

	path, err := l.OutputPath(id, ".WebM")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, id+".webm"); path != want {
		t.Errorf("OutputPath = %q, want %q", path, want)
	}
	if got := l.PublicURL(id); got != "/api/v1/files/"+id {
		t.Errorf("PublicURL = %q", got)
	}
	if _, err := l.OutputPath("../../etc/passwd", "mp4"); err == nil {
		t.Error("expected error for non-uuid job id")
	}
}

func TestSafeExt(t *testing.T) {
	tests := map[string]string{
		"mp4":               "mp4",
		".MKV":              "mkv",
		"":                  "mp4",
		"../x":              "mp4",
		"m4a ":              "m4a",
		"verylongextension": "mp4",
	}
	for in, want := range tests {
		if got := SafeExt(in); got != want {
			t.Errorf("SafeExt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFindAndCleanup(t *testing.T) {
	dir := t.TempDir()
	l := NewLocal(dir, "/api/v1")
	id := uuid.NewString()
	other := uuid.NewString()

	if _, err := l.Find(id); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("Find on empty dir = %v", err)
	}

	for _, name := range []string{id + ".mp4.part", id + ".mp4", other + ".mp4"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Find(id)
	if err != nil || filepath.Base(got) != id+".mp4" {
		t.Fatalf("Find = %q, %v", got, err)
	}
	if !l.Contains(got) || l.Contains("/etc/passwd") {
		t.Error("Contains gave wrong answer")
	}

	l.CleanupJobFiles(id)
	matches, _ := filepath.Glob(filepath.Join(dir, id+".*"))
	if len(matches) != 0 {
		t.Fatalf("leftover files %v", matches)
	}
	if _, err := os.Stat(filepath.Join(dir, other+".mp4")); err != nil {
		t.Fatal("cleanup removed another job's file")
	}

	// Cleanup of a missing job is silent.
	l.CleanupJobFiles(uuid.NewString())
	l.CleanupJobFiles("not-a-uuid")
}
