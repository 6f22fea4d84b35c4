package heartbeat

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stewardlabs/steward/internal/logging"
)

func TestScanLatestMtime(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.txt")
	fresh := filepath.Join(dir, "sub", "fresh.txt")

	if err := os.WriteFile(old, []byte("a"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(fresh), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(fresh, []byte("b"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	latest := ScanLatestMtime(dir)
	if latest.IsZero() {
		t.Fatal("ScanLatestMtime() = zero, want newest mtime")
	}
	if latest.Sub(past) < 30*time.Minute {
		t.Errorf("ScanLatestMtime() = %v, want the fresh file's mtime", latest)
	}
}

func TestScanLatestMtime_MissingDir(t *testing.T) {
	if got := ScanLatestMtime(filepath.Join(t.TempDir(), "nope")); !got.IsZero() {
		t.Errorf("ScanLatestMtime(missing) = %v, want zero", got)
	}
}

func TestArtifactWatcher_SeedsFromScan(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "artifact.log"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	w, err := NewArtifactWatcher([]string{dir}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewArtifactWatcher() error = %v", err)
	}
	defer w.Close()

	if w.LastActivity().IsZero() {
		t.Error("LastActivity() = zero, want seeded mtime")
	}
}

func TestArtifactWatcher_SkipsMissingDirs(t *testing.T) {
	w, err := NewArtifactWatcher([]string{filepath.Join(t.TempDir(), "nope")}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewArtifactWatcher() error = %v", err)
	}
	defer w.Close()

	if !w.LastActivity().IsZero() {
		t.Error("LastActivity() = non-zero for missing dir")
	}
}
