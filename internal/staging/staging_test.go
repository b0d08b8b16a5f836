package staging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lakeship/lakeship/internal/pipeline"
)

func TestRowPath(t *testing.T) {
	rc := pipeline.RunContext{
		RunDate: time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		Attempt: 3,
	}

	got := RowPath("/var/staging", rc)
	want := filepath.Join("/var/staging", "telemetry_2025-03-07_a3.csv")
	if got != want {
		t.Errorf("RowPath = %q, want %q", got, want)
	}
}

func TestColumnarPath(t *testing.T) {
	got := ColumnarPath("/var/staging/telemetry_2025-03-07_a3.csv")
	want := "/var/staging/telemetry_2025-03-07_a3.parquet"
	if got != want {
		t.Errorf("ColumnarPath = %q, want %q", got, want)
	}
}

func TestPathsExclusivePerAttempt(t *testing.T) {
	date := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)

	seen := make(map[string]bool)
	for attempt := 1; attempt <= 5; attempt++ {
		p := RowPath("/var/staging", pipeline.RunContext{RunDate: date, Attempt: attempt})
		if seen[p] {
			t.Fatalf("attempt %d reuses path %q", attempt, p)
		}
		seen[p] = true
	}
}

// writeAged creates a staging file and backdates its modification time.
func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("staged"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestSweepRemovesOnlyExpiredStagingFiles(t *testing.T) {
	dir := t.TempDir()

	old1 := writeAged(t, dir, "telemetry_2025-03-01_a1.csv", 100*time.Hour)
	old2 := writeAged(t, dir, "telemetry_2025-03-01_a1.parquet", 100*time.Hour)
	fresh := writeAged(t, dir, "telemetry_2025-03-07_a1.csv", time.Hour)
	foreign := writeAged(t, dir, "notes.txt", 100*time.Hour)

	result, err := Sweep(dir, 72*time.Hour, false)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if result.FilesDeleted != 2 {
		t.Errorf("FilesDeleted = %d, want 2", result.FilesDeleted)
	}
	if result.FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d, want 1", result.FilesSkipped)
	}
	if result.BytesFreed != 2*int64(len("staged")) {
		t.Errorf("BytesFreed = %d", result.BytesFreed)
	}

	for _, gone := range []string{old1, old2} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("expired file %s still present", gone)
		}
	}
	for _, kept := range []string{fresh, foreign} {
		if _, err := os.Stat(kept); err != nil {
			t.Errorf("file %s removed: %v", kept, err)
		}
	}
}

func TestSweepDryRun(t *testing.T) {
	dir := t.TempDir()
	path := writeAged(t, dir, "telemetry_2025-03-01_a1.csv", 100*time.Hour)

	result, err := Sweep(dir, 72*time.Hour, true)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if result.FilesDeleted != 1 {
		t.Errorf("FilesDeleted = %d, want 1", result.FilesDeleted)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("dry run deleted %s: %v", path, err)
	}
}

func TestSweepMissingDir(t *testing.T) {
	result, err := Sweep(filepath.Join(t.TempDir(), "absent"), time.Hour, false)
	if err != nil {
		t.Fatalf("Sweep on missing dir: %v", err)
	}
	if result.FilesDeleted != 0 || result.FilesSkipped != 0 {
		t.Errorf("result = %+v, want zero", result)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := EnsureDir(dir); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("staging dir not created: %v", err)
	}
}
