package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

// captureLog installs a JSON handler over a buffer and returns it.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	InitWithHandler(slog.NewJSONHandler(&buf, nil))
	return &buf
}

// lastEntry decodes the final log line in the buffer.
func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	if err := json.Unmarshal(lines[len(lines)-1], &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	return entry
}

func TestComponentAttribute(t *testing.T) {
	buf := captureLog(t)

	Component("extractor").Info("extraction complete", "rows", 72)

	entry := lastEntry(t, buf)
	if entry["component"] != "extractor" {
		t.Errorf("component = %v, want extractor", entry["component"])
	}
	if entry["msg"] != "extraction complete" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["rows"] != float64(72) {
		t.Errorf("rows = %v, want 72", entry["rows"])
	}
}

func TestForRunCarriesRunContext(t *testing.T) {
	buf := captureLog(t)

	ctx := ContextWithRun(context.Background(), "2025-03-07", 2)
	ForRun(ctx).Info("stage started", "stage", "convert")

	entry := lastEntry(t, buf)
	if entry["run_date"] != "2025-03-07" {
		t.Errorf("run_date = %v, want 2025-03-07", entry["run_date"])
	}
	if entry["run_attempt"] != float64(2) {
		t.Errorf("run_attempt = %v, want 2", entry["run_attempt"])
	}
}

func TestForRunWithoutRunContext(t *testing.T) {
	buf := captureLog(t)

	ForRun(context.Background()).Info("run started")

	entry := lastEntry(t, buf)
	if _, ok := entry["run_date"]; ok {
		t.Error("run_date present on a context without run values")
	}
	if _, ok := entry["run_attempt"]; ok {
		t.Error("run_attempt present on a context without run values")
	}
}
