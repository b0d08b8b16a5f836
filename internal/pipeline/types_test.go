package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDerivePartitionKey(t *testing.T) {
	tests := []struct {
		name     string
		date     time.Time
		filename string
		want     string
	}{
		{
			name:     "single digit month and day",
			date:     time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
			filename: "telemetry_2025-03-07_a1.parquet",
			want:     "timescale_data/year=2025/month=03/day=07/telemetry_2025-03-07_a1.parquet",
		},
		{
			name:     "end of year",
			date:     time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
			filename: "f.parquet",
			want:     "timescale_data/year=2024/month=12/day=31/f.parquet",
		},
		{
			name:     "non-UTC date normalized",
			date:     time.Date(2025, 6, 1, 23, 30, 0, 0, time.FixedZone("X", 2*3600)),
			filename: "f.parquet",
			want:     "timescale_data/year=2025/month=06/day=01/f.parquet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := DerivePartitionKey("lake", "timescale_data", tt.date, tt.filename)
			if got := key.Object(); got != tt.want {
				t.Errorf("Object() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPartitionKeyDeterministic(t *testing.T) {
	date := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)

	a := DerivePartitionKey("lake", "p", date, "f.parquet")
	b := DerivePartitionKey("lake", "p", date, "f.parquet")

	if a != b {
		t.Errorf("same run date produced different keys: %+v vs %+v", a, b)
	}
	if a.URI() != "s3://lake/p/year=2025/month=03/day=07/f.parquet" {
		t.Errorf("URI() = %q", a.URI())
	}
}

func TestRunStateString(t *testing.T) {
	tests := []struct {
		state RunState
		want  string
	}{
		{StatePending, "pending"},
		{StateExtracting, "extracting"},
		{StateConverting, "converting"},
		{StateUploading, "uploading"},
		{StateNotifying, "notifying"},
		{StateCompleted, "completed"},
		{StateFailed, "failed"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestRunStateTerminal(t *testing.T) {
	for _, s := range []RunState{StatePending, StateExtracting, StateConverting, StateUploading, StateNotifying} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []RunState{StateCompleted, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestStagingArtifactExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.csv")

	art := &StagingArtifact{Path: path, Format: FormatRow}
	if art.Exists() {
		t.Error("artifact should not exist before creation")
	}

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !art.Exists() {
		t.Error("artifact should exist after creation")
	}

	if err := art.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if art.Exists() {
		t.Error("artifact should not exist after removal")
	}

	var nilArt *StagingArtifact
	if nilArt.Exists() {
		t.Error("nil artifact should not exist")
	}
}
