package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	errs "github.com/lakeship/lakeship/internal/errors"
	"github.com/lakeship/lakeship/internal/pipeline"
)

// fakeStore is an in-memory object store.
type fakeStore struct {
	objects map[string][]byte // bucket/key -> content
	puts    int
	failErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (s *fakeStore) Put(_ context.Context, bucket, key, localPath string) (int64, error) {
	s.puts++
	if s.failErr != nil {
		return 0, s.failErr
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, err
	}
	s.objects[bucket+"/"+key] = data
	return int64(len(data)), nil
}

func stageColumnar(t *testing.T, attempt int) *pipeline.Run {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, fmt.Sprintf("telemetry_2025-03-07_a%d.parquet", attempt))
	if err := os.WriteFile(path, []byte("columnar-bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	run := pipeline.NewRun(pipeline.RunContext{
		RunDate:  time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC),
		Lookback: 24 * time.Hour,
		Attempt:  attempt,
	})
	run.Columnar = &pipeline.StagingArtifact{
		Path:      path,
		Format:    pipeline.FormatColumnar,
		RowCount:  72,
		CreatedBy: "convert",
	}
	return run
}

func TestExecuteUploadsUnderPartitionKey(t *testing.T) {
	store := newFakeStore()
	run := stageColumnar(t, 1)
	localPath := run.Columnar.Path

	u := New(store, "lake", "timescale_data")
	if err := u.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	wantKey := "timescale_data/year=2025/month=03/day=07/telemetry_2025-03-07.parquet"
	if _, ok := store.objects["lake/"+wantKey]; !ok {
		t.Fatalf("object not stored under %q; stored: %v", wantKey, keys(store))
	}

	if run.Upload == nil {
		t.Fatal("upload result not recorded")
	}
	if run.Upload.Bucket != "lake" || run.Upload.Key != wantKey {
		t.Errorf("upload result = %+v", run.Upload)
	}
	if run.Upload.SizeBytes != int64(len("columnar-bytes")) {
		t.Errorf("size = %d, want %d", run.Upload.SizeBytes, len("columnar-bytes"))
	}

	// Local artifact consumed after the transfer succeeded.
	if _, err := os.Stat(localPath); !os.IsNotExist(err) {
		t.Error("columnar artifact still present after successful upload")
	}
}

func TestExecuteIdempotentDestination(t *testing.T) {
	store := newFakeStore()
	u := New(store, "lake", "timescale_data")

	// Attempts carry distinct staging paths, but the destination key
	// depends only on the run date.
	var keys []string
	for attempt := 1; attempt <= 2; attempt++ {
		run := stageColumnar(t, attempt)
		if err := u.Execute(context.Background(), run); err != nil {
			t.Fatalf("Execute attempt %d: %v", attempt, err)
		}
		keys = append(keys, run.Upload.Key)
	}

	if keys[0] != keys[1] {
		t.Errorf("same run date produced different keys: %q vs %q", keys[0], keys[1])
	}
	if store.puts != 2 {
		t.Errorf("puts = %d, want 2", store.puts)
	}
	// Overwrite, not duplicate.
	if len(store.objects) != 1 {
		t.Errorf("stored %d objects, want 1", len(store.objects))
	}
}

func TestExecuteMissingBucket(t *testing.T) {
	store := newFakeStore()
	run := stageColumnar(t, 1)

	u := New(store, "", "timescale_data")
	err := u.Execute(context.Background(), run)

	if !errs.Is(err, errs.ErrUpload) || !errs.Is(err, errs.ErrBucketNotConfigured) {
		t.Fatalf("error = %v, want ErrUpload wrapping ErrBucketNotConfigured", err)
	}
	if errs.IsRetriable(err) {
		t.Error("missing bucket must not be retriable")
	}
	// Fails before any network I/O.
	if store.puts != 0 {
		t.Errorf("puts = %d, want 0", store.puts)
	}
	if !run.Columnar.Exists() {
		t.Error("columnar artifact deleted despite failure")
	}
}

func TestExecuteTransferFailurePreservesArtifact(t *testing.T) {
	store := newFakeStore()
	store.failErr = fmt.Errorf("connection reset")
	run := stageColumnar(t, 1)

	u := New(store, "lake", "timescale_data")
	err := u.Execute(context.Background(), run)

	if !errs.Is(err, errs.ErrUpload) {
		t.Fatalf("error = %v, want ErrUpload", err)
	}
	if !errs.IsRetriable(err) {
		t.Error("transfer failure should be retriable")
	}
	if run.Upload != nil {
		t.Error("upload result recorded despite failure")
	}
	if !run.Columnar.Exists() {
		t.Error("columnar artifact deleted although transfer did not succeed")
	}
}

func TestExecuteMissingInput(t *testing.T) {
	store := newFakeStore()
	run := stageColumnar(t, 1)
	os.Remove(run.Columnar.Path)

	u := New(store, "lake", "timescale_data")
	err := u.Execute(context.Background(), run)

	if !errs.Is(err, errs.ErrUpload) || !errs.Is(err, errs.ErrStagingMissing) {
		t.Fatalf("error = %v, want ErrUpload wrapping ErrStagingMissing", err)
	}
	if store.puts != 0 {
		t.Errorf("puts = %d, want 0", store.puts)
	}
}

func keys(s *fakeStore) []string {
	var out []string
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}
