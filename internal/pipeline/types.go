package pipeline

import (
	"fmt"
	"os"
	"path"
	"time"
)

// RunState is the lifecycle state of a single run.
type RunState int

const (
	StatePending RunState = iota
	StateExtracting
	StateConverting
	StateUploading
	StateNotifying
	StateCompleted
	StateFailed
)

// String returns the state name.
func (s RunState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExtracting:
		return "extracting"
	case StateConverting:
		return "converting"
	case StateUploading:
		return "uploading"
	case StateNotifying:
		return "notifying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// Terminal reports whether the state is terminal.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// RunContext identifies one scheduled invocation. It is created once per
// run and never mutated afterwards.
type RunContext struct {
	// RunDate is the calendar date the run exports.
	RunDate time.Time

	// Lookback is the extraction window.
	Lookback time.Duration

	// Attempt is a monotonic counter per run date. It keeps staging
	// paths exclusive so a rerun never clobbers a prior attempt's
	// partially written file.
	Attempt int
}

// DateString returns the run date in partition form (YYYY-MM-DD).
func (rc RunContext) DateString() string {
	return rc.RunDate.UTC().Format("2006-01-02")
}

// ArtifactFormat is the encoding of a staging artifact.
type ArtifactFormat int

const (
	FormatRow ArtifactFormat = iota
	FormatColumnar
)

func (f ArtifactFormat) String() string {
	switch f {
	case FormatRow:
		return "row"
	case FormatColumnar:
		return "columnar"
	default:
		return fmt.Sprintf("ArtifactFormat(%d)", int(f))
	}
}

// StagingArtifact is an intermediate file produced by one stage and
// consumed by the next. The producing stage owns it until the consumer
// has durably produced its own output; the consumer then deletes it.
type StagingArtifact struct {
	Path      string
	Format    ArtifactFormat
	RowCount  int64
	CreatedBy string
}

// Exists reports whether the artifact file is still on disk.
func (a *StagingArtifact) Exists() bool {
	if a == nil {
		return false
	}
	_, err := os.Stat(a.Path)
	return err == nil
}

// Remove deletes the artifact file. Called by the consumer stage, and
// only after it has fully succeeded.
func (a *StagingArtifact) Remove() error {
	return os.Remove(a.Path)
}

// PartitionKey is the deterministic destination location for a run.
// The same run date always yields the same key, so reruns overwrite
// rather than duplicate.
type PartitionKey struct {
	Bucket   string
	Prefix   string
	Year     string
	Month    string
	Day      string
	Filename string
}

// DerivePartitionKey derives the partition key from a run date.
func DerivePartitionKey(bucket, prefix string, runDate time.Time, filename string) PartitionKey {
	d := runDate.UTC()
	return PartitionKey{
		Bucket:   bucket,
		Prefix:   prefix,
		Year:     d.Format("2006"),
		Month:    d.Format("01"),
		Day:      d.Format("02"),
		Filename: filename,
	}
}

// Object returns the object key under the bucket.
func (k PartitionKey) Object() string {
	return path.Join(k.Prefix,
		"year="+k.Year,
		"month="+k.Month,
		"day="+k.Day,
		k.Filename,
	)
}

// URI returns the full destination URI.
func (k PartitionKey) URI() string {
	return fmt.Sprintf("s3://%s/%s", k.Bucket, k.Object())
}

// UploadResult records a successful transfer. It lives only for the
// duration of the run; the notifier is its sole consumer.
type UploadResult struct {
	Bucket     string
	Key        string
	SizeBytes  int64
	UploadedAt time.Time
}

// URI returns the destination URI of the uploaded object.
func (u *UploadResult) URI() string {
	return fmt.Sprintf("s3://%s/%s", u.Bucket, u.Key)
}

// Run is the shared mutable record the ordered stages operate on.
// Stages hand artifacts to each other through it by reference.
type Run struct {
	Context RunContext
	State   RunState

	// Row is the extractor's output, consumed by the converter.
	Row *StagingArtifact

	// Columnar is the converter's output, consumed by the uploader.
	Columnar *StagingArtifact

	// Upload is the uploader's output, consumed by the notifier.
	Upload *UploadResult

	// Attempts counts executions per stage name.
	Attempts map[string]int

	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewRun creates a pending run for the given context.
func NewRun(rc RunContext) *Run {
	return &Run{
		Context:  rc,
		State:    StatePending,
		Attempts: make(map[string]int),
	}
}
