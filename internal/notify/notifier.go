// Package notify implements the completion notification stage.
package notify

import (
	"context"
	"log/slog"
	"time"

	errs "github.com/lakeship/lakeship/internal/errors"
	"github.com/lakeship/lakeship/internal/logging"
	"github.com/lakeship/lakeship/internal/pipeline"
)

// StageName identifies the notification stage.
const StageName = "notify"

// CompletionRecord is the structured record emitted when a run finishes.
type CompletionRecord struct {
	RunDate     string
	Destination string
	SizeBytes   int64
	UploadedAt  time.Time
	NotifiedAt  time.Time
}

// Sink receives completion records. The default sink writes to the
// operational log; deployments can substitute a messaging collaborator.
type Sink interface {
	Completed(rec CompletionRecord) error
}

// LogSink emits completion records to the structured log.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink() *LogSink {
	return &LogSink{log: logging.Component("completion")}
}

// Completed implements Sink.
func (s *LogSink) Completed(rec CompletionRecord) error {
	s.log.Info("pipeline run completed",
		"run_date", rec.RunDate,
		"destination", rec.Destination,
		"size_bytes", rec.SizeBytes,
		"uploaded_at", rec.UploadedAt,
		"notified_at", rec.NotifiedAt,
	)
	return nil
}

// Notifier emits the completion record for a run.
type Notifier struct {
	sink Sink

	// now is injectable for tests.
	now func() time.Time
}

// New creates a notifier over the given sink.
func New(sink Sink) *Notifier {
	return &Notifier{sink: sink, now: time.Now}
}

// Name implements pipeline.Stage.
func (n *Notifier) Name() string { return StageName }

// Running implements pipeline.Stage.
func (n *Notifier) Running() pipeline.RunState { return pipeline.StateNotifying }

// Ready implements pipeline.Stage. The notifier's input lives on the run
// record itself, so there is nothing on disk to check; a missing upload
// result is a wiring defect surfaced by Execute.
func (n *Notifier) Ready(*pipeline.Run) bool { return true }

// Execute emits the completion record. A missing upload result indicates
// a pipeline wiring defect, not a data problem, and is not retryable.
func (n *Notifier) Execute(_ context.Context, r *pipeline.Run) error {
	if r.Upload == nil {
		return errs.ErrMissingUpstreamResult
	}

	return n.sink.Completed(CompletionRecord{
		RunDate:     r.Context.DateString(),
		Destination: r.Upload.URI(),
		SizeBytes:   r.Upload.SizeBytes,
		UploadedAt:  r.Upload.UploadedAt,
		NotifiedAt:  n.now().UTC(),
	})
}
