// Package upload implements the upload stage: it derives the date
// partition key and transfers the columnar artifact to object storage.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	errs "github.com/lakeship/lakeship/internal/errors"
	"github.com/lakeship/lakeship/internal/logging"
	"github.com/lakeship/lakeship/internal/pipeline"
	"github.com/lakeship/lakeship/internal/staging"
)

// StageName identifies the upload stage.
const StageName = "upload"

// ObjectStore is the destination collaborator. Put transfers a local file
// and returns the number of bytes stored. Writing the same key twice
// overwrites the object.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key, localPath string) (int64, error)
}

// Uploader transfers columnar artifacts to the partitioned lake.
type Uploader struct {
	store  ObjectStore
	bucket string
	prefix string
	log    *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// New creates an uploader for the given destination.
func New(store ObjectStore, bucket, prefix string) *Uploader {
	return &Uploader{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		log:    logging.Component("uploader"),
		now:    time.Now,
	}
}

// Name implements pipeline.Stage.
func (u *Uploader) Name() string { return StageName }

// Running implements pipeline.Stage.
func (u *Uploader) Running() pipeline.RunState { return pipeline.StateUploading }

// Ready implements pipeline.Stage: the columnar artifact must still be on
// disk.
func (u *Uploader) Ready(r *pipeline.Run) bool { return r.Columnar.Exists() }

// Execute transfers the columnar artifact under the deterministic
// partition key for the run date, records the upload result, and deletes
// the local artifact. The artifact is preserved whenever the transfer did
// not provably succeed.
func (u *Uploader) Execute(ctx context.Context, r *pipeline.Run) error {
	if u.bucket == "" {
		return errs.Stage(errs.ErrUpload, errs.ErrBucketNotConfigured)
	}
	if !r.Columnar.Exists() {
		return errs.Stage(errs.ErrUpload, errs.ErrStagingMissing)
	}

	// The destination filename is derived from the run date alone, never
	// from the attempt-suffixed staging path: reruns for the same date
	// overwrite the same object.
	key := pipeline.DerivePartitionKey(u.bucket, u.prefix,
		r.Context.RunDate, staging.ObjectFilename(r.Context))

	size, err := u.store.Put(ctx, key.Bucket, key.Object(), r.Columnar.Path)
	if err != nil {
		return errs.Stage(errs.ErrUpload, fmt.Errorf("put %s: %w", key.URI(), err))
	}

	r.Upload = &pipeline.UploadResult{
		Bucket:     key.Bucket,
		Key:        key.Object(),
		SizeBytes:  size,
		UploadedAt: u.now().UTC(),
	}

	// Transfer reported success; the columnar artifact is consumed.
	if err := r.Columnar.Remove(); err != nil {
		u.log.Warn("failed to remove columnar artifact", "path", r.Columnar.Path, "error", err)
	}

	u.log.Info("upload complete", "uri", key.URI(), "size_bytes", size)
	return nil
}
