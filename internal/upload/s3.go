package upload

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Options configures the S3 object store.
type S3Options struct {
	// Region of the bucket.
	Region string

	// Endpoint overrides the S3 endpoint (MinIO, localstack).
	Endpoint string

	// Profile is the shared credentials profile. Empty uses the default
	// credential chain.
	Profile string

	// PathStyle forces path-style addressing, needed by most
	// S3-compatible endpoints.
	PathStyle bool
}

// S3Store uploads files to S3 (or an S3-compatible store).
type S3Store struct {
	uploader *s3manager.Uploader
}

// NewS3Store creates an S3-backed object store.
func NewS3Store(opts S3Options) (*S3Store, error) {
	awsCfg := &aws.Config{}
	if opts.Region != "" {
		awsCfg.Region = aws.String(opts.Region)
	}
	if opts.Endpoint != "" {
		awsCfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.PathStyle {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		Profile:           opts.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &S3Store{uploader: s3manager.NewUploader(sess)}, nil
}

// Put implements ObjectStore. s3manager handles multipart transfers for
// large files; re-putting the same key overwrites the object.
func (s *S3Store) Put(ctx context.Context, bucket, key, localPath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat local file: %w", err)
	}

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/vnd.apache.parquet"),
	})
	if err != nil {
		return 0, fmt.Errorf("upload: %w", err)
	}

	return stat.Size(), nil
}
