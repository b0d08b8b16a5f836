// Package config provides configuration defaults and utilities
// for the lakeship pipeline.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or environment variables.
package config

import "time"

// =============================================================================
// Extraction Defaults
// =============================================================================

const (
	// DefaultLookback is the extraction window. Each run exports the
	// aggregates covering the last 24 hours before the run started.
	// Override via config: pipeline.lookback
	DefaultLookback = 24 * time.Hour

	// DefaultBucketWidth is the aggregation bucket applied inside the
	// source store.
	// Override via config: pipeline.bucket_width
	DefaultBucketWidth = time.Hour

	// DefaultSourcePort is the source store port.
	// Override via config: source.port or TIMESCALE_PORT
	DefaultSourcePort = 5432

	// DefaultSourceTable is the hypertable the extraction query reads.
	// Override via config: source.table
	DefaultSourceTable = "device_telemetry"

	// DefaultSSLMode is the source connection SSL mode.
	// Override via config: source.sslmode
	DefaultSSLMode = "disable"
)

// =============================================================================
// Conversion Defaults
// =============================================================================

const (
	// DefaultRowGroupSize bounds the number of rows per Parquet row group.
	// Smaller groups bound per-block memory and enable partial reads.
	// Override via config: pipeline.row_group_size
	DefaultRowGroupSize = 10000

	// DefaultCompression is the Parquet compression algorithm:
	// snappy, zstd, lz4, gzip, none.
	// Override via config: pipeline.compression
	DefaultCompression = "snappy"
)

// =============================================================================
// Upload Defaults
// =============================================================================

const (
	// DefaultPartitionPrefix is the object key prefix ahead of the
	// year=/month=/day= partition directories.
	// Override via config: destination.prefix
	DefaultPartitionPrefix = "timescale_data"
)

// =============================================================================
// Run Coordination Defaults
// =============================================================================

const (
	// DefaultMaxRetries is the number of retries per stage after the
	// first failed attempt.
	// Override via config: pipeline.max_retries
	DefaultMaxRetries = 2

	// DefaultRetryBackoff is the fixed delay between stage attempts.
	// Override via config: pipeline.backoff
	DefaultRetryBackoff = 5 * time.Minute

	// DefaultRunTimeout bounds a whole run. When exceeded, the run is
	// aborted at the currently executing stage.
	// Override via config: pipeline.run_timeout
	DefaultRunTimeout = 2 * time.Hour
)

// =============================================================================
// Staging Defaults
// =============================================================================

const (
	// DefaultStagingDir holds intermediate artifacts between stages.
	// Successful runs leave nothing behind here.
	// Override via config: staging.dir
	DefaultStagingDir = "/tmp/lakeship"

	// DefaultSweepAfter is how long orphaned staging files from failed
	// runs are kept before the startup sweep removes them.
	// Override via config: staging.sweep_after
	DefaultSweepAfter = 72 * time.Hour
)
