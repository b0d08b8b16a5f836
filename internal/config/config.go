// Package config loads and validates the pipeline configuration.
//
// Configuration comes from a YAML file layered with environment variables,
// matching the surface the deployment environment already provides
// (TIMESCALE_* for the source store, AWS_* for the destination lake).
// Environment values win over file values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/lakeship/lakeship/config"
	errs "github.com/lakeship/lakeship/internal/errors"
)

// Config is the complete pipeline configuration.
type Config struct {
	// Source is the time-series store the extractor queries.
	Source SourceConfig `yaml:"source"`

	// Destination is the object storage lake.
	Destination DestinationConfig `yaml:"destination"`

	// Staging configures the local artifact directory.
	Staging StagingConfig `yaml:"staging"`

	// Pipeline configures run coordination and conversion.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// LogJSON selects JSON log output.
	LogJSON bool `yaml:"log_json"`
}

// SourceConfig holds the source store connection parameters.
type SourceConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`

	// Table is the hypertable holding raw device telemetry.
	Table string `yaml:"table"`
}

// DestinationConfig holds the object storage parameters.
type DestinationConfig struct {
	// Bucket is required; its absence is a hard configuration error
	// raised before any network I/O.
	Bucket string `yaml:"bucket"`

	// Prefix is the object key prefix ahead of the date partitions.
	Prefix string `yaml:"prefix"`

	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint (MinIO, localstack).
	Endpoint string `yaml:"endpoint"`

	// Profile is the shared credentials profile to use.
	Profile string `yaml:"profile"`

	// PathStyle forces path-style addressing, needed by most
	// S3-compatible endpoints.
	PathStyle bool `yaml:"path_style"`
}

// StagingConfig configures the local staging filesystem namespace.
type StagingConfig struct {
	// Dir holds intermediate artifacts between stages.
	Dir string `yaml:"dir"`

	// SweepAfter is the age past which orphaned staging files from
	// failed runs are removed by the startup sweep.
	SweepAfter time.Duration `yaml:"sweep_after"`
}

// PipelineConfig configures run coordination and conversion.
type PipelineConfig struct {
	// Lookback is the extraction window.
	Lookback time.Duration `yaml:"lookback"`

	// BucketWidth is the aggregation bucket inside the source store.
	BucketWidth time.Duration `yaml:"bucket_width"`

	// MaxRetries is the per-stage retry bound after the first attempt.
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the fixed delay between stage attempts.
	Backoff time.Duration `yaml:"backoff"`

	// RunTimeout bounds a whole run.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// RowGroupSize bounds rows per Parquet row group.
	RowGroupSize int `yaml:"row_group_size"`

	// Compression is the Parquet compression algorithm.
	Compression string `yaml:"compression"`
}

// Default returns a configuration with documented defaults applied.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Host:    "localhost",
			Port:    defaults.DefaultSourcePort,
			SSLMode: defaults.DefaultSSLMode,
			Table:   defaults.DefaultSourceTable,
		},
		Destination: DestinationConfig{
			Prefix: defaults.DefaultPartitionPrefix,
		},
		Staging: StagingConfig{
			Dir:        defaults.DefaultStagingDir,
			SweepAfter: defaults.DefaultSweepAfter,
		},
		Pipeline: PipelineConfig{
			Lookback:     defaults.DefaultLookback,
			BucketWidth:  defaults.DefaultBucketWidth,
			MaxRetries:   defaults.DefaultMaxRetries,
			Backoff:      defaults.DefaultRetryBackoff,
			RunTimeout:   defaults.DefaultRunTimeout,
			RowGroupSize: defaults.DefaultRowGroupSize,
			Compression:  defaults.DefaultCompression,
		},
	}
}

// Load loads configuration from a YAML file, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// ApplyEnv overlays environment variables onto the configuration.
// The names match the variables the scheduler environment exports.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("TIMESCALE_HOST"); v != "" {
		c.Source.Host = v
	}
	if v := os.Getenv("TIMESCALE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Source.Port = port
		}
	}
	if v := os.Getenv("TIMESCALE_DB"); v != "" {
		c.Source.Database = v
	}
	if v := os.Getenv("TIMESCALE_USER"); v != "" {
		c.Source.User = v
	}
	if v := os.Getenv("TIMESCALE_PASSWORD"); v != "" {
		c.Source.Password = v
	}
	if v := os.Getenv("AWS_S3_BUCKET"); v != "" {
		c.Destination.Bucket = v
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		c.Destination.Profile = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Destination.Region = v
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Destination.Bucket == "" {
		return errs.ErrBucketNotConfigured
	}
	if c.Source.Host == "" {
		return errs.NewMissingField("source.host")
	}
	if c.Source.Database == "" {
		return errs.NewMissingField("source.database")
	}
	if c.Source.User == "" {
		return errs.NewMissingField("source.user")
	}
	if c.Source.Table == "" {
		return errs.NewMissingField("source.table")
	}
	if c.Pipeline.Lookback <= 0 {
		return errs.NewValidation("pipeline.lookback", "must be positive")
	}
	if c.Pipeline.BucketWidth <= 0 {
		return errs.NewValidation("pipeline.bucket_width", "must be positive")
	}
	if c.Pipeline.MaxRetries < 0 {
		return errs.NewValidation("pipeline.max_retries", "must not be negative")
	}
	if c.Pipeline.RowGroupSize <= 0 {
		return errs.NewValidation("pipeline.row_group_size", "must be positive")
	}
	if c.Staging.Dir == "" {
		return errs.NewMissingField("staging.dir")
	}
	return nil
}

// DSN builds the source store connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.Source.User),
		url.QueryEscape(c.Source.Password),
		c.Source.Host,
		c.Source.Port,
		c.Source.Database,
		c.Source.SSLMode,
	)
}
