// Package convert implements the conversion stage: it rewrites the
// row-oriented staging file into a dictionary-encoded, block-compressed
// columnar (Parquet) file.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	errs "github.com/lakeship/lakeship/internal/errors"
	"github.com/lakeship/lakeship/internal/logging"
	"github.com/lakeship/lakeship/internal/pipeline"
	"github.com/lakeship/lakeship/internal/staging"
	"github.com/lakeship/lakeship/internal/telemetry"
)

// StageName identifies the conversion stage.
const StageName = "convert"

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionSnappy
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// Row is the columnar representation of one hourly aggregate. The
// device/location dimensions are low cardinality, so they carry
// dictionary encoding.
type Row struct {
	HourBucketMs   int64   `parquet:"hour_bucket_ms"`
	DeviceID       string  `parquet:"device_id,dict"`
	AvgLatitude    float64 `parquet:"avg_latitude"`
	AvgLongitude   float64 `parquet:"avg_longitude"`
	AvgSpeed       float64 `parquet:"avg_speed"`
	AvgTemperature float64 `parquet:"avg_temperature"`
	AvgHumidity    float64 `parquet:"avg_humidity"`
	AvgBattery     float64 `parquet:"avg_battery_level"`
	RecordCount    int64   `parquet:"record_count"`
	MaxTimestampMs int64   `parquet:"max_timestamp_ms"`
	MinTimestampMs int64   `parquet:"min_timestamp_ms"`
	City           string  `parquet:"city,dict"`
	Country        string  `parquet:"country,dict"`
}

// ToRow converts an aggregate to its columnar representation.
func ToRow(a *telemetry.AggregateRow) Row {
	return Row{
		HourBucketMs:   a.HourBucket.UnixMilli(),
		DeviceID:       a.DeviceID,
		AvgLatitude:    a.AvgLatitude,
		AvgLongitude:   a.AvgLongitude,
		AvgSpeed:       a.AvgSpeed,
		AvgTemperature: a.AvgTemperature,
		AvgHumidity:    a.AvgHumidity,
		AvgBattery:     a.AvgBattery,
		RecordCount:    a.RecordCount,
		MaxTimestampMs: a.MaxTimestamp.UnixMilli(),
		MinTimestampMs: a.MinTimestamp.UnixMilli(),
		City:           a.City,
		Country:        a.Country,
	}
}

// Converter rewrites row-format staging artifacts as Parquet.
type Converter struct {
	compression  CompressionType
	rowGroupSize int
	log          *slog.Logger
}

// New creates a converter.
func New(compression string, rowGroupSize int) *Converter {
	return &Converter{
		compression:  ParseCompressionType(compression),
		rowGroupSize: rowGroupSize,
		log:          logging.Component("converter"),
	}
}

// Name implements pipeline.Stage.
func (c *Converter) Name() string { return StageName }

// Running implements pipeline.Stage.
func (c *Converter) Running() pipeline.RunState { return pipeline.StateConverting }

// Ready implements pipeline.Stage: the row artifact must still be on disk.
func (c *Converter) Ready(r *pipeline.Run) bool { return r.Row.Exists() }

// Execute reads the row artifact fully into memory, writes the columnar
// sibling, verifies it, and only then deletes the row artifact. If
// anything fails, the row artifact is left intact for inspection and
// retry.
func (c *Converter) Execute(ctx context.Context, r *pipeline.Run) error {
	if !r.Row.Exists() {
		return errs.Stage(errs.ErrConversion, errs.ErrStagingMissing)
	}
	if err := ctx.Err(); err != nil {
		return errs.Stage(errs.ErrConversion, err)
	}

	rows, err := c.readStaging(r.Row.Path)
	if err != nil {
		return errs.Stage(errs.ErrConversion, err)
	}

	outPath := staging.ColumnarPath(r.Row.Path)
	if err := c.writeParquet(outPath, rows); err != nil {
		os.Remove(outPath)
		return errs.Stage(errs.ErrConversion, err)
	}

	written, err := countRows(outPath)
	if err != nil {
		os.Remove(outPath)
		return errs.Stage(errs.ErrConversion, fmt.Errorf("verify output: %w", err))
	}
	if written != int64(len(rows)) {
		os.Remove(outPath)
		return errs.Stage(errs.ErrConversion,
			fmt.Errorf("verify output: wrote %d rows, expected %d", written, len(rows)))
	}

	r.Columnar = &pipeline.StagingArtifact{
		Path:      outPath,
		Format:    pipeline.FormatColumnar,
		RowCount:  written,
		CreatedBy: StageName,
	}

	// The columnar artifact is durable and verified; the row artifact is
	// consumed and may now be deleted.
	if err := r.Row.Remove(); err != nil {
		c.log.Warn("failed to remove row artifact", "path", r.Row.Path, "error", err)
	}

	c.log.Info("conversion complete", "rows", written, "path", outPath)
	return nil
}

// readStaging reads the row-format artifact fully into memory.
func (c *Converter) readStaging(path string) ([]telemetry.AggregateRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()

	rows, err := telemetry.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read staging file: %w", err)
	}
	return rows, nil
}

// writeParquet writes the columnar artifact and syncs it to disk.
func (c *Converter) writeParquet(path string, rows []telemetry.AggregateRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[Row](f,
		parquet.Compression(getCompression(c.compression)),
		parquet.MaxRowsPerRowGroup(int64(c.rowGroupSize)),
	)

	out := make([]Row, len(rows))
	for i := range rows {
		out[i] = ToRow(&rows[i])
	}

	if len(out) > 0 {
		if _, err := writer.Write(out); err != nil {
			f.Close()
			return fmt.Errorf("write rows: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	return f.Close()
}

// countRows reopens a Parquet file and returns its row count.
func countRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[Row](f)
	defer reader.Close()

	return reader.NumRows(), nil
}

// ReadAll reads every row of a columnar artifact. Used by tests and
// ad hoc inspection.
func ReadAll(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[Row](f)
	defer reader.Close()

	rows := make([]Row, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && n != len(rows) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}
