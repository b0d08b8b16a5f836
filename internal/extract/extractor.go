// Package extract implements the extraction stage: it runs the fixed
// aggregation query against the source time-series store and materializes
// the result set to a row-oriented staging file.
package extract

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	errs "github.com/lakeship/lakeship/internal/errors"
	"github.com/lakeship/lakeship/internal/logging"
	"github.com/lakeship/lakeship/internal/pipeline"
	"github.com/lakeship/lakeship/internal/staging"
	"github.com/lakeship/lakeship/internal/telemetry"
)

// StageName identifies the extraction stage.
const StageName = "extract"

// Querier is the subset of *sql.DB the extractor needs. In production it
// is backed by the pgx stdlib driver; tests back it with an in-process
// DuckDB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Extractor runs the aggregation query and stages the rows as CSV.
type Extractor struct {
	db          Querier
	table       string
	bucketWidth time.Duration
	stagingDir  string
	log         *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// New creates an extractor over the given source store.
func New(db Querier, table string, bucketWidth time.Duration, stagingDir string) *Extractor {
	return &Extractor{
		db:          db,
		table:       table,
		bucketWidth: bucketWidth,
		stagingDir:  stagingDir,
		log:         logging.Component("extractor"),
		now:         time.Now,
	}
}

// Name implements pipeline.Stage.
func (e *Extractor) Name() string { return StageName }

// Running implements pipeline.Stage.
func (e *Extractor) Running() pipeline.RunState { return pipeline.StateExtracting }

// Ready implements pipeline.Stage. The extractor only needs the run
// context, which always exists.
func (e *Extractor) Ready(*pipeline.Run) bool { return true }

// Execute runs the aggregation query over [now-lookback, now) and writes
// the row-format staging artifact. On any failure no partial staging file
// is left referenced.
func (e *Extractor) Execute(ctx context.Context, r *pipeline.Run) error {
	until := e.now().UTC()
	since := until.Add(-r.Context.Lookback)

	rows, err := e.queryWindow(ctx, since, until)
	if err != nil {
		return errs.Stage(errs.ErrExtraction, err)
	}

	// Deterministic ordering regardless of how the store returned rows:
	// hour bucket descending, then device ID ascending.
	telemetry.Sort(rows)

	path := staging.RowPath(e.stagingDir, r.Context)
	if err := e.writeStaging(path, rows); err != nil {
		return errs.Stage(errs.ErrExtraction, err)
	}

	r.Row = &pipeline.StagingArtifact{
		Path:      path,
		Format:    pipeline.FormatRow,
		RowCount:  int64(len(rows)),
		CreatedBy: StageName,
	}

	e.log.Info("extraction complete",
		"rows", len(rows), "path", path,
		"window_start", since, "window_end", until)
	return nil
}

// queryWindow executes the fixed aggregation query for one window.
func (e *Extractor) queryWindow(ctx context.Context, since, until time.Time) ([]telemetry.AggregateRow, error) {
	query := fmt.Sprintf(`
		SELECT
			time_bucket(INTERVAL '%d seconds', recorded_at) AS hour_bucket,
			device_id,
			AVG(latitude) AS avg_latitude,
			AVG(longitude) AS avg_longitude,
			AVG(speed) AS avg_speed,
			AVG(temperature) AS avg_temperature,
			AVG(humidity) AS avg_humidity,
			AVG(battery_level) AS avg_battery_level,
			COUNT(*) AS record_count,
			MAX(recorded_at) AS max_timestamp,
			MIN(recorded_at) AS min_timestamp,
			city,
			country
		FROM %s
		WHERE recorded_at >= $1 AND recorded_at < $2
		GROUP BY hour_bucket, device_id, city, country
		ORDER BY hour_bucket DESC, device_id`,
		int(e.bucketWidth.Seconds()), quoteIdentifier(e.table))

	sqlRows, err := e.db.QueryContext(ctx, query, since, until)
	if err != nil {
		return nil, fmt.Errorf("query source: %w", err)
	}
	defer sqlRows.Close()

	var rows []telemetry.AggregateRow
	for sqlRows.Next() {
		var row telemetry.AggregateRow
		if err := sqlRows.Scan(
			&row.HourBucket,
			&row.DeviceID,
			&row.AvgLatitude,
			&row.AvgLongitude,
			&row.AvgSpeed,
			&row.AvgTemperature,
			&row.AvgHumidity,
			&row.AvgBattery,
			&row.RecordCount,
			&row.MaxTimestamp,
			&row.MinTimestamp,
			&row.City,
			&row.Country,
		); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}
	if err := sqlRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return rows, nil
}

// writeStaging materializes rows to the staging path. A partially written
// file is removed before the error is returned.
func (e *Extractor) writeStaging(path string, rows []telemetry.AggregateRow) error {
	if err := staging.EnsureDir(e.stagingDir); err != nil {
		return fmt.Errorf("ensure staging dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}

	if err := telemetry.WriteCSV(f, rows); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write staging file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close staging file: %w", err)
	}

	return nil
}

// quoteIdentifier quotes a SQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
