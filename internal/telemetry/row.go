// Package telemetry defines the aggregate row model shared by the
// extraction and conversion stages, together with its row-oriented
// (CSV) staging encoding.
package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

// AggregateRow is one hourly aggregate per device and location, as
// returned by the extraction query.
type AggregateRow struct {
	HourBucket     time.Time
	DeviceID       string
	AvgLatitude    float64
	AvgLongitude   float64
	AvgSpeed       float64
	AvgTemperature float64
	AvgHumidity    float64
	AvgBattery     float64
	RecordCount    int64
	MaxTimestamp   time.Time
	MinTimestamp   time.Time
	City           string
	Country        string
}

// Header is the column order of the row-oriented staging file.
var Header = []string{
	"hour_bucket",
	"device_id",
	"avg_latitude",
	"avg_longitude",
	"avg_speed",
	"avg_temperature",
	"avg_humidity",
	"avg_battery_level",
	"record_count",
	"max_timestamp",
	"min_timestamp",
	"city",
	"country",
}

// Sort orders rows by hour bucket descending, then device ID ascending.
// The extractor applies this after scanning so downstream partitioning is
// reproducible for any permutation the store returns rows in.
func Sort(rows []AggregateRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].HourBucket.Equal(rows[j].HourBucket) {
			return rows[i].HourBucket.After(rows[j].HourBucket)
		}
		return rows[i].DeviceID < rows[j].DeviceID
	})
}

// record converts a row to its CSV record.
func (r *AggregateRow) record() []string {
	return []string{
		r.HourBucket.UTC().Format(time.RFC3339Nano),
		r.DeviceID,
		formatFloat(r.AvgLatitude),
		formatFloat(r.AvgLongitude),
		formatFloat(r.AvgSpeed),
		formatFloat(r.AvgTemperature),
		formatFloat(r.AvgHumidity),
		formatFloat(r.AvgBattery),
		strconv.FormatInt(r.RecordCount, 10),
		r.MaxTimestamp.UTC().Format(time.RFC3339Nano),
		r.MinTimestamp.UTC().Format(time.RFC3339Nano),
		r.City,
		r.Country,
	}
}

// fromRecord parses a CSV record into a row.
func fromRecord(rec []string) (AggregateRow, error) {
	if len(rec) != len(Header) {
		return AggregateRow{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(rec))
	}

	var (
		row AggregateRow
		err error
	)

	if row.HourBucket, err = time.Parse(time.RFC3339Nano, rec[0]); err != nil {
		return AggregateRow{}, fmt.Errorf("hour_bucket: %w", err)
	}
	row.DeviceID = rec[1]

	floats := []*float64{
		&row.AvgLatitude, &row.AvgLongitude, &row.AvgSpeed,
		&row.AvgTemperature, &row.AvgHumidity, &row.AvgBattery,
	}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(rec[2+i], 64); err != nil {
			return AggregateRow{}, fmt.Errorf("%s: %w", Header[2+i], err)
		}
	}

	if row.RecordCount, err = strconv.ParseInt(rec[8], 10, 64); err != nil {
		return AggregateRow{}, fmt.Errorf("record_count: %w", err)
	}
	if row.MaxTimestamp, err = time.Parse(time.RFC3339Nano, rec[9]); err != nil {
		return AggregateRow{}, fmt.Errorf("max_timestamp: %w", err)
	}
	if row.MinTimestamp, err = time.Parse(time.RFC3339Nano, rec[10]); err != nil {
		return AggregateRow{}, fmt.Errorf("min_timestamp: %w", err)
	}
	row.City = rec[11]
	row.Country = rec[12]

	return row, nil
}

// WriteCSV writes rows in the staging format, header first.
func WriteCSV(w io.Writer, rows []AggregateRow) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range rows {
		if err := cw.Write(rows[i].record()); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a staging file written by WriteCSV.
func ReadCSV(r io.Reader) ([]AggregateRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, name := range Header {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], name)
		}
	}

	var rows []AggregateRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows), err)
		}

		row, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("parse row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
