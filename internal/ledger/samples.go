package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"autorip/internal/autoloader"
)

// CSVHeader is the column layout the calibration regression consumes.
var CSVHeader = []string{"Bin", "Count", "Offset"}

// RecordSample implements autoloader.SampleRecorder.
func (s *Store) RecordSample(ctx context.Context, sample autoloader.BinSample) error {
	recorded := sample.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bin_samples (run_id, bin, disc_count, offset_value, response, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		s.runID,
		sample.Bin,
		sample.Count,
		sample.Offset,
		sample.Response,
		recorded.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert bin sample: %w", err)
	}
	return nil
}

// Samples returns every recorded sample in insertion order.
func (s *Store) Samples(ctx context.Context) ([]autoloader.BinSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bin, disc_count, offset_value, response, recorded_at FROM bin_samples ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query bin samples: %w", err)
	}
	defer rows.Close()

	var samples []autoloader.BinSample
	for rows.Next() {
		var sample autoloader.BinSample
		var recorded string
		if err := rows.Scan(&sample.Bin, &sample.Count, &sample.Offset, &sample.Response, &recorded); err != nil {
			return nil, fmt.Errorf("scan bin sample: %w", err)
		}
		sample.RecordedAt = parseTime(recorded)
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// ExportSamplesCSV writes all samples as Bin,Count,Offset rows and returns
// the number of data rows written.
func (s *Store) ExportSamplesCSV(ctx context.Context, w io.Writer) (int, error) {
	samples, err := s.Samples(ctx)
	if err != nil {
		return 0, err
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, sample := range samples {
		row := []string{strconv.Itoa(sample.Bin), strconv.Itoa(sample.Count), strconv.Itoa(sample.Offset)}
		if err := writer.Write(row); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(samples), nil
}
