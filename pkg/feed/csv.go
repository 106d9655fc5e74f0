package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/marketstruct/wyckoff/pkg/types"
)

// CSVSource reads bars from a CSV file with a header row. Required
// columns: timestamp, open, high, low, close, volume. Extra columns are
// ignored. The symbol/timeframe arguments to Bars are informational only;
// a CSV file holds exactly one partition.
type CSVSource struct {
	Path string
}

var _ Provider = (*CSVSource)(nil)

// Bars loads every row inside [start, end]. Zero start/end disable the
// respective bound.
func (s *CSVSource) Bars(_ context.Context, _, _ string, start, end time.Time) ([]types.Bar, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV must have header + at least 1 data row")
	}

	colIdx := make(map[string]int)
	for i, h := range records[0] {
		colIdx[strings.TrimSpace(strings.ToLower(h))] = i
	}
	for _, col := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	bars := make([]types.Bar, 0, len(records)-1)
	for rowNum, row := range records[1:] {
		if len(row) != len(records[0]) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d",
				rowNum+2, len(records[0]), len(row))
		}

		ts, err := parseTimestamp(row[colIdx["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("row %d timestamp: %w", rowNum+2, err)
		}
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && ts.After(end) {
			continue
		}

		bar := types.Bar{Timestamp: ts}
		for name, dst := range map[string]*float64{
			"open":   &bar.Open,
			"high":   &bar.High,
			"low":    &bar.Low,
			"close":  &bar.Close,
			"volume": &bar.Volume,
		} {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[colIdx[name]]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d %s: %w", rowNum+2, name, err)
			}
			*dst = v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}
