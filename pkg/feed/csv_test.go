package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleCSV = `timestamp,open,high,low,close,volume
2024-01-02,100.0,101.5,99.5,101.0,1500000
2024-01-03,101.0,102.0,100.5,101.8,1200000
2024-01-04,101.8,103.0,101.0,102.5,1800000
`

func TestCSVLoad(t *testing.T) {
	src := &CSVSource{Path: writeCSV(t, sampleCSV)}

	bars, err := src.Bars(context.Background(), "AAPL", "1d", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("bars = %d, want 3", len(bars))
	}
	if bars[0].Open != 100.0 || bars[0].Volume != 1500000 {
		t.Errorf("bar 0 = %+v, want open 100.0 volume 1500000", bars[0])
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if !bars[0].Timestamp.Equal(want) {
		t.Errorf("bar 0 timestamp = %s, want %s", bars[0].Timestamp, want)
	}
}

func TestCSVDateFiltering(t *testing.T) {
	src := &CSVSource{Path: writeCSV(t, sampleCSV)}

	start := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	bars, err := src.Bars(context.Background(), "AAPL", "1d", start, end)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("bars = %d, want 1 inside [start, end]", len(bars))
	}
	if bars[0].Close != 101.8 {
		t.Errorf("filtered bar close = %f, want 101.8", bars[0].Close)
	}
}

func TestCSVHeaderCaseAndExtras(t *testing.T) {
	csv := `Timestamp,Open,High,Low,Close,Volume,adj_close
2024-01-02,100.0,101.5,99.5,101.0,1500000,100.9
`
	src := &CSVSource{Path: writeCSV(t, csv)}

	bars, err := src.Bars(context.Background(), "AAPL", "1d", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("bars = %d, want 1", len(bars))
	}
}

func TestCSVMissingColumn(t *testing.T) {
	csv := `timestamp,open,high,low,close
2024-01-02,100.0,101.5,99.5,101.0
`
	src := &CSVSource{Path: writeCSV(t, csv)}

	_, err := src.Bars(context.Background(), "AAPL", "1d", time.Time{}, time.Time{})
	if err == nil || !strings.Contains(err.Error(), "volume") {
		t.Errorf("err = %v, want missing volume column", err)
	}
}

func TestCSVBadNumber(t *testing.T) {
	csv := `timestamp,open,high,low,close,volume
2024-01-02,100.0,101.5,99.5,n/a,1500000
`
	src := &CSVSource{Path: writeCSV(t, csv)}

	if _, err := src.Bars(context.Background(), "AAPL", "1d", time.Time{}, time.Time{}); err == nil {
		t.Error("expected parse error for non-numeric close")
	}
}

func TestCSVMissingFile(t *testing.T) {
	src := &CSVSource{Path: filepath.Join(t.TempDir(), "absent.csv")}
	if _, err := src.Bars(context.Background(), "AAPL", "1d", time.Time{}, time.Time{}); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseTimestampFormats(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-02", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"2024-01-02T09:30:00", time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)},
		{"2024-01-02 09:30:00", time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)},
		{"2024-01-02T09:30:00Z", time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		if err != nil {
			t.Errorf("parseTimestamp(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTimestamp(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	if _, err := parseTimestamp("01/02/2024"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
