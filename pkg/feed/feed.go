// Package feed supplies OHLCV bars to the detection engine. Two sources
// are provided: a CSV file reader for replay runs and an HTTP client for
// a bar-serving data API. Both return bars in file/response order; the
// engine enforces timestamp monotonicity itself.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/marketstruct/wyckoff/pkg/types"
)

// Provider fetches bars for one symbol+timeframe partition.
type Provider interface {
	Bars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]types.Bar, error)
}

// parseTimestamp tries the timestamp formats seen across exchange dumps
// and API responses.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05+00:00",
		"2006-01-02",
	}
	for _, f := range formats {
		t, err := time.Parse(f, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp format: %s", s)
}
