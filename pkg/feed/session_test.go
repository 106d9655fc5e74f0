package feed

import (
	"testing"
	"time"

	"github.com/marketstruct/wyckoff/pkg/types"
)

func hourlyBars(day time.Time, hours ...int) []types.Bar {
	bars := make([]types.Bar, 0, len(hours))
	for _, h := range hours {
		bars = append(bars, types.Bar{
			Timestamp: day.Add(time.Duration(h) * time.Hour),
			Open:      100, High: 101, Low: 99, Close: 100.5, Volume: 1000,
		})
	}
	return bars
}

func TestFilterSessionKeepsInWindowBars(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := hourlyBars(day, 4, 8, 9, 10, 12, 16, 17, 20)

	openAt := 9*time.Hour + 30*time.Minute
	closeAt := 16 * time.Hour
	kept := FilterSession(bars, openAt, closeAt)

	if len(kept) != 3 {
		t.Fatalf("kept %d bars, want 3 (10:00, 12:00, 16:00)", len(kept))
	}
	for _, b := range kept {
		off := b.Timestamp.Sub(day)
		if off < openAt || off > closeAt {
			t.Errorf("bar at %s outside the session window", b.Timestamp)
		}
	}
}

func TestFilterSessionBoundsInclusive(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := []types.Bar{
		{Timestamp: day.Add(9*time.Hour + 30*time.Minute), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
		{Timestamp: day.Add(16 * time.Hour), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
	}

	kept := FilterSession(bars, 9*time.Hour+30*time.Minute, 16*time.Hour)
	if len(kept) != 2 {
		t.Errorf("kept %d bars, want both boundary bars", len(kept))
	}
}

func TestFilterSessionSpansDays(t *testing.T) {
	d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	bars := append(hourlyBars(d1, 8, 10), hourlyBars(d2, 10, 22)...)

	kept := FilterSession(bars, 9*time.Hour+30*time.Minute, 16*time.Hour)
	if len(kept) != 2 {
		t.Fatalf("kept %d bars, want one in-session bar per day", len(kept))
	}
	if !kept[0].Timestamp.Equal(d1.Add(10*time.Hour)) || !kept[1].Timestamp.Equal(d2.Add(10*time.Hour)) {
		t.Errorf("kept bars at %s and %s, want the 10:00 bar of each day",
			kept[0].Timestamp, kept[1].Timestamp)
	}
}
