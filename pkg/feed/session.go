package feed

import (
	"time"

	"github.com/marketstruct/wyckoff/pkg/types"
)

// FilterSession keeps bars whose clock time falls inside the [openAt,
// closeAt] window, both expressed as offsets from midnight UTC. Intraday
// asset classes that only trade a session window drop their off-session
// bars here, before the engine sees them.
func FilterSession(bars []types.Bar, openAt, closeAt time.Duration) []types.Bar {
	out := make([]types.Bar, 0, len(bars))
	for _, b := range bars {
		ts := b.Timestamp.UTC()
		midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		off := ts.Sub(midnight)
		if off < openAt || off > closeAt {
			continue
		}
		out = append(out, b)
	}
	return out
}
