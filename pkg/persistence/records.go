// Package persistence writes detection output to Postgres: campaign
// snapshots are upserted (a campaign's row follows its lifecycle) and
// trade signals are bulk-inserted once, append-only.
package persistence

import (
	"time"

	"github.com/marketstruct/wyckoff/pkg/types"
)

// CampaignRecord is the row shape for the wyckoff_campaigns table.
type CampaignRecord struct {
	ID            string
	Symbol        string
	Timeframe     string
	State         string
	PatternCount  int
	SupportLevel  float64
	ResistLevel   float64
	StrengthScore float64
	RiskPerShare  float64
	RangeWidthPct float64
	RiskLabel     string
	CreatedAt     time.Time
	LastPatternAt time.Time
	ExpiresAt     time.Time
	ExitPrice     float64
	RealizedR     float64
}

// SignalRecord is the row shape for the wyckoff_signals table.
type SignalRecord struct {
	CampaignID      string
	Symbol          string
	Timeframe       string
	PatternKind     string
	Timestamp       time.Time
	Entry           float64
	Stop            float64
	Target          float64
	Confidence      float64
	RiskPct         float64
	RMultiple       float64
	Shares          int
	Approved        bool
	RejectionStage  string
	RejectionReason string
}

// CampaignToRecord flattens a campaign snapshot into its row shape.
func CampaignToRecord(c *types.Campaign) CampaignRecord {
	return CampaignRecord{
		ID:            c.ID,
		Symbol:        c.Symbol,
		Timeframe:     c.Timeframe,
		State:         string(c.State),
		PatternCount:  c.PatternCount(),
		SupportLevel:  c.SupportLevel,
		ResistLevel:   c.ResistLevel,
		StrengthScore: c.StrengthScore,
		RiskPerShare:  c.RiskPerShare,
		RangeWidthPct: c.RangeWidthPct,
		RiskLabel:     string(c.RiskLabel),
		CreatedAt:     c.CreatedAt,
		LastPatternAt: c.LastPatternAt,
		ExpiresAt:     c.ExpiresAt,
		ExitPrice:     c.ExitPrice,
		RealizedR:     c.RealizedR,
	}
}

// SignalToRecord flattens a trade signal into its row shape.
func SignalToRecord(s types.TradeSignal) SignalRecord {
	return SignalRecord{
		CampaignID:      s.CampaignID,
		Symbol:          s.Symbol,
		Timeframe:       s.Timeframe,
		PatternKind:     string(s.Kind),
		Timestamp:       s.Timestamp,
		Entry:           s.Entry,
		Stop:            s.Stop,
		Target:          s.Target,
		Confidence:      s.Confidence,
		RiskPct:         s.RiskPct,
		RMultiple:       s.RMultiple,
		Shares:          s.Shares,
		Approved:        s.Approved,
		RejectionStage:  s.RejectionStage,
		RejectionReason: s.RejectionReason,
	}
}
