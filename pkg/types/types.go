// Package types defines the core data structures for the Wyckoff detection
// engine.
//
//   - Bar = one OHLCV bar of the input stream
//   - VolumeSnapshot = per-bar derived volume/spread ratios
//   - TradingRange = accumulation/distribution range with phase
//   - PatternEvent = tagged variant over the detected Wyckoff patterns
//   - Campaign = tracked multi-pattern position-building lifecycle
//   - TradeSignal = validated (or rejected) trade candidate
package types

import (
	"fmt"
	"time"
)

// Bar represents a single OHLCV bar. Bars are immutable once ingested and
// must arrive in strictly increasing timestamp order per symbol+timeframe.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Range returns the high-low spread of the bar.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// EffortResult tags the relationship between volume (effort) and price
// movement (result) on a bar.
type EffortResult string

const (
	EffortHarmony    EffortResult = "harmony"    // big effort, big result
	EffortDivergence EffortResult = "divergence" // big effort, small result
	EffortNeutral    EffortResult = "neutral"
)

// VolumeSnapshot holds the derived per-bar volume metrics. Valid is false
// while the rolling window has insufficient history; the remaining fields
// are zero in that case and must not be used.
type VolumeSnapshot struct {
	VolumeRatio   float64
	SpreadRatio   float64
	ClosePosition float64 // 0 = close at low, 1 = close at high
	EffortResult  EffortResult
	Valid         bool
}

// Phase identifies the Wyckoff phase of a trading range.
// A = stopping action, B = cause building, C = test/shakeout,
// D = markup begins, E = trend continuation.
type Phase int

const (
	PhaseUnclassified Phase = iota
	PhaseA
	PhaseB
	PhaseC
	PhaseD
	PhaseE
)

var phaseNames = map[Phase]string{
	PhaseUnclassified: "unclassified",
	PhaseA:            "A",
	PhaseB:            "B",
	PhaseC:            "C",
	PhaseD:            "D",
	PhaseE:            "E",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Classified reports whether the phase carries enough confidence to be used.
func (p Phase) Classified() bool {
	return p != PhaseUnclassified
}

// TradingRange is a validated support/resistance structure. A range is only
// accepted with Duration() >= 15 bars and at least two touches on each
// boundary. Phase advances monotonically A through E and never regresses
// except via explicit cancellation of the whole range.
type TradingRange struct {
	Support         float64
	Resistance      float64
	StartIndex      int
	EndIndex        int
	TouchesSupport  int
	TouchesResist   int
	QualityScore    float64 // 0-100
	Phase           Phase
	PhaseConfidence float64 // 0-100
}

// Duration returns the range length in bars, inclusive of both ends.
func (r TradingRange) Duration() int {
	return r.EndIndex - r.StartIndex + 1
}

// Width returns the absolute price width of the range.
func (r TradingRange) Width() float64 {
	return r.Resistance - r.Support
}

// WidthPct returns the range width as a fraction of the support level.
func (r TradingRange) WidthPct() float64 {
	if r.Support <= 0 {
		return 0
	}
	return r.Width() / r.Support
}

// PatternKind discriminates the closed set of Wyckoff pattern variants.
type PatternKind string

const (
	KindSpring         PatternKind = "spring"
	KindUpthrust       PatternKind = "upthrust"
	KindSellingClimax  PatternKind = "selling_climax"
	KindAutomaticRally PatternKind = "automatic_rally"
	KindSOSBreakout    PatternKind = "sos_breakout"
	KindLPS            PatternKind = "lps"
)

// PatternEvent is one detected Wyckoff pattern. Events are owned by the
// trading range that produced them and identified by an arena index; they
// never back-reference a campaign.
type PatternEvent struct {
	ID             int // arena index assigned by the engine
	Kind           PatternKind
	BarIndex       int
	Timestamp      time.Time
	Price          float64
	VolumeRatio    float64
	PenetrationPct float64 // depth of the boundary break as a fraction, 0-0.05
	Confidence     float64 // 0-100
	RecoveryBars   int
}

// CampaignState is the lifecycle state of a campaign.
type CampaignState string

const (
	CampaignForming   CampaignState = "forming"
	CampaignActive    CampaignState = "active"
	CampaignCompleted CampaignState = "completed"
	CampaignFailed    CampaignState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s CampaignState) Terminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// RiskLabel is the aggregate risk classification derived from the volume
// trend across successive tests inside a campaign.
type RiskLabel string

const (
	RiskLow      RiskLabel = "low"
	RiskModerate RiskLabel = "moderate"
	RiskHigh     RiskLabel = "high"
)

// Campaign tracks a multi-pattern position-building sequence. It owns the
// ordered list of pattern event IDs; a pattern belongs to at most one
// active campaign at a time.
type Campaign struct {
	ID            string
	Symbol        string
	Timeframe     string
	State         CampaignState
	PatternIDs    []int
	SupportLevel  float64
	ResistLevel   float64
	StrengthScore float64 // weighted average of pattern confidences
	RiskPerShare  float64
	RangeWidthPct float64
	RiskLabel     RiskLabel
	CreatedAt     time.Time
	LastPatternAt time.Time
	ExpiresAt     time.Time

	// Set on completion by the external markup-confirmation signal.
	ExitPrice float64
	RealizedR float64
}

// PatternCount returns the number of patterns attached to the campaign.
func (c *Campaign) PatternCount() int {
	return len(c.PatternIDs)
}

// TradeSignal is the output of the validation pipeline: either an approved
// trade or a structured rejection identifying the first failing stage.
// Rejections are first-class data, not errors.
type TradeSignal struct {
	PatternID  int
	CampaignID string
	Symbol     string
	Timeframe  string
	Kind       PatternKind
	Timestamp  time.Time

	Entry      float64
	Stop       float64
	Target     float64
	Confidence float64
	RiskPct    float64
	RMultiple  float64
	Shares     int

	Approved        bool
	RejectionStage  string
	RejectionReason string
}

func (s TradeSignal) String() string {
	if s.Approved {
		return fmt.Sprintf("%s %s entry=%.4f stop=%.4f target=%.4f r=%.2f risk=%.2f%%",
			s.Kind, s.Symbol, s.Entry, s.Stop, s.Target, s.RMultiple, s.RiskPct*100)
	}
	return fmt.Sprintf("%s %s rejected at %s: %s", s.Kind, s.Symbol, s.RejectionStage, s.RejectionReason)
}
