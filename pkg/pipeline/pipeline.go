// Package pipeline implements the five-stage signal validation chain.
// Stages run in a fixed order — volume, phase, level, risk, strategy —
// and each may short-circuit with a structured rejection carrying the
// failing stage and the violated threshold. Rejections are data, not
// errors: every candidate produces a TradeSignal either way.
package pipeline

import (
	"fmt"
	"math"

	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/levels"
	"github.com/marketstruct/wyckoff/pkg/types"
)

// Stage names, in pipeline order.
const (
	StageVolume   = "volume"
	StagePhase    = "phase"
	StageLevel    = "level"
	StageRisk     = "risk"
	StageStrategy = "strategy"
)

// stop distance bounds relative to entry
const (
	minStopDistancePct = 0.01
	maxStopDistancePct = 0.10
)

// minLevelStrength is the floor for the boundary strength score.
const minLevelStrength = 60.0

// portfolio limits enforced by the strategy stage
const (
	maxTradeRiskPct      = 0.02
	maxCampaignRiskPct   = 0.05
	maxPortfolioHeatPct  = 0.10
	maxCorrelatedHeatPct = 0.06
)

// riskParams holds the pattern-specific sizing caps and R-multiple floors.
type riskParams struct {
	MaxRiskPct float64
	MinR       float64
}

var riskByKind = map[types.PatternKind]riskParams{
	types.KindSpring:      {MaxRiskPct: 0.005, MinR: 3.0},
	types.KindSOSBreakout: {MaxRiskPct: 0.010, MinR: 2.0},
	types.KindLPS:         {MaxRiskPct: 0.006, MinR: 2.5},
	types.KindUpthrust:    {MaxRiskPct: 0.005, MinR: 3.0},
}

// allowedPhases is the per-kind phase gate for the phase stage.
var allowedPhases = map[types.PatternKind][]types.Phase{
	types.KindSpring:      {types.PhaseC},
	types.KindUpthrust:    {types.PhaseC, types.PhaseD},
	types.KindSOSBreakout: {types.PhaseC, types.PhaseD},
	types.KindLPS:         {types.PhaseD},
}

// Account carries the caller-supplied equity and open-risk context used by
// the risk and strategy stages. The engine holds no account state itself.
type Account struct {
	Equity            float64
	PortfolioHeatPct  float64
	CampaignHeatPct   float64
	CorrelatedHeatPct float64
}

// Candidate bundles everything the pipeline needs to validate one pattern.
type Candidate struct {
	Event    types.PatternEvent
	Campaign *types.Campaign
	Range    types.TradingRange
	Creek    levels.Level
	Ice      levels.Level

	Entry  float64
	Stop   float64
	Target float64
	Short  bool // true for distribution (upthrust) candidates

	// SOSVolumeRatio is the triggering SOS's volume ratio; required for
	// LPS candidates only.
	SOSVolumeRatio float64

	Account Account
}

// Validator runs candidates through the staged checks.
type Validator struct {
	cfg *config.Config
	thr config.Thresholds
}

// NewValidator creates a validator for one timeframe's thresholds.
func NewValidator(cfg *config.Config, timeframe string) *Validator {
	return &Validator{cfg: cfg, thr: cfg.ThresholdsFor(timeframe)}
}

// rejection is the short-circuit carrier inside the chain.
type rejection struct {
	stage  string
	reason string
}

type stageFn func(*Candidate) *rejection

// Validate runs the candidate through all five stages in order and returns
// the resulting signal: approved with sizing filled in, or rejected at the
// first failing stage.
func (v *Validator) Validate(c *Candidate) types.TradeSignal {
	sig := types.TradeSignal{
		PatternID:  c.Event.ID,
		Kind:       c.Event.Kind,
		Timestamp:  c.Event.Timestamp,
		Entry:      c.Entry,
		Stop:       c.Stop,
		Target:     c.Target,
		Confidence: c.Event.Confidence,
	}
	if c.Campaign != nil {
		sig.CampaignID = c.Campaign.ID
		sig.Symbol = c.Campaign.Symbol
		sig.Timeframe = c.Campaign.Timeframe
	}

	stages := []stageFn{
		v.volumeStage,
		v.phaseStage,
		v.levelStage,
		v.riskStage,
		v.strategyStage,
	}
	for _, stage := range stages {
		if rej := stage(c); rej != nil {
			sig.Approved = false
			sig.RejectionStage = rej.stage
			sig.RejectionReason = rej.reason
			return sig
		}
	}

	sig.Approved = true
	sig.Shares = c.shares(v)
	sig.RiskPct = c.actualRiskPct(v)
	sig.RMultiple = c.rMultiple()
	return sig
}

// volumeStage enforces the non-negotiable per-pattern volume thresholds.
// A violation here rejects regardless of any other score.
func (v *Validator) volumeStage(c *Candidate) *rejection {
	ratio := c.Event.VolumeRatio
	switch c.Event.Kind {
	case types.KindSpring:
		if ratio >= v.thr.SpringMaxVolumeRatio {
			return &rejection{StageVolume, fmt.Sprintf(
				"spring volume %.2fx at or above %.1fx ceiling", ratio, v.thr.SpringMaxVolumeRatio)}
		}
	case types.KindSOSBreakout:
		if ratio < v.thr.SOSMinVolumeRatio {
			return &rejection{StageVolume, fmt.Sprintf(
				"SOS volume below %.1fx threshold", v.thr.SOSMinVolumeRatio)}
		}
	case types.KindLPS:
		if c.SOSVolumeRatio <= 0 {
			return &rejection{StageVolume, "LPS candidate missing triggering SOS volume"}
		}
		if ratio >= c.SOSVolumeRatio*v.thr.LPSMaxVolumeFactor {
			return &rejection{StageVolume, fmt.Sprintf(
				"LPS volume %.2fx at or above %.1fx of SOS volume", ratio, v.thr.LPSMaxVolumeFactor)}
		}
	case types.KindUpthrust:
		if ratio < 1.0 {
			return &rejection{StageVolume, fmt.Sprintf(
				"upthrust break volume %.2fx below average", ratio)}
		}
	default:
		return &rejection{StageVolume, fmt.Sprintf("pattern kind %s is not tradeable", c.Event.Kind)}
	}
	return nil
}

// phaseStage checks the pattern's phase against its allowed set and the
// range maturity/confidence/quality minimums.
func (v *Validator) phaseStage(c *Candidate) *rejection {
	allowed, ok := allowedPhases[c.Event.Kind]
	if !ok {
		return &rejection{StagePhase, fmt.Sprintf("no phase set for %s", c.Event.Kind)}
	}
	inSet := false
	for _, p := range allowed {
		if c.Range.Phase == p {
			inSet = true
			break
		}
	}
	if !inSet {
		return &rejection{StagePhase, fmt.Sprintf(
			"phase %s not allowed for %s", c.Range.Phase, c.Event.Kind)}
	}
	if c.Range.Duration() < v.cfg.MinRangeDuration {
		return &rejection{StagePhase, fmt.Sprintf(
			"range duration %d below %d bar minimum", c.Range.Duration(), v.cfg.MinRangeDuration)}
	}
	if c.Range.PhaseConfidence < v.cfg.MinPhaseConfidence {
		return &rejection{StagePhase, fmt.Sprintf(
			"phase confidence %.0f below %.0f minimum", c.Range.PhaseConfidence, v.cfg.MinPhaseConfidence)}
	}
	if c.Range.QualityScore < v.cfg.MinQualityScore {
		return &rejection{StagePhase, fmt.Sprintf(
			"range quality %.0f below %.0f minimum", c.Range.QualityScore, v.cfg.MinQualityScore)}
	}
	return nil
}

// levelStage checks boundary strength and the stop distance bounds.
func (v *Validator) levelStage(c *Candidate) *rejection {
	for _, lvl := range []struct {
		name string
		lv   levels.Level
	}{{"creek", c.Creek}, {"ice", c.Ice}} {
		if lvl.lv.Touches < v.cfg.MinBoundaryTouches {
			return &rejection{StageLevel, fmt.Sprintf(
				"%s has %d touches, need %d", lvl.name, lvl.lv.Touches, v.cfg.MinBoundaryTouches)}
		}
		if lvl.lv.Strength < minLevelStrength {
			return &rejection{StageLevel, fmt.Sprintf(
				"%s strength %.0f below %.0f minimum", lvl.name, lvl.lv.Strength, minLevelStrength)}
		}
	}

	if c.Entry <= 0 {
		return &rejection{StageLevel, "entry price is not positive"}
	}
	dist := stopDistance(c)
	if dist <= 0 {
		return &rejection{StageLevel, "stop is on the wrong side of entry"}
	}
	distPct := dist / c.Entry
	if distPct < minStopDistancePct || distPct > maxStopDistancePct {
		return &rejection{StageLevel, fmt.Sprintf(
			"stop distance %.1f%% outside %.0f%%-%.0f%% bounds",
			distPct*100, minStopDistancePct*100, maxStopDistancePct*100)}
	}
	return nil
}

// riskStage sizes the position from equity and the pattern's risk cap,
// then enforces the pattern's minimum R-multiple.
func (v *Validator) riskStage(c *Candidate) *rejection {
	params, ok := riskByKind[c.Event.Kind]
	if !ok {
		return &rejection{StageRisk, fmt.Sprintf("no risk parameters for %s", c.Event.Kind)}
	}
	if c.Account.Equity <= 0 {
		return &rejection{StageRisk, "account equity is not positive"}
	}

	if c.shares(v) < 1 {
		return &rejection{StageRisk, fmt.Sprintf(
			"equity %.2f cannot fund one share at %.2f%% risk", c.Account.Equity, params.MaxRiskPct*100)}
	}

	r := c.rMultiple()
	if r < params.MinR {
		return &rejection{StageRisk, fmt.Sprintf(
			"r-multiple %.2f below %.1f minimum for %s", r, params.MinR, c.Event.Kind)}
	}
	return nil
}

// strategyStage enforces the aggregate portfolio limits.
func (v *Validator) strategyStage(c *Candidate) *rejection {
	risk := c.actualRiskPct(v)
	if risk > maxTradeRiskPct {
		return &rejection{StageStrategy, fmt.Sprintf(
			"trade risk %.2f%% exceeds %.0f%% cap", risk*100, maxTradeRiskPct*100)}
	}
	if c.Account.CampaignHeatPct+risk > maxCampaignRiskPct {
		return &rejection{StageStrategy, fmt.Sprintf(
			"campaign risk %.2f%% would exceed %.0f%% cap", (c.Account.CampaignHeatPct+risk)*100, maxCampaignRiskPct*100)}
	}
	if c.Account.PortfolioHeatPct+risk > maxPortfolioHeatPct {
		return &rejection{StageStrategy, fmt.Sprintf(
			"portfolio heat %.2f%% would exceed %.0f%% cap", (c.Account.PortfolioHeatPct+risk)*100, maxPortfolioHeatPct*100)}
	}
	if c.Account.CorrelatedHeatPct+risk > maxCorrelatedHeatPct {
		return &rejection{StageStrategy, fmt.Sprintf(
			"correlated risk %.2f%% would exceed %.0f%% cap", (c.Account.CorrelatedHeatPct+risk)*100, maxCorrelatedHeatPct*100)}
	}
	return nil
}

// stopDistance returns the per-share risk, positive when the stop sits on
// the correct side of entry.
func stopDistance(c *Candidate) float64 {
	if c.Short {
		return c.Stop - c.Entry
	}
	return c.Entry - c.Stop
}

// shares returns the position size funded by the pattern's risk cap.
func (c *Candidate) shares(v *Validator) int {
	params := riskByKind[c.Event.Kind]
	dist := stopDistance(c)
	if dist <= 0 {
		return 0
	}
	return int(math.Floor(c.Account.Equity * params.MaxRiskPct / dist))
}

// actualRiskPct returns the realized risk fraction after integer sizing.
func (c *Candidate) actualRiskPct(v *Validator) float64 {
	if c.Account.Equity <= 0 {
		return 0
	}
	return float64(c.shares(v)) * stopDistance(c) / c.Account.Equity
}

// rMultiple returns reward over risk for the candidate's levels.
func (c *Candidate) rMultiple() float64 {
	dist := stopDistance(c)
	if dist <= 0 {
		return 0
	}
	if c.Short {
		return (c.Entry - c.Target) / dist
	}
	return (c.Target - c.Entry) / dist
}
