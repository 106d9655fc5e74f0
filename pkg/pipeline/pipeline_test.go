package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/levels"
	"github.com/marketstruct/wyckoff/pkg/types"
)

// springCandidate builds a fully passing long candidate; tests break one
// stage at a time.
func springCandidate() *Candidate {
	return &Candidate{
		Event: types.PatternEvent{
			ID:          1,
			Kind:        types.KindSpring,
			Timestamp:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Price:       98,
			VolumeRatio: 0.4,
			Confidence:  78,
		},
		Campaign: &types.Campaign{ID: "c-1", Symbol: "AAPL", Timeframe: "1d"},
		Range: types.TradingRange{
			Support: 100, Resistance: 110,
			StartIndex: 0, EndIndex: 29,
			TouchesSupport: 3, TouchesResist: 3,
			QualityScore:    75,
			Phase:           types.PhaseC,
			PhaseConfidence: 80,
		},
		Creek:   levels.Level{Price: 100, Touches: 3, Strength: 80},
		Ice:     levels.Level{Price: 110, Touches: 3, Strength: 75},
		Entry:   101,
		Stop:    98,
		Target:  135,
		Account: Account{Equity: 100_000},
	}
}

func TestApprovedSpringSignal(t *testing.T) {
	v := NewValidator(config.Default(), "1d")
	sig := v.Validate(springCandidate())

	if !sig.Approved {
		t.Fatalf("rejected at %s: %s", sig.RejectionStage, sig.RejectionReason)
	}
	// floor(100000 * 0.005 / 3) risk-capped sizing
	if sig.Shares != 166 {
		t.Errorf("shares = %d, want 166", sig.Shares)
	}
	wantRisk := 166.0 * 3.0 / 100_000
	if math.Abs(sig.RiskPct-wantRisk) > 1e-9 {
		t.Errorf("risk pct = %f, want %f", sig.RiskPct, wantRisk)
	}
	wantR := (135.0 - 101.0) / 3.0
	if math.Abs(sig.RMultiple-wantR) > 1e-9 {
		t.Errorf("r-multiple = %f, want %f", sig.RMultiple, wantR)
	}
	if sig.CampaignID != "c-1" || sig.Symbol != "AAPL" {
		t.Errorf("signal identity = %s/%s, want c-1/AAPL", sig.CampaignID, sig.Symbol)
	}
}

func TestSOSVolumeRejectionReason(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	c := springCandidate()
	c.Event.Kind = types.KindSOSBreakout
	c.Event.VolumeRatio = 1.2
	c.Range.Phase = types.PhaseD
	c.Stop = 108.35
	c.Entry = 111.5

	sig := v.Validate(c)
	if sig.Approved {
		t.Fatal("expected rejection")
	}
	if sig.RejectionStage != StageVolume {
		t.Errorf("stage = %s, want volume", sig.RejectionStage)
	}
	if sig.RejectionReason != "SOS volume below 1.5x threshold" {
		t.Errorf("reason = %q, want %q", sig.RejectionReason, "SOS volume below 1.5x threshold")
	}
}

func TestSpringVolumeCeilingRejection(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	c := springCandidate()
	c.Event.VolumeRatio = 0.7

	sig := v.Validate(c)
	if sig.Approved || sig.RejectionStage != StageVolume {
		t.Errorf("stage = %s approved=%v, want volume rejection", sig.RejectionStage, sig.Approved)
	}
}

func TestPhaseGateRejections(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	tests := []struct {
		name   string
		mutate func(*Candidate)
	}{
		{"spring outside phase C", func(c *Candidate) { c.Range.Phase = types.PhaseD }},
		{"unclassified phase", func(c *Candidate) { c.Range.Phase = types.PhaseUnclassified }},
		{"short range", func(c *Candidate) { c.Range.EndIndex = 10 }},
		{"low phase confidence", func(c *Candidate) { c.Range.PhaseConfidence = 50 }},
		{"low quality", func(c *Candidate) { c.Range.QualityScore = 40 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := springCandidate()
			tt.mutate(c)
			sig := v.Validate(c)
			if sig.Approved {
				t.Fatal("expected rejection")
			}
			if sig.RejectionStage != StagePhase {
				t.Errorf("stage = %s, want phase", sig.RejectionStage)
			}
		})
	}
}

func TestLevelStageRejections(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	tests := []struct {
		name   string
		mutate func(*Candidate)
	}{
		{"weak creek", func(c *Candidate) { c.Creek.Strength = 40 }},
		{"untested ice", func(c *Candidate) { c.Ice.Touches = 1 }},
		{"stop too tight", func(c *Candidate) { c.Stop = 100.5 }},  // 0.5% from entry
		{"stop too wide", func(c *Candidate) { c.Stop = 89 }},      // ~11.9% from entry
		{"stop above entry", func(c *Candidate) { c.Stop = 102 }},  // wrong side for a long
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := springCandidate()
			tt.mutate(c)
			sig := v.Validate(c)
			if sig.Approved {
				t.Fatal("expected rejection")
			}
			if sig.RejectionStage != StageLevel {
				t.Errorf("stage = %s, want level", sig.RejectionStage)
			}
		})
	}
}

func TestRiskStageRejectsLowRMultiple(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	c := springCandidate()
	c.Target = 106 // (106-101)/3 = 1.67R, under the 3.0 spring floor

	sig := v.Validate(c)
	if sig.Approved {
		t.Fatal("expected rejection")
	}
	if sig.RejectionStage != StageRisk {
		t.Errorf("stage = %s, want risk", sig.RejectionStage)
	}
}

func TestRiskStageRejectsUnfundableEquity(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	c := springCandidate()
	c.Account.Equity = 500 // 0.5% risk budget cannot buy one share at 3.0 stop distance

	sig := v.Validate(c)
	if sig.Approved || sig.RejectionStage != StageRisk {
		t.Errorf("stage = %s approved=%v, want risk rejection", sig.RejectionStage, sig.Approved)
	}
}

func TestStrategyStageHeatLimits(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	tests := []struct {
		name   string
		mutate func(*Candidate)
	}{
		{"portfolio heat", func(c *Candidate) { c.Account.PortfolioHeatPct = 0.099 }},
		{"campaign heat", func(c *Candidate) { c.Account.CampaignHeatPct = 0.049 }},
		{"correlated heat", func(c *Candidate) { c.Account.CorrelatedHeatPct = 0.059 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := springCandidate()
			tt.mutate(c)
			sig := v.Validate(c)
			if sig.Approved {
				t.Fatal("expected rejection")
			}
			if sig.RejectionStage != StageStrategy {
				t.Errorf("stage = %s, want strategy", sig.RejectionStage)
			}
		})
	}
}

func TestStageOrderVolumeFirst(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	// Fails volume AND phase AND risk: the reported stage must be the
	// earliest in pipeline order.
	c := springCandidate()
	c.Event.VolumeRatio = 0.9
	c.Range.Phase = types.PhaseD
	c.Target = 102

	sig := v.Validate(c)
	if sig.RejectionStage != StageVolume {
		t.Errorf("stage = %s, want volume (first failing stage wins)", sig.RejectionStage)
	}
}

func TestShortCandidateUpthrust(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	c := springCandidate()
	c.Event.Kind = types.KindUpthrust
	c.Event.VolumeRatio = 1.5
	c.Short = true
	c.Entry = 109
	c.Stop = 112   // above entry for a short
	c.Target = 100 // support

	sig := v.Validate(c)
	if !sig.Approved {
		t.Fatalf("rejected at %s: %s", sig.RejectionStage, sig.RejectionReason)
	}
	// stop distance 3, reward 9
	if math.Abs(sig.RMultiple-3.0) > 1e-9 {
		t.Errorf("r-multiple = %f, want 3.0", sig.RMultiple)
	}
	if sig.Shares != 166 {
		t.Errorf("shares = %d, want 166", sig.Shares)
	}
}

func TestShortRMultipleFloor(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	c := springCandidate()
	c.Event.Kind = types.KindUpthrust
	c.Event.VolumeRatio = 1.5
	c.Short = true
	c.Entry = 109
	c.Stop = 113 // stop distance 4, reward 9: 2.25R, under the 3.0 floor
	c.Target = 100

	sig := v.Validate(c)
	if sig.Approved || sig.RejectionStage != StageRisk {
		t.Errorf("stage = %s approved=%v, want risk rejection", sig.RejectionStage, sig.Approved)
	}
}

func TestRejectionIsDataNotError(t *testing.T) {
	v := NewValidator(config.Default(), "1d")

	c := springCandidate()
	c.Event.VolumeRatio = 0.8

	sig := v.Validate(c)
	if sig.Approved {
		t.Fatal("expected rejection")
	}
	// The signal still carries the full candidate identity for auditing.
	if sig.PatternID != 1 || sig.Kind != types.KindSpring || sig.CampaignID != "c-1" {
		t.Error("rejected signal must retain pattern and campaign identity")
	}
	if sig.Shares != 0 || sig.RiskPct != 0 {
		t.Error("rejected signal must not carry sizing")
	}
}
