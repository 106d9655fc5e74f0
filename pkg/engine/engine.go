// Package engine orchestrates the bar-by-bar Wyckoff detection flow for
// one symbol+timeframe partition: volume snapshot, range and phase update,
// pattern detection, campaign bookkeeping, and signal validation.
//
// Partitions are independent; run one Engine per partition, sharing a
// campaign Book when portfolio limits should span partitions. Within a
// partition bars must arrive in strictly increasing timestamp order;
// out-of-order input is a fatal InputError and is never reordered.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marketstruct/wyckoff/pkg/campaign"
	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/levels"
	"github.com/marketstruct/wyckoff/pkg/patterns"
	"github.com/marketstruct/wyckoff/pkg/pipeline"
	"github.com/marketstruct/wyckoff/pkg/structure"
	"github.com/marketstruct/wyckoff/pkg/types"
	"github.com/marketstruct/wyckoff/pkg/volume"
)

// Metrics is the optional instrumentation hook; a nil recorder disables
// all instrumentation.
type Metrics interface {
	PatternDetected(kind string)
	SignalValidated(approved bool, stage string)
	CampaignsOpen(n int)
}

// BarResult carries everything one bar produced. Bars that detect nothing
// produce an empty result.
type BarResult struct {
	BarIndex  int
	Patterns  []types.PatternEvent
	Campaigns []*types.Campaign
	Signals   []types.TradeSignal
	Expired   []*types.Campaign
	Conflicts []*types.StateConflict
}

// boundaryShiftPct is the move in either boundary that cancels the
// current range and resets its phase.
const boundaryShiftPct = 0.03

// Engine processes one symbol+timeframe partition.
type Engine struct {
	cfg       *config.Config
	symbol    string
	timeframe string
	logger    *slog.Logger
	metrics   Metrics

	cache      *volume.Cache
	detector   *structure.Detector
	classifier *structure.Classifier
	calc       *levels.Calculator
	pats       *patterns.Detector
	validator  *pipeline.Validator
	book       *campaign.Book

	bars    []types.Bar
	rng     types.TradingRange
	haveRng bool
	// helper + primary events attached to the current range, in order
	rangeEvents []types.PatternEvent
	// emitted dedupes pattern emission across bars (kind@barIndex)
	emitted map[string]bool
	lastSOS types.PatternEvent
	haveSOS bool

	account pipeline.Account
}

// New creates an engine for one partition. The book may be shared across
// engines so portfolio limits span symbols; metrics may be nil.
func New(cfg *config.Config, symbol, timeframe string, book *campaign.Book, logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("symbol", symbol, "timeframe", timeframe)

	mode := volume.TrueVolume
	if cfg.Session.TickVolume {
		mode = volume.TickVolume
	}

	return &Engine{
		cfg:        cfg,
		symbol:     symbol,
		timeframe:  timeframe,
		logger:     logger,
		metrics:    metrics,
		cache:      volume.NewCache(cfg.VolumeWindow, mode),
		detector:   structure.NewDetector(cfg, timeframe, logger),
		classifier: structure.NewClassifier(cfg, timeframe, logger),
		calc:       levels.NewCalculator(cfg, timeframe, logger),
		pats:       patterns.NewDetector(cfg, timeframe, logger),
		validator:  pipeline.NewValidator(cfg, timeframe),
		book:       book,
		emitted:    make(map[string]bool),
		account:    pipeline.Account{Equity: 100_000},
	}
}

// SetAccount replaces the account context used by the validation
// pipeline's risk and strategy stages.
func (e *Engine) SetAccount(a pipeline.Account) {
	e.account = a
}

// Book returns the campaign book the engine writes to.
func (e *Engine) Book() *campaign.Book {
	return e.book
}

// ProcessBar applies one bar. The bar's effects commit as a unit: input
// validation happens before any state mutation, and nothing after it can
// fail, so an interrupted batch always resumes at a clean bar boundary.
func (e *Engine) ProcessBar(bar types.Bar) (*BarResult, error) {
	if err := e.validateBar(bar); err != nil {
		return nil, err
	}

	e.bars = append(e.bars, bar)
	e.cache.Append(bar)
	idx := len(e.bars) - 1
	res := &BarResult{BarIndex: idx}

	// Campaign expiration is a domain-level time comparison on the bar's
	// own clock, not a scheduler.
	res.Expired = e.book.ExpireStale(bar.Timestamp)

	e.updateRange()
	if !e.haveRng || !e.rng.Phase.Classified() {
		e.finish(res)
		return res, nil
	}

	for _, ev := range e.detectPatterns() {
		if e.metrics != nil {
			e.metrics.PatternDetected(string(ev.Kind))
		}

		// Helper events are interned for their arena ID but never routed:
		// a selling climax is a phase anchor only, and a rally with no open
		// campaign has nothing to extend.
		if ev.Kind == types.KindSellingClimax ||
			(ev.Kind == types.KindAutomaticRally && e.book.OpenCount() == 0) {
			res.Patterns = append(res.Patterns, e.book.Record(ev))
			continue
		}

		ev, snap, conflict := e.book.Apply(e.symbol, e.timeframe, ev, bar.Timestamp)
		res.Patterns = append(res.Patterns, ev)
		if conflict != nil {
			res.Conflicts = append(res.Conflicts, conflict)
			continue
		}
		if snap != nil {
			res.Campaigns = append(res.Campaigns, snap)
		}

		if sig, ok := e.validate(ev, snap, bar); ok {
			res.Signals = append(res.Signals, sig)
			if sig.Approved {
				e.book.RecordSignalRisk(sig.CampaignID, sig.RiskPct)
			}
			if e.metrics != nil {
				e.metrics.SignalValidated(sig.Approved, sig.RejectionStage)
			}
		}
	}

	e.finish(res)
	return res, nil
}

// ProcessBatch replays bars in order, stopping cleanly at a bar boundary
// on cancellation. Returned results cover every fully-committed bar.
func (e *Engine) ProcessBatch(ctx context.Context, bars []types.Bar) ([]*BarResult, error) {
	results := make([]*BarResult, 0, len(bars))
	for _, bar := range bars {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := e.ProcessBar(bar)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// validateBar rejects malformed or out-of-order bars before any mutation.
func (e *Engine) validateBar(bar types.Bar) error {
	idx := len(e.bars)
	if bar.Timestamp.IsZero() {
		return &types.InputError{BarIndex: idx, Reason: "missing timestamp"}
	}
	if n := len(e.bars); n > 0 && !bar.Timestamp.After(e.bars[n-1].Timestamp) {
		return &types.InputError{BarIndex: idx, Reason: fmt.Sprintf(
			"non-monotonic timestamp %s (previous %s)",
			bar.Timestamp.Format("2006-01-02T15:04:05Z"),
			e.bars[n-1].Timestamp.Format("2006-01-02T15:04:05Z"),
		)}
	}
	if bar.High < bar.Low || bar.Open <= 0 || bar.Close <= 0 {
		return &types.InputError{BarIndex: idx, Reason: "malformed OHLC fields"}
	}
	if bar.Volume < 0 {
		return &types.InputError{BarIndex: idx, Reason: "negative volume"}
	}
	return nil
}

// updateRange re-detects the trading range and advances its phase. Phase
// only moves forward; a material boundary shift cancels the range and
// restarts classification from scratch.
func (e *Engine) updateRange() {
	rng, ok := e.detector.Detect(e.bars, e.cache)
	if !ok {
		return
	}

	if e.haveRng && e.boundaryShifted(rng) {
		e.logger.Info("Range cancelled: boundaries shifted",
			"old_support", e.rng.Support,
			"new_support", rng.Support,
			"old_resistance", e.rng.Resistance,
			"new_resistance", rng.Resistance,
		)
		e.rangeEvents = nil
		e.haveSOS = false
		e.haveRng = false
	}

	prevPhase := types.PhaseUnclassified
	if e.haveRng {
		prevPhase = e.rng.Phase
	}

	phase, conf := e.classifier.Classify(rng, e.bars, e.cache, e.rangeEvents)
	if phase < prevPhase {
		// Phases never regress without cancellation.
		phase = prevPhase
		conf = e.rng.PhaseConfidence
	}
	rng.Phase = phase
	rng.PhaseConfidence = conf
	e.rng = rng
	e.haveRng = true
}

// boundaryShifted reports a material move in either boundary.
func (e *Engine) boundaryShifted(rng types.TradingRange) bool {
	return relDiff(rng.Support, e.rng.Support) > boundaryShiftPct ||
		relDiff(rng.Resistance, e.rng.Resistance) > boundaryShiftPct
}

// detectPatterns runs the detectors against the current range and returns
// the not-yet-emitted events in a stable order.
func (e *Engine) detectPatterns() []types.PatternEvent {
	var out []types.PatternEvent
	emit := func(ev types.PatternEvent, ok bool) bool {
		if !ok {
			return false
		}
		key := fmt.Sprintf("%s@%d", ev.Kind, ev.BarIndex)
		if e.emitted[key] {
			return false
		}
		e.emitted[key] = true
		e.rangeEvents = append(e.rangeEvents, ev)
		out = append(out, ev)
		return true
	}

	// Helper events first: they feed the next phase classification.
	sc, ok := e.pats.SellingClimax(e.rng, e.bars, e.cache)
	emit(sc, ok)
	if ok || e.lastClimax().Kind == types.KindSellingClimax {
		climax := sc
		if !ok {
			climax = e.lastClimax()
		}
		ar, arOK := e.pats.AutomaticRally(e.rng, e.bars, e.cache, climax)
		emit(ar, arOK)
	}

	spring, ok := e.pats.BestSpring(e.rng, e.bars, e.cache)
	emit(spring, ok)

	ut, ok := e.pats.Upthrust(e.rng, e.bars, e.cache)
	emit(ut, ok)

	sos, ok := e.pats.SOS(e.rng, e.bars, e.cache)
	if emit(sos, ok) {
		e.lastSOS = sos
		e.haveSOS = true
	}

	if e.haveSOS {
		lps, ok := e.pats.LPS(e.rng, e.bars, e.cache, e.lastSOS)
		emit(lps, ok)
	}
	return out
}

// lastClimax returns the selling climax attached to the current range,
// if any.
func (e *Engine) lastClimax() types.PatternEvent {
	for _, ev := range e.rangeEvents {
		if ev.Kind == types.KindSellingClimax {
			return ev
		}
	}
	return types.PatternEvent{}
}

// validate builds the pipeline candidate for a primary pattern and runs
// the five stages. Helper events produce no signals.
func (e *Engine) validate(ev types.PatternEvent, camp *types.Campaign, bar types.Bar) (types.TradeSignal, bool) {
	switch ev.Kind {
	case types.KindSpring, types.KindUpthrust, types.KindSOSBreakout, types.KindLPS:
	default:
		return types.TradeSignal{}, false
	}

	cand := &pipeline.Candidate{
		Event:    ev,
		Campaign: camp,
		Range:    e.rng,
		Creek:    e.calc.Creek(e.rng, e.bars, e.cache),
		Ice:      e.calc.Ice(e.rng, e.bars, e.cache),
		Entry:    bar.Close,
		Account:  e.accountContext(camp),
	}

	switch ev.Kind {
	case types.KindSpring:
		cand.Stop = ev.Price
		cand.Target = e.calc.Jump(e.rng)
	case types.KindSOSBreakout:
		cand.Stop = e.rng.Resistance * (1 - e.cfg.ThresholdsFor(e.timeframe).LevelTolerancePct)
		cand.Target = e.calc.Jump(e.rng)
	case types.KindLPS:
		cand.Stop = ev.Price
		cand.Target = e.calc.Jump(e.rng)
		cand.SOSVolumeRatio = e.lastSOS.VolumeRatio
	case types.KindUpthrust:
		cand.Short = true
		cand.Stop = ev.Price
		cand.Target = e.rng.Support
	}

	sig := e.validator.Validate(cand)
	sig.Symbol = e.symbol
	sig.Timeframe = e.timeframe
	return sig, true
}

// accountContext merges the caller-supplied account with the book's
// current heat so the strategy stage sees live exposure.
func (e *Engine) accountContext(camp *types.Campaign) pipeline.Account {
	a := e.account
	a.PortfolioHeatPct += e.book.PortfolioHeat()
	if camp != nil {
		a.CampaignHeatPct += e.book.CampaignHeat(camp.ID)
	}
	return a
}

func (e *Engine) finish(res *BarResult) {
	if e.metrics != nil {
		e.metrics.CampaignsOpen(e.book.OpenCount())
	}
	if len(res.Patterns) > 0 || len(res.Signals) > 0 {
		e.logger.Debug("Bar processed",
			"bar", res.BarIndex,
			"patterns", len(res.Patterns),
			"signals", len(res.Signals),
		)
	}
}

func relDiff(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	d := (a - b) / b
	if d < 0 {
		return -d
	}
	return d
}
