package campaign

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/patterns"
	"github.com/marketstruct/wyckoff/pkg/types"
)

// Book provides thread-safe management of campaign state. It owns the
// pattern event arena; campaigns reference events by arena index only.
type Book struct {
	mu        sync.RWMutex
	cfg       *config.Config
	campaigns map[string]*types.Campaign
	events    []types.PatternEvent
	heat      map[string]float64 // approved risk pct per open campaign
	logger    *slog.Logger

	startedAt time.Time
	version   string
}

// NewBook creates an empty campaign book.
func NewBook(cfg *config.Config, logger *slog.Logger, version string) *Book {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	return &Book{
		cfg:       cfg,
		campaigns: make(map[string]*types.Campaign),
		heat:      make(map[string]float64),
		logger:    logger,
		startedAt: time.Now(),
		version:   version,
	}
}

// StartedAt returns the time the book was created.
func (b *Book) StartedAt() time.Time {
	return b.startedAt
}

// Version returns the version string.
func (b *Book) Version() string {
	return b.version
}

// UptimeSeconds returns seconds since the book was created.
func (b *Book) UptimeSeconds() float64 {
	return time.Since(b.startedAt).Seconds()
}

// campaignID derives a deterministic ID so identical replays produce
// identical output.
func campaignID(symbol, timeframe string, at time.Time) string {
	key := fmt.Sprintf("%s/%s/%d", symbol, timeframe, at.UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Record interns a pattern event into the arena and returns the stored
// copy carrying its assigned arena index. Every emitted event goes through
// the arena, including helper events that never join a campaign, so event
// IDs are unique across the whole run.
func (b *Book) Record(ev types.PatternEvent) types.PatternEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recordLocked(ev)
}

func (b *Book) recordLocked(ev types.PatternEvent) types.PatternEvent {
	ev.ID = len(b.events)
	b.events = append(b.events, ev)
	return ev
}

// Apply interns the pattern into the arena and routes it: it either joins
// the single compatible open campaign, opens a new one, or is discarded
// with a StateConflict. Returns the stored event (carrying its arena ID)
// and a snapshot of the affected campaign.
//
// Conflicts are recoverable by design: the pattern is dropped, logged,
// and processing continues.
func (b *Book) Apply(symbol, timeframe string, ev types.PatternEvent, now time.Time) (types.PatternEvent, *types.Campaign, *types.StateConflict) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev = b.recordLocked(ev)

	matches := b.matchesLocked(symbol, timeframe, ev.Kind, now)
	switch len(matches) {
	case 1:
		return ev, b.addPatternLocked(matches[0], ev, now), nil
	case 0:
		if !Creates(ev.Kind) {
			conflict := &types.StateConflict{Kind: ev.Kind, Reason: "no compatible open campaign"}
			b.logger.Warn("Pattern discarded", "kind", ev.Kind, "reason", conflict.Reason)
			return ev, nil, conflict
		}
		snap, conflict := b.createLocked(symbol, timeframe, ev, now)
		return ev, snap, conflict
	default:
		conflict := &types.StateConflict{
			Kind:   ev.Kind,
			Reason: fmt.Sprintf("ambiguous match against %d open campaigns", len(matches)),
		}
		b.logger.Warn("Pattern discarded", "kind", ev.Kind, "reason", conflict.Reason)
		return ev, nil, conflict
	}
}

// matchesLocked finds open campaigns the pattern is sequence-compatible
// with. The pairing window runs from the campaign's first pattern; the
// gap bound runs from its most recent one. Must be called with b.mu held.
func (b *Book) matchesLocked(symbol, timeframe string, kind types.PatternKind, now time.Time) []*types.Campaign {
	var out []*types.Campaign
	for _, c := range b.campaigns {
		if c.State.Terminal() || c.Symbol != symbol || c.Timeframe != timeframe {
			continue
		}
		if now.Sub(c.CreatedAt) > b.cfg.CampaignWindow() {
			continue
		}
		if now.Sub(c.LastPatternAt) > b.cfg.MaxPatternGap() {
			continue
		}
		last := b.events[c.PatternIDs[len(c.PatternIDs)-1]].Kind
		if !SequenceAllows(last, kind) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// createLocked opens a new FORMING campaign, honoring the portfolio
// limits. The concurrency limit is scoped per symbol; the heat limit is
// portfolio-wide. Pattern addition to existing campaigns is never
// limit-gated; only creation is.
func (b *Book) createLocked(symbol, timeframe string, ev types.PatternEvent, now time.Time) (*types.Campaign, *types.StateConflict) {
	open := 0
	for _, c := range b.campaigns {
		if !c.State.Terminal() && c.Symbol == symbol {
			open++
		}
	}
	if open >= b.cfg.MaxConcurrentCampaigns {
		conflict := &types.StateConflict{Kind: ev.Kind, Reason: "max concurrent campaigns reached"}
		b.logger.Warn("Campaign creation refused", "kind", ev.Kind, "symbol", symbol, "open", open)
		return nil, conflict
	}
	if b.portfolioHeatLocked() >= b.cfg.MaxPortfolioHeatPct {
		conflict := &types.StateConflict{Kind: ev.Kind, Reason: "portfolio heat limit reached"}
		b.logger.Warn("Campaign creation refused", "kind", ev.Kind, "heat", b.portfolioHeatLocked())
		return nil, conflict
	}

	c := &types.Campaign{
		ID:            campaignID(symbol, timeframe, ev.Timestamp),
		Symbol:        symbol,
		Timeframe:     timeframe,
		State:         types.CampaignForming,
		PatternIDs:    []int{ev.ID},
		CreatedAt:     now,
		LastPatternAt: now,
		ExpiresAt:     now.Add(b.cfg.Expiration()),
		RiskLabel:     types.RiskModerate,
	}
	b.recomputeLocked(c)
	b.campaigns[c.ID] = c
	b.logger.Info("Campaign created",
		"campaign_id", c.ID,
		"symbol", symbol,
		"timeframe", timeframe,
		"kind", ev.Kind,
	)
	return snapshot(c), nil
}

// addPatternLocked attaches the pattern, recomputes risk metadata, and
// promotes FORMING campaigns once enough patterns have accumulated.
func (b *Book) addPatternLocked(c *types.Campaign, ev types.PatternEvent, now time.Time) *types.Campaign {
	c.PatternIDs = append(c.PatternIDs, ev.ID)
	c.LastPatternAt = now
	c.ExpiresAt = now.Add(b.cfg.Expiration())
	b.recomputeLocked(c)

	if c.State == types.CampaignForming && c.PatternCount() >= b.cfg.MinPatternsForActive {
		c.State = types.CampaignActive
		b.logger.Info("Campaign activated",
			"campaign_id", c.ID,
			"patterns", c.PatternCount(),
			"strength", c.StrengthScore,
		)
	} else {
		b.logger.Debug("Pattern added to campaign",
			"campaign_id", c.ID,
			"kind", ev.Kind,
			"patterns", c.PatternCount(),
		)
	}
	return snapshot(c)
}

// recomputeLocked refreshes the campaign's risk metadata from its pattern
// set: support from spring lows, resistance from SOS/LPS levels, strength
// from confidences, and the aggregate risk label from the volume trend.
func (b *Book) recomputeLocked(c *types.Campaign) {
	var support, resist float64
	var confSum, weightSum float64
	var lastPrice float64
	var tests []types.PatternEvent

	for _, id := range c.PatternIDs {
		ev := b.events[id]
		lastPrice = ev.Price

		w := 1.0
		switch ev.Kind {
		case types.KindSpring:
			if support == 0 || ev.Price < support {
				support = ev.Price
			}
			tests = append(tests, ev)
		case types.KindSOSBreakout, types.KindLPS:
			if ev.Price > resist {
				resist = ev.Price
			}
			if ev.Kind == types.KindLPS {
				tests = append(tests, ev)
			}
		default:
			w = 0.5
		}
		confSum += ev.Confidence * w
		weightSum += w
	}

	c.SupportLevel = support
	c.ResistLevel = resist
	if weightSum > 0 {
		c.StrengthScore = confSum / weightSum
	}
	if support > 0 && lastPrice > support {
		c.RiskPerShare = lastPrice - support
	}
	if support > 0 && resist > support {
		c.RangeWidthPct = (resist - support) / support
	}
	c.RiskLabel = patterns.RiskLabelFor(patterns.ClassifyVolumeTrend(tests))
}

// ExpireStale fails every open campaign whose expiration horizon has
// passed, returning snapshots of the failed campaigns.
func (b *Book) ExpireStale(now time.Time) []*types.Campaign {
	b.mu.Lock()
	defer b.mu.Unlock()

	var failed []*types.Campaign
	for _, c := range b.campaigns {
		if c.State.Terminal() || now.Before(c.ExpiresAt) || now.Equal(c.ExpiresAt) {
			continue
		}
		if !CanTransition(c.State, types.CampaignFailed) {
			continue
		}
		c.State = types.CampaignFailed
		delete(b.heat, c.ID)
		b.logger.Info("Campaign expired",
			"campaign_id", c.ID,
			"patterns", c.PatternCount(),
			"last_pattern_at", c.LastPatternAt,
		)
		failed = append(failed, snapshot(c))
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].ID < failed[j].ID })
	return failed
}

// Complete records the external markup-confirmation signal for an ACTIVE
// campaign, capturing the exit price and realized R-multiple.
func (b *Book) Complete(id string, exitPrice float64) (*types.Campaign, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("complete campaign %s: not found", id)
	}
	if !CanTransition(c.State, types.CampaignCompleted) {
		return nil, fmt.Errorf("complete campaign %s: illegal transition from %s", id, c.State)
	}
	c.State = types.CampaignCompleted
	c.ExitPrice = exitPrice
	if c.RiskPerShare > 0 && c.ResistLevel > 0 {
		c.RealizedR = (exitPrice - c.ResistLevel) / c.RiskPerShare
	}
	delete(b.heat, c.ID)
	b.logger.Info("Campaign completed",
		"campaign_id", c.ID,
		"exit_price", exitPrice,
		"realized_r", c.RealizedR,
	)
	return snapshot(c), nil
}

// RecordSignalRisk adds an approved signal's risk to the campaign's heat.
func (b *Book) RecordSignalRisk(campaignID string, riskPct float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.campaigns[campaignID]; ok && !c.State.Terminal() {
		b.heat[campaignID] += riskPct
	}
}

// PortfolioHeat returns the total approved risk across open campaigns.
func (b *Book) PortfolioHeat() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.portfolioHeatLocked()
}

// CampaignHeat returns the approved risk committed to one campaign.
func (b *Book) CampaignHeat(id string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.heat[id]
}

func (b *Book) portfolioHeatLocked() float64 {
	var sum float64
	for _, h := range b.heat {
		sum += h
	}
	return sum
}

// Get returns a snapshot of the campaign with the given ID, or nil.
func (b *Book) Get(id string) *types.Campaign {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.campaigns[id]
	if !ok {
		return nil
	}
	return snapshot(c)
}

// Event returns the pattern event with the given arena index.
func (b *Book) Event(id int) (types.PatternEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if id < 0 || id >= len(b.events) {
		return types.PatternEvent{}, false
	}
	return b.events[id], true
}

// List returns campaign snapshots, optionally filtered by state and
// symbol, newest first.
func (b *Book) List(stateFilter, symbolFilter string, limit int) []*types.Campaign {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]*types.Campaign, 0, len(b.campaigns))
	for _, c := range b.campaigns {
		if stateFilter != "" && string(c.State) != stateFilter {
			continue
		}
		if symbolFilter != "" && c.Symbol != symbolFilter {
			continue
		}
		result = append(result, snapshot(c))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// OpenCount returns the number of non-terminal campaigns.
func (b *Book) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.campaigns {
		if !c.State.Terminal() {
			n++
		}
	}
	return n
}

// snapshot returns a deep copy safe for callers to hold.
func snapshot(c *types.Campaign) *types.Campaign {
	cp := *c
	cp.PatternIDs = make([]int, len(c.PatternIDs))
	copy(cp.PatternIDs, c.PatternIDs)
	return &cp
}
