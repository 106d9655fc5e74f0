// Package campaign tracks multi-pattern position-building sequences. The
// Book is the central in-memory store: it creates campaigns from
// qualifying patterns, advances them through the FORMING -> ACTIVE ->
// COMPLETED/FAILED lifecycle, expires stale ones, and serves snapshot
// reads for the monitoring and persistence consumers.
package campaign

import "github.com/marketstruct/wyckoff/pkg/types"

// allowedTransitions is the exhaustive, terminal-safe state table.
var allowedTransitions = map[types.CampaignState][]types.CampaignState{
	types.CampaignForming:   {types.CampaignActive, types.CampaignFailed},
	types.CampaignActive:    {types.CampaignCompleted, types.CampaignFailed},
	types.CampaignCompleted: {},
	types.CampaignFailed:    {},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to types.CampaignState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// allowedSequences maps the last pattern kind in a campaign to the kinds
// that may follow it.
var allowedSequences = map[types.PatternKind][]types.PatternKind{
	types.KindSpring:         {types.KindSpring, types.KindAutomaticRally, types.KindSOSBreakout},
	types.KindAutomaticRally: {types.KindSOSBreakout, types.KindLPS},
	types.KindSOSBreakout:    {types.KindSOSBreakout, types.KindLPS},
	types.KindLPS:            {types.KindLPS},
}

// SequenceAllows reports whether next may follow last inside one campaign.
func SequenceAllows(last, next types.PatternKind) bool {
	for _, k := range allowedSequences[last] {
		if k == next {
			return true
		}
	}
	return false
}

// Creates reports whether a pattern kind can open a new campaign.
func Creates(kind types.PatternKind) bool {
	return kind == types.KindSpring || kind == types.KindSOSBreakout
}
