// Package api provides read-only HTTP handlers for campaign monitoring.
//
// Endpoints:
//
//	GET /api/v1/status                            - Service health check
//	GET /api/v1/campaigns                         - List campaigns (with optional filters)
//	GET /api/v1/campaigns/{campaign_id}           - Campaign detail with pattern events
//	GET /api/v1/campaigns/{campaign_id}/patterns  - Pattern events only
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/marketstruct/wyckoff/pkg/campaign"
	"github.com/marketstruct/wyckoff/pkg/types"
)

// Server holds dependencies for the API handlers. All endpoints read
// book snapshots; nothing here mutates engine state.
type Server struct {
	Book   *campaign.Book
	Logger *slog.Logger
}

// NewServer creates a new API server.
func NewServer(book *campaign.Book, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Book:   book,
		Logger: logger,
	}
}

// RegisterRoutes registers all API routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.HandleStatus)
	mux.HandleFunc("GET /api/v1/campaigns", s.HandleListCampaigns)
	// Go 1.22+ pattern matching with path parameters
	mux.HandleFunc("GET /api/v1/campaigns/{campaign_id}/patterns", s.HandleGetCampaignPatterns)
	mux.HandleFunc("GET /api/v1/campaigns/{campaign_id}", s.HandleGetCampaign)
}

// ---------------------------------------------------------------------------
// Response types
// ---------------------------------------------------------------------------

type statusResponse struct {
	Status           string  `json:"status"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
	Version          string  `json:"version"`
	OpenCampaigns    int     `json:"open_campaigns"`
	PortfolioHeatPct float64 `json:"portfolio_heat_pct"`
}

type campaignListItem struct {
	CampaignID    string  `json:"campaign_id"`
	Symbol        string  `json:"symbol"`
	Timeframe     string  `json:"timeframe"`
	State         string  `json:"state"`
	PatternCount  int     `json:"pattern_count"`
	SupportLevel  float64 `json:"support_level"`
	ResistLevel   float64 `json:"resist_level"`
	StrengthScore float64 `json:"strength_score"`
	RiskLabel     string  `json:"risk_label"`
	CreatedAt     string  `json:"created_at"`
	LastPatternAt string  `json:"last_pattern_at"`
	ExpiresAt     string  `json:"expires_at"`
}

type campaignListResponse struct {
	Campaigns      []campaignListItem `json:"campaigns"`
	TotalCampaigns int                `json:"total_campaigns"`
}

type patternItem struct {
	PatternID      int     `json:"pattern_id"`
	Kind           string  `json:"kind"`
	BarIndex       int     `json:"bar_index"`
	Timestamp      string  `json:"timestamp"`
	Price          float64 `json:"price"`
	VolumeRatio    float64 `json:"volume_ratio"`
	PenetrationPct float64 `json:"penetration_pct"`
	Confidence     float64 `json:"confidence"`
	RecoveryBars   int     `json:"recovery_bars"`
}

type campaignDetailResponse struct {
	CampaignID    string        `json:"campaign_id"`
	Symbol        string        `json:"symbol"`
	Timeframe     string        `json:"timeframe"`
	State         string        `json:"state"`
	PatternCount  int           `json:"pattern_count"`
	SupportLevel  float64       `json:"support_level"`
	ResistLevel   float64       `json:"resist_level"`
	StrengthScore float64       `json:"strength_score"`
	RiskPerShare  float64       `json:"risk_per_share"`
	RangeWidthPct float64       `json:"range_width_pct"`
	RiskLabel     string        `json:"risk_label"`
	CreatedAt     string        `json:"created_at"`
	LastPatternAt string        `json:"last_pattern_at"`
	ExpiresAt     string        `json:"expires_at"`
	ExitPrice     *float64      `json:"exit_price"`
	RealizedR     *float64      `json:"realized_r"`
	Patterns      []patternItem `json:"patterns"`
}

type patternsResponse struct {
	CampaignID string        `json:"campaign_id"`
	Patterns   []patternItem `json:"patterns"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// HandleStatus returns overall service health.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:           "healthy",
		UptimeSeconds:    s.Book.UptimeSeconds(),
		Version:          s.Book.Version(),
		OpenCampaigns:    s.Book.OpenCount(),
		PortfolioHeatPct: s.Book.PortfolioHeat(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListCampaigns returns campaigns newest-first, optionally filtered
// by state and symbol.
func (s *Server) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	stateFilter := q.Get("state")
	symbolFilter := q.Get("symbol")
	limit := 100
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	campaigns := s.Book.List(stateFilter, symbolFilter, limit)
	items := make([]campaignListItem, len(campaigns))
	for i, c := range campaigns {
		items[i] = buildCampaignListItem(c)
	}

	writeJSON(w, http.StatusOK, campaignListResponse{
		Campaigns:      items,
		TotalCampaigns: len(items),
	})
}

// HandleGetCampaign returns one campaign with its resolved pattern events.
func (s *Server) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("campaign_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "campaign_id is required"})
		return
	}

	c := s.Book.Get(id)
	if c == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "campaign not found"})
		return
	}

	resp := campaignDetailResponse{
		CampaignID:    c.ID,
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
		CreatedAt:     formatTime(c.CreatedAt),
		LastPatternAt: formatTime(c.LastPatternAt),
		ExpiresAt:     formatTime(c.ExpiresAt),
		Patterns:      s.resolvePatterns(c),
	}
	if c.State == types.CampaignCompleted {
		exit, realized := c.ExitPrice, c.RealizedR
		resp.ExitPrice = &exit
		resp.RealizedR = &realized
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleGetCampaignPatterns returns only the pattern events of a campaign.
func (s *Server) HandleGetCampaignPatterns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("campaign_id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "campaign_id is required"})
		return
	}

	c := s.Book.Get(id)
	if c == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "campaign not found"})
		return
	}

	writeJSON(w, http.StatusOK, patternsResponse{
		CampaignID: c.ID,
		Patterns:   s.resolvePatterns(c),
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) resolvePatterns(c *types.Campaign) []patternItem {
	items := make([]patternItem, 0, len(c.PatternIDs))
	for _, pid := range c.PatternIDs {
		ev, ok := s.Book.Event(pid)
		if !ok {
			s.Logger.Warn("Campaign references unknown pattern event",
				"campaign_id", c.ID, "pattern_id", pid)
			continue
		}
		items = append(items, patternItem{
			PatternID:      ev.ID,
			Kind:           string(ev.Kind),
			BarIndex:       ev.BarIndex,
			Timestamp:      formatTime(ev.Timestamp),
			Price:          ev.Price,
			VolumeRatio:    ev.VolumeRatio,
			PenetrationPct: ev.PenetrationPct,
			Confidence:     ev.Confidence,
			RecoveryBars:   ev.RecoveryBars,
		})
	}
	return items
}

func buildCampaignListItem(c *types.Campaign) campaignListItem {
	return campaignListItem{
		CampaignID:    c.ID,
		Symbol:        c.Symbol,
		Timeframe:     c.Timeframe,
		State:         string(c.State),
		PatternCount:  c.PatternCount(),
		SupportLevel:  c.SupportLevel,
		ResistLevel:   c.ResistLevel,
		StrengthScore: c.StrengthScore,
		RiskLabel:     string(c.RiskLabel),
		CreatedAt:     formatTime(c.CreatedAt),
		LastPatternAt: formatTime(c.LastPatternAt),
		ExpiresAt:     formatTime(c.ExpiresAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
