package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/marketstruct/wyckoff/pkg/campaign"
	"github.com/marketstruct/wyckoff/pkg/config"
	"github.com/marketstruct/wyckoff/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// newTestServer builds a mux with one active AAPL campaign (spring + SOS)
// and one forming MSFT campaign.
func newTestServer(t *testing.T) (*http.ServeMux, *campaign.Book, string) {
	t.Helper()
	cfg := config.Default()
	book := campaign.NewBook(cfg, newTestLogger(), "test")

	t0 := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	spring := types.PatternEvent{
		Kind: types.KindSpring, BarIndex: 30, Timestamp: t0,
		Price: 98, VolumeRatio: 0.4, PenetrationPct: 0.02,
		Confidence: 78, RecoveryBars: 2,
	}
	sos := types.PatternEvent{
		Kind: types.KindSOSBreakout, BarIndex: 35, Timestamp: t0.Add(5 * time.Hour),
		Price: 111.5, VolumeRatio: 2.0, Confidence: 82,
	}

	_, snap, conflict := book.Apply("AAPL", "1d", spring, t0)
	if conflict != nil {
		t.Fatalf("spring conflict: %v", conflict.Reason)
	}
	id := snap.ID
	if _, _, conflict = book.Apply("AAPL", "1d", sos, t0.Add(5*time.Hour)); conflict != nil {
		t.Fatalf("sos conflict: %v", conflict.Reason)
	}

	msft := spring
	msft.Timestamp = t0.Add(time.Hour)
	if _, _, conflict = book.Apply("MSFT", "1d", msft, t0.Add(time.Hour)); conflict != nil {
		t.Fatalf("msft conflict: %v", conflict.Reason)
	}

	mux := http.NewServeMux()
	NewServer(book, newTestLogger()).RegisterRoutes(mux)
	return mux, book, id
}

func get(t *testing.T, mux *http.ServeMux, path string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec.Code
}

func TestStatusEndpoint(t *testing.T) {
	mux, _, _ := newTestServer(t)

	var resp statusResponse
	if code := get(t, mux, "/api/v1/status", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
	if resp.Version != "test" {
		t.Errorf("version = %q, want test", resp.Version)
	}
	if resp.OpenCampaigns != 2 {
		t.Errorf("open campaigns = %d, want 2", resp.OpenCampaigns)
	}
}

func TestListCampaigns(t *testing.T) {
	mux, _, _ := newTestServer(t)

	var resp campaignListResponse
	if code := get(t, mux, "/api/v1/campaigns", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.TotalCampaigns != 2 {
		t.Fatalf("total = %d, want 2", resp.TotalCampaigns)
	}
	// Newest first: the MSFT campaign was created an hour later.
	if resp.Campaigns[0].Symbol != "MSFT" {
		t.Errorf("first campaign = %s, want MSFT (newest first)", resp.Campaigns[0].Symbol)
	}
}

func TestListCampaignsFilters(t *testing.T) {
	mux, _, _ := newTestServer(t)

	var bySymbol campaignListResponse
	get(t, mux, "/api/v1/campaigns?symbol=AAPL", &bySymbol)
	if bySymbol.TotalCampaigns != 1 || bySymbol.Campaigns[0].Symbol != "AAPL" {
		t.Errorf("symbol filter returned %d campaigns", bySymbol.TotalCampaigns)
	}

	var byState campaignListResponse
	get(t, mux, "/api/v1/campaigns?state=active", &byState)
	if byState.TotalCampaigns != 1 || byState.Campaigns[0].State != "active" {
		t.Errorf("state filter returned %d campaigns", byState.TotalCampaigns)
	}

	var limited campaignListResponse
	get(t, mux, "/api/v1/campaigns?limit=1", &limited)
	if limited.TotalCampaigns != 1 {
		t.Errorf("limit=1 returned %d campaigns", limited.TotalCampaigns)
	}
}

func TestGetCampaignDetail(t *testing.T) {
	mux, _, id := newTestServer(t)

	var resp campaignDetailResponse
	if code := get(t, mux, "/api/v1/campaigns/"+id, &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.State != "active" {
		t.Errorf("state = %s, want active", resp.State)
	}
	if resp.PatternCount != 2 || len(resp.Patterns) != 2 {
		t.Fatalf("patterns = %d/%d, want 2/2", resp.PatternCount, len(resp.Patterns))
	}
	if resp.Patterns[0].Kind != string(types.KindSpring) {
		t.Errorf("first pattern = %s, want spring", resp.Patterns[0].Kind)
	}
	if resp.SupportLevel != 98 || resp.ResistLevel != 111.5 {
		t.Errorf("levels = %f/%f, want 98/111.5", resp.SupportLevel, resp.ResistLevel)
	}
	// Open campaigns carry no exit data.
	if resp.ExitPrice != nil || resp.RealizedR != nil {
		t.Error("open campaign must not carry exit price or realized R")
	}
	if resp.CreatedAt != "2024-03-01T09:30:00Z" {
		t.Errorf("created_at = %s, want 2024-03-01T09:30:00Z", resp.CreatedAt)
	}
}

func TestGetCompletedCampaignCarriesExit(t *testing.T) {
	mux, book, id := newTestServer(t)

	if _, err := book.Complete(id, 125); err != nil {
		t.Fatalf("complete: %v", err)
	}

	var resp campaignDetailResponse
	get(t, mux, "/api/v1/campaigns/"+id, &resp)
	if resp.State != "completed" {
		t.Fatalf("state = %s, want completed", resp.State)
	}
	if resp.ExitPrice == nil || *resp.ExitPrice != 125 {
		t.Error("completed campaign must carry exit price 125")
	}
	if resp.RealizedR == nil {
		t.Error("completed campaign must carry realized R")
	}
}

func TestGetCampaignPatterns(t *testing.T) {
	mux, _, id := newTestServer(t)

	var resp patternsResponse
	if code := get(t, mux, "/api/v1/campaigns/"+id+"/patterns", &resp); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if resp.CampaignID != id {
		t.Errorf("campaign id = %s, want %s", resp.CampaignID, id)
	}
	if len(resp.Patterns) != 2 {
		t.Fatalf("patterns = %d, want 2", len(resp.Patterns))
	}
	if resp.Patterns[1].VolumeRatio != 2.0 {
		t.Errorf("sos volume ratio = %f, want 2.0", resp.Patterns[1].VolumeRatio)
	}
}

func TestGetCampaignNotFound(t *testing.T) {
	mux, _, _ := newTestServer(t)

	if code := get(t, mux, "/api/v1/campaigns/no-such-id", nil); code != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", code)
	}
	if code := get(t, mux, "/api/v1/campaigns/no-such-id/patterns", nil); code != http.StatusNotFound {
		t.Errorf("patterns status code = %d, want 404", code)
	}
}
