package persistence

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Persister is the storage interface the replay runner writes through.
type Persister interface {
	// SaveCampaigns upserts campaign snapshots keyed by campaign ID.
	SaveCampaigns(ctx context.Context, campaigns []CampaignRecord) (int, error)

	// SaveSignals bulk-inserts trade signals, append-only.
	SaveSignals(ctx context.Context, signals []SignalRecord) (int, error)

	// Persist saves campaigns then signals in one workflow.
	Persist(ctx context.Context, campaigns []CampaignRecord, signals []SignalRecord) (int, int, error)

	io.Closer
}

// Client provides Postgres persistence for detection output.
type Client struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Persister = (*Client)(nil)

// NewClient creates a database client with a connection pool.
func NewClient(ctx context.Context, connStr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("Database connection pool established", "max_conns", config.MaxConns)
	return &Client{pool: pool, logger: logger}, nil
}

// Close shuts down the connection pool.
func (c *Client) Close() error {
	c.pool.Close()
	c.logger.Info("Database connection pool closed")
	return nil
}

// SaveCampaigns upserts campaign snapshots into wyckoff_campaigns. A
// campaign's row is rewritten each time its lifecycle advances, so the
// table always holds the latest state per ID.
func (c *Client) SaveCampaigns(ctx context.Context, campaigns []CampaignRecord) (int, error) {
	if len(campaigns) == 0 {
		return 0, nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	saved := 0
	for _, r := range campaigns {
		_, err := tx.Exec(ctx,
			`INSERT INTO wyckoff_campaigns
				(id, symbol, timeframe, state, pattern_count,
				 support_level, resist_level, strength_score, risk_per_share,
				 range_width_pct, risk_label, created_at, last_pattern_at,
				 expires_at, exit_price, realized_r)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			 ON CONFLICT (id) DO UPDATE SET
				state = EXCLUDED.state,
				pattern_count = EXCLUDED.pattern_count,
				support_level = EXCLUDED.support_level,
				resist_level = EXCLUDED.resist_level,
				strength_score = EXCLUDED.strength_score,
				risk_per_share = EXCLUDED.risk_per_share,
				range_width_pct = EXCLUDED.range_width_pct,
				risk_label = EXCLUDED.risk_label,
				last_pattern_at = EXCLUDED.last_pattern_at,
				expires_at = EXCLUDED.expires_at,
				exit_price = EXCLUDED.exit_price,
				realized_r = EXCLUDED.realized_r`,
			r.ID, r.Symbol, r.Timeframe, r.State, r.PatternCount,
			r.SupportLevel, r.ResistLevel, r.StrengthScore, r.RiskPerShare,
			r.RangeWidthPct, r.RiskLabel, r.CreatedAt, r.LastPatternAt,
			r.ExpiresAt, r.ExitPrice, r.RealizedR,
		)
		if err != nil {
			return 0, fmt.Errorf("upserting campaign %s: %w", r.ID, err)
		}
		saved++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing campaigns transaction: %w", err)
	}

	c.logger.Info("Saved campaign snapshots", "count", saved)
	return saved, nil
}

// SaveSignals bulk-inserts signals into wyckoff_signals using COPY.
func (c *Client) SaveSignals(ctx context.Context, signals []SignalRecord) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows := make([][]interface{}, len(signals))
	for i, s := range signals {
		rows[i] = []interface{}{
			s.CampaignID, s.Symbol, s.Timeframe, s.PatternKind, s.Timestamp,
			s.Entry, s.Stop, s.Target, s.Confidence,
			s.RiskPct, s.RMultiple, s.Shares,
			s.Approved, s.RejectionStage, s.RejectionReason,
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"wyckoff_signals"},
		[]string{
			"campaign_id", "symbol", "timeframe", "pattern_kind", "signal_timestamp",
			"entry_price", "stop_price", "target_price", "confidence",
			"risk_pct", "r_multiple", "shares",
			"approved", "rejection_stage", "rejection_reason",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk inserting signals: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing signals transaction: %w", err)
	}

	c.logger.Info("Saved signal records", "count", copyCount)
	return int(copyCount), nil
}

// Persist saves campaign snapshots then signals. Signals carry the
// campaign ID directly, so no FK lookup pass is needed.
func (c *Client) Persist(ctx context.Context, campaigns []CampaignRecord, signals []SignalRecord) (int, int, error) {
	campaignCount, err := c.SaveCampaigns(ctx, campaigns)
	if err != nil {
		return 0, 0, fmt.Errorf("saving campaigns: %w", err)
	}

	signalCount, err := c.SaveSignals(ctx, signals)
	if err != nil {
		return campaignCount, 0, fmt.Errorf("saving signals: %w", err)
	}

	return campaignCount, signalCount, nil
}
