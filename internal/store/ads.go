package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/prospector-io/prospector/models"
)

// CreateAdCampaign persists a recommended campaign. Every campaign carries a
// source signal type; callers tag evergreen recommendations explicitly.
func (s *Store) CreateAdCampaign(ctx context.Context, c models.AdCampaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.SourceSignalType == "" {
		return "", fmt.Errorf("create campaign: source signal type is required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO ad_campaigns (id, platform_campaign_id, name, status, source_signal_type,
  opportunity_id, trend_snapshot_id, daily_budget_cents, headline, target_subreddit,
  created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW(),NOW())
`, c.ID, nullStr(c.PlatformCampaignID), c.Name, c.Status, c.SourceSignalType,
		c.OpportunityID, c.TrendSnapshotID, c.DailyBudgetCents, nullStr(c.Headline),
		nullStr(c.TargetSubreddit))
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

// GetAdCampaign loads one campaign by internal id.
func (s *Store) GetAdCampaign(ctx context.Context, id string) (models.AdCampaign, error) {
	var c models.AdCampaign
	var platformID, headline, target sql.NullString
	var opp, trend sql.NullString
	err := s.DB.QueryRowContext(ctx, `
SELECT id, platform_campaign_id, name, status, source_signal_type, opportunity_id,
  trend_snapshot_id, daily_budget_cents, headline, target_subreddit, created_at, updated_at
FROM ad_campaigns WHERE id = $1
`, id).Scan(&c.ID, &platformID, &c.Name, &c.Status, &c.SourceSignalType, &opp,
		&trend, &c.DailyBudgetCents, &headline, &target, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.AdCampaign{}, fmt.Errorf("get campaign %s: %w", id, err)
	}
	c.PlatformCampaignID = platformID.String
	c.Headline = headline.String
	c.TargetSubreddit = target.String
	if opp.Valid {
		c.OpportunityID = &opp.String
	}
	if trend.Valid {
		c.TrendSnapshotID = &trend.String
	}
	return c, nil
}

// UpdateCampaignStatus moves a campaign through its lifecycle and optionally
// records the platform-assigned id once creation succeeds.
func (s *Store) UpdateCampaignStatus(ctx context.Context, id string, status models.CampaignStatus, platformCampaignID string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE ad_campaigns
SET status = $2,
    platform_campaign_id = COALESCE(NULLIF($3,''), platform_campaign_id),
    updated_at = NOW()
WHERE id = $1
`, id, status, platformCampaignID)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %s not found", id)
	}
	return nil
}

// ActiveCampaigns returns the running campaigns, optionally filtered to one
// target subreddit. The empty string matches all targets.
func (s *Store) ActiveCampaigns(ctx context.Context, subreddit string) ([]models.AdCampaign, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, platform_campaign_id, name, status, source_signal_type, daily_budget_cents,
  target_subreddit, created_at, updated_at
FROM ad_campaigns
WHERE status = 'active' AND ($1 = '' OR target_subreddit = $1)
ORDER BY created_at DESC
`, subreddit)
	if err != nil {
		return nil, fmt.Errorf("active campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.AdCampaign
	for rows.Next() {
		var c models.AdCampaign
		var platformID, target sql.NullString
		if err := rows.Scan(&c.ID, &platformID, &c.Name, &c.Status, &c.SourceSignalType,
			&c.DailyBudgetCents, &target, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.PlatformCampaignID = platformID.String
		c.TargetSubreddit = target.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCampaignsByStatus returns campaigns in any of the given states.
func (s *Store) ListCampaignsByStatus(ctx context.Context, statuses ...models.CampaignStatus) ([]models.AdCampaign, error) {
	set := make([]string, len(statuses))
	for i, st := range statuses {
		set[i] = string(st)
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, platform_campaign_id, name, status, source_signal_type, daily_budget_cents,
  target_subreddit, created_at, updated_at
FROM ad_campaigns
WHERE status = ANY($1)
ORDER BY created_at DESC
`, pq.Array(set))
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []models.AdCampaign
	for rows.Next() {
		var c models.AdCampaign
		var platformID, target sql.NullString
		if err := rows.Scan(&c.ID, &platformID, &c.Name, &c.Status, &c.SourceSignalType,
			&c.DailyBudgetCents, &target, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.PlatformCampaignID = platformID.String
		c.TargetSubreddit = target.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertAdPerformance appends one daily metrics row. Rows are append-only:
// a re-sync of the same campaign/date adds a new row rather than mutating
// history, and readers take the latest row per date.
func (s *Store) InsertAdPerformance(ctx context.Context, p models.AdPerformance) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO ad_performance (campaign_id, date, impressions, clicks, ctr, cpc_cents,
  cpm_cents, spend_cents, conversions, conversion_value_cents, synced_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
`, p.CampaignID, p.Date, p.Impressions, p.Clicks, p.CTR, p.CPCCents,
		p.CPMCents, p.SpendCents, p.Conversions, p.ConversionValueCents)
	if err != nil {
		return fmt.Errorf("insert ad performance: %w", err)
	}
	return nil
}

// CampaignTotals aggregates lifetime performance for a campaign, latest row
// per date.
func (s *Store) CampaignTotals(ctx context.Context, campaignID string) (models.AdPerformance, error) {
	var p models.AdPerformance
	p.CampaignID = campaignID
	err := s.DB.QueryRowContext(ctx, `
SELECT COALESCE(SUM(impressions),0), COALESCE(SUM(clicks),0), COALESCE(SUM(spend_cents),0),
  COALESCE(SUM(conversions),0), COALESCE(SUM(conversion_value_cents),0)
FROM (
  SELECT DISTINCT ON (date) impressions, clicks, spend_cents, conversions, conversion_value_cents
  FROM ad_performance WHERE campaign_id = $1
  ORDER BY date, id DESC
) latest
`, campaignID).Scan(&p.Impressions, &p.Clicks, &p.SpendCents, &p.Conversions, &p.ConversionValueCents)
	if err != nil {
		return models.AdPerformance{}, fmt.Errorf("campaign totals: %w", err)
	}
	return p, nil
}

// UpsertCorrelation writes the per-campaign signal rollup keyed by campaign.
func (s *Store) UpsertCorrelation(ctx context.Context, c models.AdSignalCorrelation) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO ad_signal_correlations (campaign_id, signal_type, total_spend_cents,
  impressions, clicks, conversions, roas, rating, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
ON CONFLICT (campaign_id) DO UPDATE SET
  signal_type = EXCLUDED.signal_type,
  total_spend_cents = EXCLUDED.total_spend_cents,
  impressions = EXCLUDED.impressions,
  clicks = EXCLUDED.clicks,
  conversions = EXCLUDED.conversions,
  roas = EXCLUDED.roas,
  rating = EXCLUDED.rating,
  updated_at = NOW()
`, c.CampaignID, c.SignalType, c.TotalSpendCents, c.Impressions, c.Clicks,
		c.Conversions, c.ROAS, c.Rating)
	if err != nil {
		return fmt.Errorf("upsert correlation: %w", err)
	}
	return nil
}

// SignalTypeROAS returns mean ROAS per source signal type across all rollups,
// used to bias recommendation prompts toward historically strong signals.
func (s *Store) SignalTypeROAS(ctx context.Context) (map[string]float64, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT signal_type, AVG(roas) FROM ad_signal_correlations GROUP BY signal_type
`)
	if err != nil {
		return nil, fmt.Errorf("signal type roas: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var typ string
		var roas float64
		if err := rows.Scan(&typ, &roas); err != nil {
			return nil, fmt.Errorf("scan roas: %w", err)
		}
		out[typ] = roas
	}
	return out, rows.Err()
}

// LatestPerformanceDate returns the newest synced date for a campaign, or the
// zero time when no rows exist yet.
func (s *Store) LatestPerformanceDate(ctx context.Context, campaignID string) (time.Time, error) {
	var t sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
SELECT MAX(date) FROM ad_performance WHERE campaign_id = $1
`, campaignID).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest performance date: %w", err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}
